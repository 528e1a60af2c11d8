// Package devices implements the Device Registry: the hot-reloadable,
// read-mostly table of per-extension identity and personality used by the
// SIP core, the conversation loop, and the HTTP control API.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/shaike1/claude-phone/internal/database"
	"github.com/shaike1/claude-phone/internal/database/models"
)

const (
	// DefaultExtension and DefaultName identify the reserved fallback
	// device synthesized when no configured device is marked default.
	DefaultExtension = "0"
	DefaultName      = "default"
)

// deviceTable is the immutable snapshot swapped in on Reload.
type deviceTable struct {
	byExtension map[string]models.Device
	byNameLower map[string]models.Device
	defaultDev  models.Device
	all         []models.Device
}

// Registry holds the hot-reloadable device table. Reads never block;
// Reload swaps in a freshly built table behind an atomic pointer.
type Registry struct {
	repo   database.DeviceRepository
	logger *slog.Logger
	table  atomic.Pointer[deviceTable]
}

// New creates a Registry backed by repo and performs an initial load.
func New(ctx context.Context, repo database.DeviceRepository, logger *slog.Logger) (*Registry, error) {
	r := &Registry{repo: repo, logger: logger.With("subsystem", "devices")}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the in-memory table from the repository and swaps it in
// atomically. Malformed entries are logged and skipped; Reload never fails
// startup for that reason.
func (r *Registry) Reload(ctx context.Context) error {
	rows, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	t := &deviceTable{
		byExtension: make(map[string]models.Device, len(rows)),
		byNameLower: make(map[string]models.Device, len(rows)),
	}

	var defaultFound bool
	for _, d := range rows {
		if d.Extension == "" || d.Name == "" {
			r.logger.Warn("skipping malformed device", "id", d.ID)
			continue
		}
		t.byExtension[d.Extension] = d
		t.byNameLower[strings.ToLower(d.Name)] = d
		t.all = append(t.all, d)
		if d.IsDefault {
			t.defaultDev = d
			defaultFound = true
		}
	}

	if !defaultFound {
		t.defaultDev = models.Device{
			Extension: DefaultExtension,
			Name:      DefaultName,
			IsDefault: true,
			Language:  "en",
		}
	}

	r.table.Store(t)
	r.logger.Info("device registry reloaded", "count", len(t.all))
	return nil
}

// Get resolves identifier against extension first, then case-insensitive
// name. Falls back to the reserved default device when nothing matches.
func (r *Registry) Get(identifier string) models.Device {
	t := r.table.Load()
	if d, ok := t.byExtension[identifier]; ok {
		return d
	}
	if d, ok := t.byNameLower[strings.ToLower(identifier)]; ok {
		return d
	}
	return t.defaultDev
}

// Lookup is like Get but reports whether a non-default match was found.
func (r *Registry) Lookup(identifier string) (models.Device, bool) {
	t := r.table.Load()
	if d, ok := t.byExtension[identifier]; ok {
		return d, true
	}
	if d, ok := t.byNameLower[strings.ToLower(identifier)]; ok {
		return d, true
	}
	return models.Device{}, false
}

// All returns every configured device (not including the synthesized
// default unless it was explicitly configured).
func (r *Registry) All() []models.Device {
	t := r.table.Load()
	out := make([]models.Device, len(t.all))
	copy(out, t.all)
	return out
}

// Registrable returns devices with both SIPAuthID and SIPPassword set.
func (r *Registry) Registrable() []models.Device {
	var out []models.Device
	for _, d := range r.All() {
		if d.Registrable() {
			out = append(out, d)
		}
	}
	return out
}
