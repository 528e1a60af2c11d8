package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store writes synthesized audio under a directory and serves it back by
// URL, reaping old files on a ticker.
type Store struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if necessary.
// baseURL is the control-plane address the media engine fetches audio
// from (e.g. "http://10.0.0.5:8080"); Save prefixes it onto every
// returned URL so the engine receives an absolute address.
func NewStore(dir, baseURL string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("subsystem", "audiostore"),
	}, nil
}

// Save writes audio under a random filename with the given extension and
// returns the URL serving it back.
func (s *Store) Save(audio []byte, ext string) (string, error) {
	name := uuid.NewString() + "." + ext
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio, 0640); err != nil {
		return "", fmt.Errorf("writing audio file: %w", err)
	}
	return s.baseURL + "/audio-files/" + name, nil
}

// Dir returns the backing directory, for static file serving.
func (s *Store) Dir() string { return s.dir }

// StartSweeper runs a background goroutine that deletes files older than
// maxAge every interval, stopping when ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, maxAge, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(maxAge)
			}
		}
	}()
}

func (s *Store) sweep(maxAge time.Duration) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audio sweep: reading directory failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("audio sweep: failed to remove file", "name", entry.Name(), "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("audio sweep complete", "removed", removed)
	}
}
