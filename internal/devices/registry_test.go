package devices

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shaike1/claude-phone/internal/database/models"
)

// fakeRepo is an in-memory DeviceRepository stand-in for registry tests.
type fakeRepo struct {
	rows []models.Device
}

func (f *fakeRepo) Create(ctx context.Context, d *models.Device) error { return nil }
func (f *fakeRepo) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	return nil, nil
}
func (f *fakeRepo) GetByExtension(ctx context.Context, ext string) (*models.Device, error) {
	return nil, nil
}
func (f *fakeRepo) GetByName(ctx context.Context, name string) (*models.Device, error) {
	return nil, nil
}
func (f *fakeRepo) List(ctx context.Context) ([]models.Device, error) { return f.rows, nil }
func (f *fakeRepo) Update(ctx context.Context, d *models.Device) error { return nil }
func (f *fakeRepo) Delete(ctx context.Context, id int64) error        { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryLookup(t *testing.T) {
	repo := &fakeRepo{rows: []models.Device{
		{ID: 1, Extension: "1001", Name: "Front Desk", SIPAuthID: "1001", SIPPassword: "secret", Language: "en"},
	}}
	reg, err := New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if d := reg.Get("1001"); d.Name != "Front Desk" {
		t.Errorf("Get(1001) = %+v", d)
	}
	if d := reg.Get("front desk"); d.Extension != "1001" {
		t.Errorf("Get(front desk) = %+v", d)
	}
	if d := reg.Get("nonexistent"); d.Name != DefaultName {
		t.Errorf("Get(nonexistent) = %+v, want synthesized default", d)
	}
}

func TestRegistrySynthesizesDefault(t *testing.T) {
	repo := &fakeRepo{}
	reg, err := New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	d := reg.Get("anything")
	if d.Extension != DefaultExtension || d.Name != DefaultName {
		t.Errorf("synthesized default = %+v", d)
	}
}

func TestRegistryHonorsConfiguredDefault(t *testing.T) {
	repo := &fakeRepo{rows: []models.Device{
		{ID: 1, Extension: "1001", Name: "Alice"},
		{ID: 2, Extension: "1002", Name: "Bot", IsDefault: true},
	}}
	reg, err := New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if d := reg.Get("no-match"); d.Name != "Bot" {
		t.Errorf("Get(no-match) = %+v, want configured default Bot", d)
	}
}

func TestRegistryRegistrable(t *testing.T) {
	repo := &fakeRepo{rows: []models.Device{
		{ID: 1, Extension: "1001", Name: "Has Creds", SIPAuthID: "a", SIPPassword: "b"},
		{ID: 2, Extension: "1002", Name: "No Creds"},
	}}
	reg, err := New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	r := reg.Registrable()
	if len(r) != 1 || r[0].Name != "Has Creds" {
		t.Errorf("Registrable() = %+v", r)
	}
}

func TestRegistrySkipsMalformed(t *testing.T) {
	repo := &fakeRepo{rows: []models.Device{
		{ID: 1, Extension: "", Name: "Bad"},
		{ID: 2, Extension: "1001", Name: "Good"},
	}}
	reg, err := New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(reg.All()) != 1 {
		t.Errorf("All() = %+v, want 1 entry", reg.All())
	}
}

func TestRegistryReload(t *testing.T) {
	repo := &fakeRepo{rows: []models.Device{{ID: 1, Extension: "1001", Name: "Alice"}}}
	reg, err := New(context.Background(), repo, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	repo.rows = append(repo.rows, models.Device{ID: 2, Extension: "1002", Name: "Bob"})
	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if len(reg.All()) != 2 {
		t.Errorf("All() after reload = %+v, want 2 entries", reg.All())
	}
}
