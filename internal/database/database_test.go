package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaike1/claude-phone/internal/database/models"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, "devices.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	for _, table := range []string{"schema_migrations", "devices"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	var migrationCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationCount); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if migrationCount != 1 {
		t.Errorf("migration count = %d, want 1", migrationCount)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestDeviceRepository(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := NewDeviceRepository(db)

	d := &models.Device{
		Extension:   "1001",
		Name:        "Front Desk",
		SIPAuthID:   "1001",
		SIPPassword: "encrypted-placeholder",
		Voice:       "alloy",
		Language:    "en",
		Greeting:    "Thanks for calling.",
	}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if d.ID == 0 {
		t.Fatal("Create() did not assign an ID")
	}

	got, err := repo.GetByExtension(ctx, "1001")
	if err != nil {
		t.Fatalf("GetByExtension() error: %v", err)
	}
	if got == nil || got.Name != "Front Desk" {
		t.Fatalf("GetByExtension() = %+v, want Front Desk", got)
	}

	byName, err := repo.GetByName(ctx, "front desk")
	if err != nil {
		t.Fatalf("GetByName() error: %v", err)
	}
	if byName == nil || byName.ID != d.ID {
		t.Fatalf("GetByName() case-insensitive lookup failed: %+v", byName)
	}

	d.Voice = "verse"
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	updated, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if updated.Voice != "verse" {
		t.Errorf("Voice = %q, want verse", updated.Voice)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() returned %d devices, want 1", len(all))
	}

	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	gone, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() after delete error: %v", err)
	}
	if gone != nil {
		t.Error("device still present after Delete()")
	}
}

func TestEncryptor(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}

	plaintext := "my-secret-sip-password-123!"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if ciphertext == plaintext {
		t.Error("ciphertext should differ from plaintext")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptorInvalidKeyLength(t *testing.T) {
	_, err := NewEncryptor([]byte("short"))
	if err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestEncryptedDeviceRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}

	ctx := context.Background()
	repo := NewEncryptedDeviceRepository(db, enc)

	d := &models.Device{
		Extension:   "1002",
		Name:        "Cephanie",
		SIPAuthID:   "1002",
		SIPPassword: "s3cret-plaintext",
		Language:    "he",
	}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if d.SIPPassword != "s3cret-plaintext" {
		t.Error("Create() must not mutate the caller's plaintext password")
	}

	// The raw table must hold ciphertext, never the plaintext password.
	plain := NewDeviceRepository(db)
	raw, err := plain.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("raw GetByID() error: %v", err)
	}
	if raw.SIPPassword == "s3cret-plaintext" {
		t.Error("password stored in plaintext")
	}

	got, err := repo.GetByExtension(ctx, "1002")
	if err != nil {
		t.Fatalf("GetByExtension() error: %v", err)
	}
	if got.SIPPassword != "s3cret-plaintext" {
		t.Errorf("decrypted password = %q, want s3cret-plaintext", got.SIPPassword)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 1 || all[0].SIPPassword != "s3cret-plaintext" {
		t.Errorf("List() did not decrypt password: %+v", all)
	}
}
