package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shaike1/claude-phone/internal/database/models"
)

// deviceRepo implements DeviceRepository against the devices table.
type deviceRepo struct {
	db *DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *DB) DeviceRepository {
	return &deviceRepo{db: db}
}

// encryptedDeviceRepo wraps a DeviceRepository, encrypting SIPPassword at
// rest and decrypting it on every read. Used whenever an encryption key is
// configured (see config.Config.EncryptionKey).
type encryptedDeviceRepo struct {
	inner DeviceRepository
	enc   *Encryptor
}

// NewEncryptedDeviceRepository wraps repo so that device SIP passwords are
// encrypted before being persisted and decrypted transparently on every
// read path (GetByID, GetByExtension, GetByName, List).
func NewEncryptedDeviceRepository(db *DB, enc *Encryptor) DeviceRepository {
	return &encryptedDeviceRepo{inner: NewDeviceRepository(db), enc: enc}
}

func (r *encryptedDeviceRepo) Create(ctx context.Context, d *models.Device) error {
	plain := d.SIPPassword
	encrypted, err := r.enc.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypting sip password: %w", err)
	}
	d.SIPPassword = encrypted
	err = r.inner.Create(ctx, d)
	d.SIPPassword = plain
	return err
}

func (r *encryptedDeviceRepo) Update(ctx context.Context, d *models.Device) error {
	plain := d.SIPPassword
	encrypted, err := r.enc.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypting sip password: %w", err)
	}
	d.SIPPassword = encrypted
	err = r.inner.Update(ctx, d)
	d.SIPPassword = plain
	return err
}

func (r *encryptedDeviceRepo) Delete(ctx context.Context, id int64) error {
	return r.inner.Delete(ctx, id)
}

func (r *encryptedDeviceRepo) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	return r.decryptOne(r.inner.GetByID(ctx, id))
}

func (r *encryptedDeviceRepo) GetByExtension(ctx context.Context, extension string) (*models.Device, error) {
	return r.decryptOne(r.inner.GetByExtension(ctx, extension))
}

func (r *encryptedDeviceRepo) GetByName(ctx context.Context, name string) (*models.Device, error) {
	return r.decryptOne(r.inner.GetByName(ctx, name))
}

func (r *encryptedDeviceRepo) List(ctx context.Context) ([]models.Device, error) {
	rows, err := r.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].SIPPassword == "" {
			continue
		}
		plain, err := r.enc.Decrypt(rows[i].SIPPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypting sip password for device %d: %w", rows[i].ID, err)
		}
		rows[i].SIPPassword = plain
	}
	return rows, nil
}

func (r *encryptedDeviceRepo) decryptOne(d *models.Device, err error) (*models.Device, error) {
	if err != nil || d == nil || d.SIPPassword == "" {
		return d, err
	}
	plain, decErr := r.enc.Decrypt(d.SIPPassword)
	if decErr != nil {
		return nil, fmt.Errorf("decrypting sip password for device %d: %w", d.ID, decErr)
	}
	d.SIPPassword = plain
	return d, nil
}

// Create inserts a new device.
func (r *deviceRepo) Create(ctx context.Context, d *models.Device) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (extension, name, is_default, sip_auth_id, sip_password,
		 voice, language, greeting, thinking_phrase, system_prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		d.Extension, d.Name, d.IsDefault, d.SIPAuthID, d.SIPPassword,
		d.Voice, d.Language, d.Greeting, d.ThinkingPhrase, d.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// GetByID returns a device by ID.
func (r *deviceRepo) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, extension, name, is_default, sip_auth_id, sip_password,
		 voice, language, greeting, thinking_phrase, system_prompt, created_at, updated_at
		 FROM devices WHERE id = ?`, id,
	))
}

// GetByExtension returns a device by its extension number.
func (r *deviceRepo) GetByExtension(ctx context.Context, extension string) (*models.Device, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, extension, name, is_default, sip_auth_id, sip_password,
		 voice, language, greeting, thinking_phrase, system_prompt, created_at, updated_at
		 FROM devices WHERE extension = ?`, extension,
	))
}

// GetByName returns a device by name, case-insensitively.
func (r *deviceRepo) GetByName(ctx context.Context, name string) (*models.Device, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, extension, name, is_default, sip_auth_id, sip_password,
		 voice, language, greeting, thinking_phrase, system_prompt, created_at, updated_at
		 FROM devices WHERE name = ? COLLATE NOCASE`, name,
	))
}

// List returns all devices ordered by extension.
func (r *deviceRepo) List(ctx context.Context) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, extension, name, is_default, sip_auth_id, sip_password,
		 voice, language, greeting, thinking_phrase, system_prompt, created_at, updated_at
		 FROM devices ORDER BY extension`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.Extension, &d.Name, &d.IsDefault, &d.SIPAuthID,
			&d.SIPPassword, &d.Voice, &d.Language, &d.Greeting, &d.ThinkingPhrase,
			&d.SystemPrompt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Update modifies an existing device.
func (r *deviceRepo) Update(ctx context.Context, d *models.Device) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET extension = ?, name = ?, is_default = ?, sip_auth_id = ?,
		 sip_password = ?, voice = ?, language = ?, greeting = ?, thinking_phrase = ?,
		 system_prompt = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		d.Extension, d.Name, d.IsDefault, d.SIPAuthID, d.SIPPassword,
		d.Voice, d.Language, d.Greeting, d.ThinkingPhrase, d.SystemPrompt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return nil
}

// Delete removes a device by ID.
func (r *deviceRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return nil
}

func (r *deviceRepo) scanOne(row *sql.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(&d.ID, &d.Extension, &d.Name, &d.IsDefault, &d.SIPAuthID,
		&d.SIPPassword, &d.Voice, &d.Language, &d.Greeting, &d.ThinkingPhrase,
		&d.SystemPrompt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	return &d, nil
}
