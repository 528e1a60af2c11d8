package database

import (
	"context"

	"github.com/shaike1/claude-phone/internal/database/models"
)

// DeviceRepository manages the durable device table backing the Device
// Registry. Lookup by extension and by case-insensitive name both go
// through this interface; the registry itself keeps the hot in-memory
// double-buffered table built from List().
type DeviceRepository interface {
	Create(ctx context.Context, d *models.Device) error
	GetByID(ctx context.Context, id int64) (*models.Device, error)
	GetByExtension(ctx context.Context, extension string) (*models.Device, error)
	GetByName(ctx context.Context, name string) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
	Update(ctx context.Context, d *models.Device) error
	Delete(ctx context.Context, id int64) error
}
