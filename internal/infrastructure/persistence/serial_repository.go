package persistence

import (
	"context"
	"errors"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSerialRepository implements SerialRepository using GORM
type GormSerialRepository struct {
	db *gorm.DB
}

// NewGormSerialRepository creates a new GormSerialRepository
func NewGormSerialRepository(db *gorm.DB) *GormSerialRepository {
	return &GormSerialRepository{db: db}
}

var _ inventory.SerialRepository = (*GormSerialRepository)(nil)

// Create persists a new serialized unit
func (r *GormSerialRepository) Create(ctx context.Context, serial *inventory.InventorySerial) error {
	return r.db.WithContext(ctx).Create(serial).Error
}

// CreateBatch persists serialized units in one insert
func (r *GormSerialRepository) CreateBatch(ctx context.Context, serials []*inventory.InventorySerial) error {
	if len(serials) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(serials).Error
}

// FindByID finds a serial by ID scoped to the distributor
func (r *GormSerialRepository) FindByID(ctx context.Context, distributorID, id uuid.UUID) (*inventory.InventorySerial, error) {
	var serial inventory.InventorySerial
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND id = ?", distributorID, id).
		First(&serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &serial, nil
}

// FindBySerialNumber finds a serial by its business identity
func (r *GormSerialRepository) FindBySerialNumber(ctx context.Context, distributorID, itemID uuid.UUID, serialNumber string) (*inventory.InventorySerial, error) {
	var serial inventory.InventorySerial
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND item_id = ? AND serial_number = ?", distributorID, itemID, serialNumber).
		First(&serial).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &serial, nil
}

// FindByLot returns all serials belonging to a lot
func (r *GormSerialRepository) FindByLot(ctx context.Context, distributorID, lotID uuid.UUID) ([]*inventory.InventorySerial, error) {
	var serials []*inventory.InventorySerial
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND lot_id = ?", distributorID, lotID).
		Order("serial_number ASC").
		Find(&serials).Error
	if err != nil {
		return nil, err
	}
	return serials, nil
}

// CountByStatus counts the serials of an item in one status
func (r *GormSerialRepository) CountByStatus(ctx context.Context, distributorID, itemID uuid.UUID, status inventory.SerialStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&inventory.InventorySerial{}).
		Where("distributor_id = ? AND item_id = ? AND status = ?", distributorID, itemID, status).
		Count(&count).Error
	return count, err
}

// SaveWithLock persists the serial with an optimistic lock. The domain bumps
// the version before saving, so the row must still hold version-1; zero rows
// affected means another writer got there first.
func (r *GormSerialRepository) SaveWithLock(ctx context.Context, serial *inventory.InventorySerial) error {
	expectedVersion := serial.Version - 1
	result := r.db.WithContext(ctx).
		Model(&inventory.InventorySerial{}).
		Where("id = ? AND version = ?", serial.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":             serial.Status,
			"current_owner_type": serial.CurrentOwnerType,
			"current_owner_id":   serial.CurrentOwnerID,
			"sold_date":          serial.SoldDate,
			"billing_ref":        serial.BillingRef,
			"customer_ref":       serial.CustomerRef,
			"warehouse_id":       serial.WarehouseID,
			"version":            serial.Version,
			"updated_at":         serial.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
