package persistence

import (
	"context"
	"errors"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWarehouseRepository implements WarehouseRepository using GORM
type GormWarehouseRepository struct {
	db *gorm.DB
}

// NewGormWarehouseRepository creates a new GormWarehouseRepository
func NewGormWarehouseRepository(db *gorm.DB) *GormWarehouseRepository {
	return &GormWarehouseRepository{db: db}
}

var _ inventory.WarehouseRepository = (*GormWarehouseRepository)(nil)

// GetOrCreateMain returns the distributor's MAIN warehouse, creating it on
// first use. The insert uses ON CONFLICT DO NOTHING against the
// (distributor, type) unique index so concurrent first calls converge on a
// single row.
func (r *GormWarehouseRepository) GetOrCreateMain(ctx context.Context, distributorID uuid.UUID) (*inventory.Warehouse, error) {
	existing, err := r.findMain(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	warehouse, err := inventory.NewDefaultWarehouse(distributorID)
	if err != nil {
		return nil, err
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(warehouse)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		return warehouse, nil
	}

	// Lost the race: another caller inserted it first
	return r.findMain(ctx, distributorID)
}

func (r *GormWarehouseRepository) findMain(ctx context.Context, distributorID uuid.UUID) (*inventory.Warehouse, error) {
	var warehouse inventory.Warehouse
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND type = ?", distributorID, inventory.WarehouseTypeMain).
		First(&warehouse).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

// FindByID finds a warehouse by ID scoped to the distributor
func (r *GormWarehouseRepository) FindByID(ctx context.Context, distributorID, id uuid.UUID) (*inventory.Warehouse, error) {
	var warehouse inventory.Warehouse
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND id = ?", distributorID, id).
		First(&warehouse).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

// FindByCode finds a warehouse by code scoped to the distributor
func (r *GormWarehouseRepository) FindByCode(ctx context.Context, distributorID uuid.UUID, code string) (*inventory.Warehouse, error) {
	var warehouse inventory.Warehouse
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND code = ?", distributorID, code).
		First(&warehouse).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

// Save persists changes to a warehouse
func (r *GormWarehouseRepository) Save(ctx context.Context, warehouse *inventory.Warehouse) error {
	return r.db.WithContext(ctx).Save(warehouse).Error
}
