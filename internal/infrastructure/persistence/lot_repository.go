package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLotRepository implements LotRepository using GORM
type GormLotRepository struct {
	db *gorm.DB
}

// NewGormLotRepository creates a new GormLotRepository
func NewGormLotRepository(db *gorm.DB) *GormLotRepository {
	return &GormLotRepository{db: db}
}

var _ inventory.LotRepository = (*GormLotRepository)(nil)

// Create persists a new lot
func (r *GormLotRepository) Create(ctx context.Context, lot *inventory.InventoryLot) error {
	return r.db.WithContext(ctx).Create(lot).Error
}

// FindByID finds a lot by ID scoped to the distributor
func (r *GormLotRepository) FindByID(ctx context.Context, distributorID, id uuid.UUID) (*inventory.InventoryLot, error) {
	var lot inventory.InventoryLot
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND id = ?", distributorID, id).
		First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// FindByLotNumber finds a lot by its business identity
func (r *GormLotRepository) FindByLotNumber(ctx context.Context, distributorID, itemID uuid.UUID, lotNumber string) (*inventory.InventoryLot, error) {
	var lot inventory.InventoryLot
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND item_id = ? AND lot_number = ?", distributorID, itemID, lotNumber).
		First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// FindByItem returns all lots of an item in a warehouse
func (r *GormLotRepository) FindByItem(ctx context.Context, distributorID, itemID, warehouseID uuid.UUID) ([]*inventory.InventoryLot, error) {
	var lots []*inventory.InventoryLot
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND item_id = ? AND warehouse_id = ?", distributorID, itemID, warehouseID).
		Order("expiry_date ASC NULLS LAST, created_at ASC").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// FindByItemForUpdate is FindByItem with SELECT ... FOR UPDATE row locks.
// Only meaningful inside a transaction.
func (r *GormLotRepository) FindByItemForUpdate(ctx context.Context, distributorID, itemID, warehouseID uuid.UUID) ([]*inventory.InventoryLot, error) {
	var lots []*inventory.InventoryLot
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("distributor_id = ? AND item_id = ? AND warehouse_id = ?", distributorID, itemID, warehouseID).
		Order("expiry_date ASC NULLS LAST, created_at ASC").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// FindExpiringBefore returns lots whose expiry date falls before the cutoff,
// soonest first. Lots without an expiry date never match.
func (r *GormLotRepository) FindExpiringBefore(ctx context.Context, distributorID, warehouseID uuid.UUID, cutoff time.Time) ([]*inventory.InventoryLot, error) {
	var lots []*inventory.InventoryLot
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND warehouse_id = ? AND expiry_date IS NOT NULL AND expiry_date < ?",
			distributorID, warehouseID, cutoff).
		Order("expiry_date ASC").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// Save persists changes to a lot
func (r *GormLotRepository) Save(ctx context.Context, lot *inventory.InventoryLot) error {
	return r.db.WithContext(ctx).Save(lot).Error
}
