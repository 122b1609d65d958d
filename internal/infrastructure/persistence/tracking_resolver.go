package persistence

import (
	"context"
	"errors"

	appinv "github.com/dms/backend/internal/application/inventory"
	"github.com/dms/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// itemRecord is the slice of the catalog's items table the stock engine
// needs. The catalog service owns the table; this resolver only reads it.
type itemRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	DistributorID     uuid.UUID `gorm:"type:uuid;not null"`
	Name              string    `gorm:"type:varchar(255)"`
	HasBatchTracking  bool      `gorm:"not null;default:false"`
	HasSerialTracking bool      `gorm:"not null;default:false"`
	Active            bool      `gorm:"not null;default:true"`
}

func (itemRecord) TableName() string {
	return "items"
}

// GormTrackingResolver resolves item tracking configuration from the catalog
type GormTrackingResolver struct {
	db *gorm.DB
}

// NewGormTrackingResolver creates a new GormTrackingResolver
func NewGormTrackingResolver(db *gorm.DB) *GormTrackingResolver {
	return &GormTrackingResolver{db: db}
}

var _ appinv.TrackingResolver = (*GormTrackingResolver)(nil)

// Resolve returns the tracking configuration of an item
func (r *GormTrackingResolver) Resolve(ctx context.Context, distributorID, itemID uuid.UUID) (appinv.ItemTracking, error) {
	var record itemRecord
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND id = ?", distributorID, itemID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return appinv.ItemTracking{}, &inventory.ItemNotFoundError{ItemID: itemID}
	}
	if err != nil {
		return appinv.ItemTracking{}, err
	}

	return appinv.ItemTracking{
		ItemID: record.ID,
		Name:   record.Name,
		Mode:   inventory.TrackingModeFromFlags(record.HasBatchTracking, record.HasSerialTracking),
		Active: record.Active,
	}, nil
}
