package inventory

import (
	"time"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotStatus represents the lifecycle status of a lot
type LotStatus string

const (
	// LotStatusActive means the lot can be allocated
	LotStatusActive LotStatus = "ACTIVE"
	// LotStatusBlocked means the lot is administratively blocked from sale
	LotStatusBlocked LotStatus = "BLOCKED"
	// LotStatusQuarantine means the lot awaits quality inspection
	LotStatusQuarantine LotStatus = "QUARANTINE"
)

// IsValid returns true if the lot status is valid
func (s LotStatus) IsValid() bool {
	switch s {
	case LotStatusActive, LotStatusBlocked, LotStatusQuarantine:
		return true
	}
	return false
}

// String returns the string representation
func (s LotStatus) String() string {
	return string(s)
}

// QualityStatus represents the quality inspection outcome for a lot
type QualityStatus string

const (
	// QualityStatusPassed means the lot passed inspection
	QualityStatusPassed QualityStatus = "PASSED"
	// QualityStatusPending means inspection has not completed
	QualityStatusPending QualityStatus = "PENDING"
	// QualityStatusRejected means the lot failed inspection
	QualityStatusRejected QualityStatus = "REJECTED"
)

// IsValid returns true if the quality status is valid
func (s QualityStatus) IsValid() bool {
	switch s {
	case QualityStatusPassed, QualityStatusPending, QualityStatusRejected:
		return true
	}
	return false
}

// InventoryLot represents a received batch of an item sharing manufacture and
// expiry metadata. Lots are never deleted; exhaustion and expiry are derived
// states. Quantity held by a lot is always derived from the transaction ledger.
type InventoryLot struct {
	shared.DistributorAggregateRoot
	LotNumber       string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_lot_identity,priority:1"`
	ItemID          uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_lot_identity,priority:2;index:idx_lot_item"`
	WarehouseID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	ManufactureDate *time.Time      `gorm:"type:date"`
	ExpiryDate      *time.Time      `gorm:"type:date;index"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Status          LotStatus       `gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	QualityStatus   QualityStatus   `gorm:"type:varchar(20);not null;default:'PASSED'"`
}

// TableName returns the table name for GORM
func (InventoryLot) TableName() string {
	return "inventory_lots"
}

// NewInventoryLot creates a new lot. The unique identity is
// (lotNumber, itemID, distributorID); the database enforces it.
func NewInventoryLot(
	distributorID uuid.UUID,
	lotNumber string,
	itemID, warehouseID uuid.UUID,
	manufactureDate, expiryDate *time.Time,
	unitCost decimal.Decimal,
) (*InventoryLot, error) {
	if distributorID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_DISTRIBUTOR", "Distributor ID cannot be empty")
	}
	if lotNumber == "" {
		return nil, shared.NewDomainError("INVALID_LOT_NUMBER", "Lot number cannot be empty")
	}
	if itemID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ITEM", "Item ID cannot be empty")
	}
	if warehouseID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_WAREHOUSE", "Warehouse ID cannot be empty")
	}
	if unitCost.IsNegative() {
		return nil, shared.NewDomainError("INVALID_COST", "Unit cost cannot be negative")
	}
	if manufactureDate != nil && expiryDate != nil && expiryDate.Before(*manufactureDate) {
		return nil, shared.NewDomainError("INVALID_EXPIRY", "Expiry date cannot precede manufacture date")
	}

	return &InventoryLot{
		DistributorAggregateRoot: shared.NewDistributorAggregateRoot(distributorID),
		LotNumber:                lotNumber,
		ItemID:                   itemID,
		WarehouseID:              warehouseID,
		ManufactureDate:          manufactureDate,
		ExpiryDate:               expiryDate,
		UnitCost:                 unitCost,
		Status:                   LotStatusActive,
		QualityStatus:            QualityStatusPassed,
	}, nil
}

// IsExpired returns true if the lot has passed its expiry date. Expiry is a
// date, not an instant: a lot expiring today stays usable through the day.
// A lot without an expiry date never expires.
func (l *InventoryLot) IsExpired(now time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return l.ExpiryDate.Before(today)
}

// ExpiresWithin returns true if the lot will expire within the given duration
func (l *InventoryLot) ExpiresWithin(now time.Time, d time.Duration) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return l.ExpiryDate.Before(now.Add(d))
}

// DaysUntilExpiry returns the number of days until expiry, -1 if no expiry date
func (l *InventoryLot) DaysUntilExpiry(now time.Time) int {
	if l.ExpiryDate == nil {
		return -1
	}
	return int(l.ExpiryDate.Sub(now).Hours() / 24)
}

// IsUsable returns true if the lot may participate in allocation:
// active, quality-passed and not expired.
func (l *InventoryLot) IsUsable(now time.Time) bool {
	return l.Status == LotStatusActive &&
		l.QualityStatus == QualityStatusPassed &&
		!l.IsExpired(now)
}

// Block removes the lot from allocation without destroying it
func (l *InventoryLot) Block() {
	l.Status = LotStatusBlocked
	l.Touch()
	l.IncrementVersion()
}

// Unblock returns the lot to active status
func (l *InventoryLot) Unblock() {
	l.Status = LotStatusActive
	l.Touch()
	l.IncrementVersion()
}

// SetQualityStatus records a quality inspection outcome
func (l *InventoryLot) SetQualityStatus(status QualityStatus) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_QUALITY_STATUS", "Invalid quality status")
	}
	l.QualityStatus = status
	l.Touch()
	l.IncrementVersion()
	return nil
}
