package inventory

import (
	"time"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SerialStatus represents the state of an individually tracked unit
type SerialStatus string

const (
	// SerialStatusAvailable means the unit is in stock and sellable
	SerialStatusAvailable SerialStatus = "AVAILABLE"
	// SerialStatusReserved means the unit is held for a pending order
	SerialStatusReserved SerialStatus = "RESERVED"
	// SerialStatusSold means the unit was issued to a customer
	SerialStatusSold SerialStatus = "SOLD"
	// SerialStatusReturned means the unit came back and awaits inspection
	SerialStatusReturned SerialStatus = "RETURNED"
	// SerialStatusDamaged means the unit is unsellable
	SerialStatusDamaged SerialStatus = "DAMAGED"
)

// IsValid returns true if the serial status is valid
func (s SerialStatus) IsValid() bool {
	switch s {
	case SerialStatusAvailable, SerialStatusReserved, SerialStatusSold,
		SerialStatusReturned, SerialStatusDamaged:
		return true
	}
	return false
}

// String returns the string representation
func (s SerialStatus) String() string {
	return string(s)
}

// serialTransitions is the allowed transition table. RETURNED goes back to
// AVAILABLE only after inspection; SOLD never returns to AVAILABLE directly.
var serialTransitions = map[SerialStatus][]SerialStatus{
	SerialStatusAvailable: {SerialStatusReserved, SerialStatusSold, SerialStatusDamaged},
	SerialStatusReserved:  {SerialStatusSold, SerialStatusAvailable},
	SerialStatusSold:      {SerialStatusReturned},
	SerialStatusReturned:  {SerialStatusAvailable, SerialStatusDamaged},
	SerialStatusDamaged:   {},
}

// CanTransitionTo returns true if the state machine permits the transition
func (s SerialStatus) CanTransitionTo(target SerialStatus) bool {
	for _, allowed := range serialTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// OwnerType identifies who currently holds a serialized unit
type OwnerType string

const (
	// OwnerTypeDistributor means the unit sits in distributor stock
	OwnerTypeDistributor OwnerType = "DISTRIBUTOR"
	// OwnerTypeCustomer means the unit was sold to a customer
	OwnerTypeCustomer OwnerType = "CUSTOMER"
	// OwnerTypeCompany means the unit was returned to the company
	OwnerTypeCompany OwnerType = "COMPANY"
)

// IsValid returns true if the owner type is valid
func (t OwnerType) IsValid() bool {
	switch t {
	case OwnerTypeDistributor, OwnerTypeCustomer, OwnerTypeCompany:
		return true
	}
	return false
}

// TransitionContext carries the fields relevant to a serial status transition.
// Fields that do not apply to the target status are ignored.
type TransitionContext struct {
	OwnerType  OwnerType
	OwnerID    *uuid.UUID
	BillingRef *uuid.UUID
	CustomerID *uuid.UUID
	SoldDate   *time.Time
	Remarks    string
}

// InventorySerial represents an individually tracked sellable unit. A serial
// may optionally belong to a lot. Serials are never deleted; status is mutated
// only through TransitionTo.
type InventorySerial struct {
	shared.DistributorAggregateRoot
	SerialNumber     string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_serial_identity,priority:1"`
	ItemID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_serial_identity,priority:2;index:idx_serial_item"`
	LotID            *uuid.UUID      `gorm:"type:uuid;index"`
	WarehouseID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Status           SerialStatus    `gorm:"type:varchar(20);not null;default:'AVAILABLE';index"`
	CurrentOwnerType OwnerType       `gorm:"type:varchar(20);not null;default:'DISTRIBUTOR'"`
	CurrentOwnerID   *uuid.UUID      `gorm:"type:uuid"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SoldDate         *time.Time      `gorm:"type:timestamptz"`
	BillingRef       *uuid.UUID      `gorm:"type:uuid;index"`
	CustomerRef      *uuid.UUID      `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (InventorySerial) TableName() string {
	return "inventory_serials"
}

// NewInventorySerial creates a new serialized unit in AVAILABLE status,
// owned by the distributor.
func NewInventorySerial(
	distributorID uuid.UUID,
	serialNumber string,
	itemID, warehouseID uuid.UUID,
	lotID *uuid.UUID,
	unitCost decimal.Decimal,
) (*InventorySerial, error) {
	if distributorID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_DISTRIBUTOR", "Distributor ID cannot be empty")
	}
	if serialNumber == "" {
		return nil, shared.NewDomainError("INVALID_SERIAL_NUMBER", "Serial number cannot be empty")
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

	return &InventorySerial{
		DistributorAggregateRoot: shared.NewDistributorAggregateRoot(distributorID),
		SerialNumber:             serialNumber,
		ItemID:                   itemID,
		LotID:                    lotID,
		WarehouseID:              warehouseID,
		Status:                   SerialStatusAvailable,
		CurrentOwnerType:         OwnerTypeDistributor,
		UnitCost:                 unitCost,
	}, nil
}

// IsAvailable returns true if the unit can be sold or reserved
func (s *InventorySerial) IsAvailable() bool {
	return s.Status == SerialStatusAvailable
}

// TransitionTo moves the serial to a new status, applying the context fields
// relevant to that status. Invalid transitions fail without mutating anything.
func (s *InventorySerial) TransitionTo(target SerialStatus, ctx TransitionContext) error {
	if !target.IsValid() {
		return shared.NewDomainError("INVALID_SERIAL_STATUS", "Invalid serial status")
	}
	if !s.Status.CanTransitionTo(target) {
		return &InvalidStateTransitionError{
			SerialNumber: s.SerialNumber,
			From:         s.Status,
			To:           target,
		}
	}

	from := s.Status
	switch target {
	case SerialStatusSold:
		if !ctx.OwnerType.IsValid() {
			ctx.OwnerType = OwnerTypeCustomer
		}
		s.CurrentOwnerType = ctx.OwnerType
		s.CurrentOwnerID = ctx.OwnerID
		s.BillingRef = ctx.BillingRef
		s.CustomerRef = ctx.CustomerID
		if ctx.SoldDate != nil {
			s.SoldDate = ctx.SoldDate
		} else {
			now := time.Now()
			s.SoldDate = &now
		}
	case SerialStatusReturned:
		if ctx.OwnerType.IsValid() {
			s.CurrentOwnerType = ctx.OwnerType
		} else {
			s.CurrentOwnerType = OwnerTypeDistributor
		}
		s.CurrentOwnerID = ctx.OwnerID
		s.BillingRef = nil
		s.CustomerRef = nil
	case SerialStatusAvailable:
		s.CurrentOwnerType = OwnerTypeDistributor
		s.CurrentOwnerID = nil
		s.BillingRef = nil
		s.CustomerRef = nil
		s.SoldDate = nil
	case SerialStatusReserved, SerialStatusDamaged:
		// Owner does not change
	}

	s.Status = target
	s.Touch()
	s.IncrementVersion()
	s.AddDomainEvent(NewSerialStatusChangedEvent(s, from, target))
	return nil
}
