package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType is the direction of a ledger entry. Quantities are always
// positive; the movement type alone determines the sign during aggregation.
type MovementType string

const (
	// MovementIn adds stock (receipt, return in, opening)
	MovementIn MovementType = "IN"
	// MovementOut removes stock (issue, return out)
	MovementOut MovementType = "OUT"
	// MovementReserve holds stock for a pending order
	MovementReserve MovementType = "RESERVE"
	// MovementRelease returns previously reserved stock
	MovementRelease MovementType = "RELEASE"
)

// IsValid returns true if the movement type is valid
func (m MovementType) IsValid() bool {
	switch m {
	case MovementIn, MovementOut, MovementReserve, MovementRelease:
		return true
	}
	return false
}

// String returns the string representation
func (m MovementType) String() string {
	return string(m)
}

// Sign returns +1 for movements that increase available quantity and -1 for
// movements that decrease it: available = IN - OUT - RESERVE + RELEASE.
func (m MovementType) Sign() int {
	switch m {
	case MovementIn, MovementRelease:
		return 1
	default:
		return -1
	}
}

// TransactionType classifies the business operation behind a ledger entry
type TransactionType string

const (
	// TransactionTypeGRNReceipt records goods received against a GRN
	TransactionTypeGRNReceipt TransactionType = "GRN_RECEIPT"
	// TransactionTypeSalesIssue records stock issued against a billing
	TransactionTypeSalesIssue TransactionType = "SALES_ISSUE"
	// TransactionTypeSalesReturn records stock returned by a customer
	TransactionTypeSalesReturn TransactionType = "SALES_RETURN"
	// TransactionTypePurchaseReturn records stock returned to the supplier
	TransactionTypePurchaseReturn TransactionType = "PURCHASE_RETURN"
	// TransactionTypeOpeningStock records initial stock on migration
	TransactionTypeOpeningStock TransactionType = "OPENING_STOCK"
	// TransactionTypeAdjustment records a manual correction
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	// TransactionTypeReservation records stock held for a pending order
	TransactionTypeReservation TransactionType = "RESERVATION"
	// TransactionTypeReservationRelease records a reservation returned to stock
	TransactionTypeReservationRelease TransactionType = "RESERVATION_RELEASE"
)

// IsValid returns true if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeGRNReceipt, TransactionTypeSalesIssue,
		TransactionTypeSalesReturn, TransactionTypePurchaseReturn,
		TransactionTypeOpeningStock, TransactionTypeAdjustment,
		TransactionTypeReservation, TransactionTypeReservationRelease:
		return true
	}
	return false
}

// String returns the string representation
func (t TransactionType) String() string {
	return string(t)
}

// TransactionStatus is the lifecycle status of a ledger entry. COMPLETED rows
// are immutable; corrections are appended, never edited.
type TransactionStatus string

const (
	// TransactionStatusCompleted means the entry counts towards stock
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	// TransactionStatusCancelled means the entry is excluded from aggregation.
	// Used only when an entry is voided before its owning transaction commits.
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Reference ties a ledger entry back to the originating document
type Reference struct {
	Type string    `gorm:"column:reference_type;type:varchar(50);not null;index:idx_inv_txn_ref"`
	ID   uuid.UUID `gorm:"column:reference_id;type:uuid;not null;index:idx_inv_txn_ref"`
	No   string    `gorm:"column:reference_no;type:varchar(100)"`
}

// InventoryTransaction is an immutable record of a stock movement. The ledger
// is the single source of truth for quantity: every balance is derived by
// aggregating these rows, never read from a stored counter.
type InventoryTransaction struct {
	shared.BaseEntity
	TransactionNumber string            `gorm:"type:varchar(50);not null;uniqueIndex"`
	TransactionDate   time.Time         `gorm:"type:timestamptz;not null;index:idx_inv_txn_dist_time,priority:2"`
	TransactionType   TransactionType   `gorm:"type:varchar(30);not null;index"`
	MovementType      MovementType      `gorm:"type:varchar(10);not null"`
	ItemID            uuid.UUID         `gorm:"type:uuid;not null;index:idx_inv_txn_stock_key,priority:3"`
	LotID             *uuid.UUID        `gorm:"type:uuid;index"`
	SerialID          *uuid.UUID        `gorm:"type:uuid;index"`
	Quantity          decimal.Decimal   `gorm:"type:decimal(18,4);not null"`
	WarehouseID       uuid.UUID         `gorm:"type:uuid;not null;index:idx_inv_txn_stock_key,priority:2"`
	DistributorID     uuid.UUID         `gorm:"type:uuid;not null;index:idx_inv_txn_stock_key,priority:1;index:idx_inv_txn_dist_time,priority:1"`
	Reference         Reference         `gorm:"embedded"`
	UnitCost          decimal.Decimal   `gorm:"type:decimal(18,4);not null"`
	TotalCost         decimal.Decimal   `gorm:"type:decimal(18,4);not null"`
	Status            TransactionStatus `gorm:"type:varchar(20);not null;default:'COMPLETED'"`
	Remarks           string            `gorm:"type:varchar(255)"`
	CreatedBy         *uuid.UUID        `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (InventoryTransaction) TableName() string {
	return "inventory_transactions"
}

// NewInventoryTransaction creates a new ledger entry. Quantity must be
// strictly positive; direction is carried by the movement type, never by sign.
func NewInventoryTransaction(
	distributorID uuid.UUID,
	txType TransactionType,
	movement MovementType,
	itemID, warehouseID uuid.UUID,
	quantity, unitCost decimal.Decimal,
	ref Reference,
) (*InventoryTransaction, error) {
	if distributorID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_DISTRIBUTOR", "Distributor ID cannot be empty")
	}
	if !txType.IsValid() {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_TYPE", "Invalid transaction type")
	}
	if !movement.IsValid() {
		return nil, shared.NewDomainError("INVALID_MOVEMENT_TYPE", "Invalid movement type")
	}
	if itemID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ITEM", "Item ID cannot be empty")
	}
	if warehouseID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_WAREHOUSE", "Warehouse ID cannot be empty")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if unitCost.IsNegative() {
		return nil, shared.NewDomainError("INVALID_COST", "Unit cost cannot be negative")
	}
	if ref.Type == "" || ref.ID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Reference type and ID are required")
	}

	entity := shared.NewBaseEntity()
	return &InventoryTransaction{
		BaseEntity:        entity,
		TransactionNumber: generateTransactionNumber(entity.ID, entity.CreatedAt),
		TransactionDate:   entity.CreatedAt,
		TransactionType:   txType,
		MovementType:      movement,
		ItemID:            itemID,
		WarehouseID:       warehouseID,
		DistributorID:     distributorID,
		Quantity:          quantity,
		Reference:         ref,
		UnitCost:          unitCost,
		TotalCost:         quantity.Mul(unitCost),
		Status:            TransactionStatusCompleted,
	}, nil
}

// generateTransactionNumber derives a unique human-readable number from the
// entry's own identity, avoiding a sequence round-trip.
func generateTransactionNumber(id uuid.UUID, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:8]
	return fmt.Sprintf("TXN-%s-%s", at.Format("20060102"), suffix)
}

// WithLot links the entry to a lot
func (t *InventoryTransaction) WithLot(lotID uuid.UUID) *InventoryTransaction {
	t.LotID = &lotID
	return t
}

// WithSerial links the entry to a serialized unit
func (t *InventoryTransaction) WithSerial(serialID uuid.UUID) *InventoryTransaction {
	t.SerialID = &serialID
	return t
}

// WithRemarks sets free-form remarks
func (t *InventoryTransaction) WithRemarks(remarks string) *InventoryTransaction {
	t.Remarks = remarks
	return t
}

// WithCreatedBy records the acting user
func (t *InventoryTransaction) WithCreatedBy(userID uuid.UUID) *InventoryTransaction {
	t.CreatedBy = &userID
	return t
}

// WithTransactionDate overrides the transaction date (backdated migrations)
func (t *InventoryTransaction) WithTransactionDate(date time.Time) *InventoryTransaction {
	t.TransactionDate = date
	return t
}

// SignedQuantity returns the quantity with the movement sign applied
func (t *InventoryTransaction) SignedQuantity() decimal.Decimal {
	if t.MovementType.Sign() < 0 {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// CountsTowardsStock returns true if the entry participates in aggregation
func (t *InventoryTransaction) CountsTowardsStock() bool {
	return t.Status == TransactionStatusCompleted
}
