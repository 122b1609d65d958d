package inventory

import (
	"context"
	"time"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemTracking is the tracking configuration of an item, resolved from the
// catalog. Quantity-only items have TrackingModeNone.
type ItemTracking struct {
	ItemID uuid.UUID
	Name   string
	Mode   inventory.TrackingMode
	Active bool
}

// TrackingResolver resolves an item's tracking configuration. Returns
// *inventory.ItemNotFoundError when the item does not exist for the
// distributor.
type TrackingResolver interface {
	Resolve(ctx context.Context, distributorID, itemID uuid.UUID) (ItemTracking, error)
}

// StockViewCache caches the per-warehouse inventory summary. The ledger stays
// the source of truth: the cache is invalidated on every write and rebuilt
// from aggregation on the next read.
type StockViewCache interface {
	Get(ctx context.Context, distributorID, warehouseID uuid.UUID) ([]inventory.ItemStockSummary, bool, error)
	Set(ctx context.Context, distributorID, warehouseID uuid.UUID, summary []inventory.ItemStockSummary) error
	Invalidate(ctx context.Context, distributorID, warehouseID uuid.UUID) error
}

// ReferenceInput identifies the business document behind an operation
type ReferenceInput struct {
	Type string    `json:"type" binding:"required"`
	ID   uuid.UUID `json:"id" binding:"required"`
	No   string    `json:"no"`
}

// StockLineInput is one item line of a stock operation. LotNumber pins the
// line to a specific lot; SerialNumbers are required for serial-tracked items
// and their count must match Quantity.
type StockLineInput struct {
	ItemID        uuid.UUID       `json:"item_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required,decimalgt0"`
	LotNumber     string          `json:"lot_number"`
	SerialNumbers []string        `json:"serial_numbers"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
}

// IssueStockRequest issues stock out against a sales document
type IssueStockRequest struct {
	DistributorID uuid.UUID        `json:"-"`
	WarehouseID   *uuid.UUID       `json:"warehouse_id"`
	Lines         []StockLineInput `json:"lines" binding:"required,min=1,dive"`
	Reference     ReferenceInput   `json:"reference" binding:"required"`
	CustomerID    *uuid.UUID       `json:"customer_id"`
	Remarks       string           `json:"remarks"`
	UserID        *uuid.UUID       `json:"-"`
}

// ReceiveStockRequest receives stock in against a GRN or opening entry
type ReceiveStockRequest struct {
	DistributorID   uuid.UUID        `json:"-"`
	WarehouseID     *uuid.UUID       `json:"warehouse_id"`
	Lines           []ReceiveLine    `json:"lines" binding:"required,min=1,dive"`
	Reference       ReferenceInput   `json:"reference" binding:"required"`
	TransactionType inventory.TransactionType `json:"-"`
	Remarks         string           `json:"remarks"`
	UserID          *uuid.UUID       `json:"-"`
}

// ReceiveLine is one item line of a receipt. Lot fields apply to batch-tracked
// items; SerialNumbers to serial-tracked items.
type ReceiveLine struct {
	ItemID          uuid.UUID       `json:"item_id" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity" binding:"required,decimalgt0"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	LotNumber       string          `json:"lot_number"`
	ManufactureDate *time.Time      `json:"manufacture_date"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
	SerialNumbers   []string        `json:"serial_numbers"`
}

// ReturnStockRequest returns previously sold stock from a customer
type ReturnStockRequest struct {
	DistributorID uuid.UUID        `json:"-"`
	WarehouseID   *uuid.UUID       `json:"warehouse_id"`
	Lines         []StockLineInput `json:"lines" binding:"required,min=1,dive"`
	Reference     ReferenceInput   `json:"reference" binding:"required"`
	Remarks       string           `json:"remarks"`
	UserID        *uuid.UUID       `json:"-"`
}

// PurchaseReturnRequest sends stock back to the supplier
type PurchaseReturnRequest struct {
	DistributorID uuid.UUID        `json:"-"`
	WarehouseID   *uuid.UUID       `json:"warehouse_id"`
	Lines         []StockLineInput `json:"lines" binding:"required,min=1,dive"`
	Reference     ReferenceInput   `json:"reference" binding:"required"`
	Remarks       string           `json:"remarks"`
	UserID        *uuid.UUID       `json:"-"`
}

// ReserveStockRequest holds stock for a pending order without issuing it
type ReserveStockRequest struct {
	DistributorID uuid.UUID        `json:"-"`
	WarehouseID   *uuid.UUID       `json:"warehouse_id"`
	Lines         []StockLineInput `json:"lines" binding:"required,min=1,dive"`
	Reference     ReferenceInput   `json:"reference" binding:"required"`
	UserID        *uuid.UUID       `json:"-"`
}

// ReleaseReservationRequest returns reserved stock to the available pool
type ReleaseReservationRequest struct {
	DistributorID uuid.UUID        `json:"-"`
	WarehouseID   *uuid.UUID       `json:"warehouse_id"`
	Lines         []StockLineInput `json:"lines" binding:"required,min=1,dive"`
	Reference     ReferenceInput   `json:"reference" binding:"required"`
	UserID        *uuid.UUID       `json:"-"`
}

// AllocationLine is one lot of a planned or committed allocation
type AllocationLine struct {
	LotID      uuid.UUID       `json:"lot_id"`
	LotNumber  string          `json:"lot_number"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// ExpiryWarning flags an allocation line drawn from a lot close to expiry.
// Warnings never block the operation.
type ExpiryWarning struct {
	ItemID    uuid.UUID `json:"item_id"`
	LotNumber string    `json:"lot_number"`
	ExpiryDate time.Time `json:"expiry_date"`
	DaysLeft  int       `json:"days_left"`
}

// TransactionDTO is the outward representation of a ledger entry
type TransactionDTO struct {
	ID                uuid.UUID       `json:"id"`
	TransactionNumber string          `json:"transaction_number"`
	TransactionDate   time.Time       `json:"transaction_date"`
	TransactionType   string          `json:"transaction_type"`
	MovementType      string          `json:"movement_type"`
	ItemID            uuid.UUID       `json:"item_id"`
	LotID             *uuid.UUID      `json:"lot_id,omitempty"`
	SerialID          *uuid.UUID      `json:"serial_id,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	WarehouseID       uuid.UUID       `json:"warehouse_id"`
	ReferenceType     string          `json:"reference_type"`
	ReferenceID       uuid.UUID       `json:"reference_id"`
	ReferenceNo       string          `json:"reference_no,omitempty"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	Remarks           string          `json:"remarks,omitempty"`
}

// NewTransactionDTO maps a ledger entry to its DTO
func NewTransactionDTO(txn *inventory.InventoryTransaction) TransactionDTO {
	return TransactionDTO{
		ID:                txn.ID,
		TransactionNumber: txn.TransactionNumber,
		TransactionDate:   txn.TransactionDate,
		TransactionType:   txn.TransactionType.String(),
		MovementType:      txn.MovementType.String(),
		ItemID:            txn.ItemID,
		LotID:             txn.LotID,
		SerialID:          txn.SerialID,
		Quantity:          txn.Quantity,
		WarehouseID:       txn.WarehouseID,
		ReferenceType:     txn.Reference.Type,
		ReferenceID:       txn.Reference.ID,
		ReferenceNo:       txn.Reference.No,
		UnitCost:          txn.UnitCost,
		TotalCost:         txn.TotalCost,
		Remarks:           txn.Remarks,
	}
}

// StockOperationResult is the common result of a committed stock operation
type StockOperationResult struct {
	Transactions   []TransactionDTO `json:"transactions"`
	ExpiryWarnings []ExpiryWarning  `json:"expiry_warnings,omitempty"`
}

// AllocationPlanResult is a dry-run allocation: nothing is committed
type AllocationPlanResult struct {
	ItemID         uuid.UUID        `json:"item_id"`
	Requested      decimal.Decimal  `json:"requested"`
	Lines          []AllocationLine `json:"lines"`
	ExpiryWarnings []ExpiryWarning  `json:"expiry_warnings,omitempty"`
}

// LotDTO is the outward representation of a lot with its derived quantity
type LotDTO struct {
	ID              uuid.UUID       `json:"id"`
	LotNumber       string          `json:"lot_number"`
	ItemID          uuid.UUID       `json:"item_id"`
	WarehouseID     uuid.UUID       `json:"warehouse_id"`
	ManufactureDate *time.Time      `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Status          string          `json:"status"`
	QualityStatus   string          `json:"quality_status"`
	Available       decimal.Decimal `json:"available"`
	DaysUntilExpiry int             `json:"days_until_expiry"`
}

// NewLotDTO maps a lot and its derived availability to a DTO
func NewLotDTO(lot *inventory.InventoryLot, available decimal.Decimal, now time.Time) LotDTO {
	return LotDTO{
		ID:              lot.ID,
		LotNumber:       lot.LotNumber,
		ItemID:          lot.ItemID,
		WarehouseID:     lot.WarehouseID,
		ManufactureDate: lot.ManufactureDate,
		ExpiryDate:      lot.ExpiryDate,
		UnitCost:        lot.UnitCost,
		Status:          lot.Status.String(),
		QualityStatus:   string(lot.QualityStatus),
		Available:       available,
		DaysUntilExpiry: lot.DaysUntilExpiry(now),
	}
}

// SerialDTO is the outward representation of a serialized unit
type SerialDTO struct {
	ID           uuid.UUID  `json:"id"`
	SerialNumber string     `json:"serial_number"`
	ItemID       uuid.UUID  `json:"item_id"`
	LotID        *uuid.UUID `json:"lot_id,omitempty"`
	WarehouseID  uuid.UUID  `json:"warehouse_id"`
	Status       string     `json:"status"`
	OwnerType    string     `json:"owner_type"`
	SoldDate     *time.Time `json:"sold_date,omitempty"`
	BillingRef   *uuid.UUID `json:"billing_ref,omitempty"`
}

// NewSerialDTO maps a serialized unit to its DTO
func NewSerialDTO(serial *inventory.InventorySerial) SerialDTO {
	return SerialDTO{
		ID:           serial.ID,
		SerialNumber: serial.SerialNumber,
		ItemID:       serial.ItemID,
		LotID:        serial.LotID,
		WarehouseID:  serial.WarehouseID,
		Status:       serial.Status.String(),
		OwnerType:    string(serial.CurrentOwnerType),
		SoldDate:     serial.SoldDate,
		BillingRef:   serial.BillingRef,
	}
}

// StockBalanceDTO is the derived position of one item
type StockBalanceDTO struct {
	ItemID      uuid.UUID       `json:"item_id"`
	WarehouseID uuid.UUID       `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Reserved    decimal.Decimal `json:"reserved"`
	Available   decimal.Decimal `json:"available"`
}

// CreateLotRequest registers a lot ahead of receiving stock into it
type CreateLotRequest struct {
	DistributorID   uuid.UUID       `json:"-"`
	WarehouseID     *uuid.UUID      `json:"warehouse_id"`
	ItemID          uuid.UUID       `json:"item_id" binding:"required"`
	LotNumber       string          `json:"lot_number" binding:"required"`
	ManufactureDate *time.Time      `json:"manufacture_date"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	UserID          *uuid.UUID      `json:"-"`
}

// UpdateSerialStatusRequest drives an explicit serial state transition
type UpdateSerialStatusRequest struct {
	DistributorID uuid.UUID              `json:"-"`
	ItemID        uuid.UUID              `json:"item_id" binding:"required"`
	SerialNumber  string                 `json:"serial_number" binding:"required"`
	TargetStatus  inventory.SerialStatus `json:"target_status" binding:"required"`
	OwnerID       *uuid.UUID             `json:"owner_id"`
	Remarks       string                 `json:"remarks"`
}
