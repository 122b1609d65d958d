package inventory

import (
	"time"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type constants
const (
	EventTypeStockReceived       = "inventory.stock_received"
	EventTypeStockIssued         = "inventory.stock_issued"
	EventTypeStockReserved       = "inventory.stock_reserved"
	EventTypeReservationReleased = "inventory.reservation_released"
	EventTypeSerialStatusChanged = "inventory.serial_status_changed"
	EventTypeLotExpiring         = "inventory.lot_expiring"
)

// StockReceivedEvent is raised when stock enters the ledger
type StockReceivedEvent struct {
	shared.BaseDomainEvent
	TransactionNumber string          `json:"transaction_number"`
	ItemID            uuid.UUID       `json:"item_id"`
	WarehouseID       uuid.UUID       `json:"warehouse_id"`
	LotID             *uuid.UUID      `json:"lot_id,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
}

// NewStockReceivedEvent creates a stock received event from a ledger entry
func NewStockReceivedEvent(txn *InventoryTransaction) *StockReceivedEvent {
	return &StockReceivedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeStockReceived, "InventoryTransaction", txn.ID, txn.DistributorID),
		TransactionNumber: txn.TransactionNumber,
		ItemID:            txn.ItemID,
		WarehouseID:       txn.WarehouseID,
		LotID:             txn.LotID,
		Quantity:          txn.Quantity,
	}
}

// StockIssuedEvent is raised when stock leaves the ledger
type StockIssuedEvent struct {
	shared.BaseDomainEvent
	TransactionNumber string          `json:"transaction_number"`
	ItemID            uuid.UUID       `json:"item_id"`
	WarehouseID       uuid.UUID       `json:"warehouse_id"`
	LotID             *uuid.UUID      `json:"lot_id,omitempty"`
	SerialID          *uuid.UUID      `json:"serial_id,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	ReferenceType     string          `json:"reference_type"`
	ReferenceID       uuid.UUID       `json:"reference_id"`
}

// NewStockIssuedEvent creates a stock issued event from a ledger entry
func NewStockIssuedEvent(txn *InventoryTransaction) *StockIssuedEvent {
	return &StockIssuedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeStockIssued, "InventoryTransaction", txn.ID, txn.DistributorID),
		TransactionNumber: txn.TransactionNumber,
		ItemID:            txn.ItemID,
		WarehouseID:       txn.WarehouseID,
		LotID:             txn.LotID,
		SerialID:          txn.SerialID,
		Quantity:          txn.Quantity,
		ReferenceType:     txn.Reference.Type,
		ReferenceID:       txn.Reference.ID,
	}
}

// StockReservedEvent is raised when stock is held for a pending order
type StockReservedEvent struct {
	shared.BaseDomainEvent
	ItemID        uuid.UUID       `json:"item_id"`
	WarehouseID   uuid.UUID       `json:"warehouse_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
}

// NewStockReservedEvent creates a stock reserved event from a ledger entry
func NewStockReservedEvent(txn *InventoryTransaction) *StockReservedEvent {
	return &StockReservedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeStockReserved, "InventoryTransaction", txn.ID, txn.DistributorID),
		ItemID:          txn.ItemID,
		WarehouseID:     txn.WarehouseID,
		Quantity:        txn.Quantity,
		ReferenceType:   txn.Reference.Type,
		ReferenceID:     txn.Reference.ID,
	}
}

// ReservationReleasedEvent is raised when a reservation is returned to stock
type ReservationReleasedEvent struct {
	shared.BaseDomainEvent
	ItemID        uuid.UUID       `json:"item_id"`
	WarehouseID   uuid.UUID       `json:"warehouse_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
}

// NewReservationReleasedEvent creates a reservation released event
func NewReservationReleasedEvent(txn *InventoryTransaction) *ReservationReleasedEvent {
	return &ReservationReleasedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeReservationReleased, "InventoryTransaction", txn.ID, txn.DistributorID),
		ItemID:          txn.ItemID,
		WarehouseID:     txn.WarehouseID,
		Quantity:        txn.Quantity,
		ReferenceType:   txn.Reference.Type,
		ReferenceID:     txn.Reference.ID,
	}
}

// SerialStatusChangedEvent is raised on every serial state machine transition
type SerialStatusChangedEvent struct {
	shared.BaseDomainEvent
	SerialNumber string       `json:"serial_number"`
	ItemID       uuid.UUID    `json:"item_id"`
	FromStatus   SerialStatus `json:"from_status"`
	ToStatus     SerialStatus `json:"to_status"`
}

// NewSerialStatusChangedEvent creates a serial status changed event
func NewSerialStatusChangedEvent(serial *InventorySerial, from, to SerialStatus) *SerialStatusChangedEvent {
	return &SerialStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSerialStatusChanged, "InventorySerial", serial.ID, serial.DistributorID),
		SerialNumber:    serial.SerialNumber,
		ItemID:          serial.ItemID,
		FromStatus:      from,
		ToStatus:        to,
	}
}

// LotExpiringEvent is raised when an allocation touches a lot close to expiry
type LotExpiringEvent struct {
	shared.BaseDomainEvent
	LotNumber  string    `json:"lot_number"`
	ItemID     uuid.UUID `json:"item_id"`
	ExpiryDate time.Time `json:"expiry_date"`
	DaysLeft   int       `json:"days_left"`
}

// NewLotExpiringEvent creates a lot expiring event
func NewLotExpiringEvent(lot *InventoryLot, now time.Time) *LotExpiringEvent {
	var expiry time.Time
	if lot.ExpiryDate != nil {
		expiry = *lot.ExpiryDate
	}
	return &LotExpiringEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLotExpiring, "InventoryLot", lot.ID, lot.DistributorID),
		LotNumber:       lot.LotNumber,
		ItemID:          lot.ItemID,
		ExpiryDate:      expiry,
		DaysLeft:        lot.DaysUntilExpiry(now),
	}
}
