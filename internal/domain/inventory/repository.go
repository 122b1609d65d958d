package inventory

import (
	"context"
	"time"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockBalance is the derived position of an item in a warehouse.
// OnHand counts physical stock (IN - OUT); Reserved counts open holds
// (RESERVE - RELEASE); Available is what allocation may consume.
type StockBalance struct {
	ItemID      uuid.UUID       `json:"item_id"`
	WarehouseID uuid.UUID       `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Reserved    decimal.Decimal `json:"reserved"`
	Available   decimal.Decimal `json:"available"`
}

// ItemStockSummary is one row of the warehouse-wide inventory view
type ItemStockSummary struct {
	ItemID    uuid.UUID       `json:"item_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

// TransactionFilter narrows ledger listing queries
type TransactionFilter struct {
	shared.Filter
	ItemID          *uuid.UUID
	WarehouseID     *uuid.UUID
	LotID           *uuid.UUID
	TransactionType *TransactionType
	ReferenceType   string
	ReferenceID     *uuid.UUID
	From            *time.Time
	To              *time.Time
}

// WarehouseRepository persists warehouses
type WarehouseRepository interface {
	// GetOrCreateMain returns the distributor's MAIN warehouse, creating it on
	// first use. Concurrent first calls must converge on a single row.
	GetOrCreateMain(ctx context.Context, distributorID uuid.UUID) (*Warehouse, error)
	FindByID(ctx context.Context, distributorID, id uuid.UUID) (*Warehouse, error)
	FindByCode(ctx context.Context, distributorID uuid.UUID, code string) (*Warehouse, error)
	Save(ctx context.Context, warehouse *Warehouse) error
}

// LotRepository persists inventory lots
type LotRepository interface {
	Create(ctx context.Context, lot *InventoryLot) error
	FindByID(ctx context.Context, distributorID, id uuid.UUID) (*InventoryLot, error)
	FindByLotNumber(ctx context.Context, distributorID, itemID uuid.UUID, lotNumber string) (*InventoryLot, error)
	// FindByItem returns all lots of an item in a warehouse, including
	// blocked and expired ones. Callers filter by usability.
	FindByItem(ctx context.Context, distributorID, itemID, warehouseID uuid.UUID) ([]*InventoryLot, error)
	// FindByItemForUpdate is FindByItem with row locks held until the
	// surrounding transaction ends. Only valid inside a transaction scope.
	FindByItemForUpdate(ctx context.Context, distributorID, itemID, warehouseID uuid.UUID) ([]*InventoryLot, error)
	// FindExpiringBefore returns lots whose expiry date falls before the
	// cutoff, soonest first. Lots without an expiry date are excluded.
	FindExpiringBefore(ctx context.Context, distributorID, warehouseID uuid.UUID, cutoff time.Time) ([]*InventoryLot, error)
	Save(ctx context.Context, lot *InventoryLot) error
}

// SerialRepository persists serialized units
type SerialRepository interface {
	Create(ctx context.Context, serial *InventorySerial) error
	CreateBatch(ctx context.Context, serials []*InventorySerial) error
	FindByID(ctx context.Context, distributorID, id uuid.UUID) (*InventorySerial, error)
	FindBySerialNumber(ctx context.Context, distributorID, itemID uuid.UUID, serialNumber string) (*InventorySerial, error)
	FindByLot(ctx context.Context, distributorID, lotID uuid.UUID) ([]*InventorySerial, error)
	CountByStatus(ctx context.Context, distributorID, itemID uuid.UUID, status SerialStatus) (int64, error)
	// SaveWithLock persists the serial only if its stored version matches the
	// version it was loaded at, then bumps it. A stale version returns
	// shared.ErrConcurrencyConflict.
	SaveWithLock(ctx context.Context, serial *InventorySerial) error
}

// TransactionRepository persists the append-only inventory ledger. Entries are
// created and read, never updated or deleted.
type TransactionRepository interface {
	Create(ctx context.Context, txn *InventoryTransaction) error
	CreateBatch(ctx context.Context, txns []*InventoryTransaction) error
	FindByID(ctx context.Context, distributorID, id uuid.UUID) (*InventoryTransaction, error)
	FindByNumber(ctx context.Context, distributorID uuid.UUID, number string) (*InventoryTransaction, error)
	List(ctx context.Context, distributorID uuid.UUID, filter TransactionFilter) (*shared.Paginated[InventoryTransaction], error)
	// StockBalanceFor aggregates completed entries into the derived position
	// of one item in one warehouse.
	StockBalanceFor(ctx context.Context, distributorID, warehouseID, itemID uuid.UUID) (StockBalance, error)
	// AvailableByLot aggregates completed entries per lot for one item in one
	// warehouse. Lots with no entries are absent from the result.
	AvailableByLot(ctx context.Context, distributorID, warehouseID, itemID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	// StockSummary aggregates the whole warehouse, one row per item with a
	// non-zero position.
	StockSummary(ctx context.Context, distributorID, warehouseID uuid.UUID) ([]ItemStockSummary, error)
	// AcquireStockKeyLock serializes writers on one (distributor, warehouse,
	// item) stock key for the remainder of the surrounding transaction.
	// Only valid inside a transaction scope.
	AcquireStockKeyLock(ctx context.Context, distributorID, warehouseID, itemID uuid.UUID) error
}
