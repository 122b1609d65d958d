package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormTransactionRepository implements the append-only ledger repository
// using GORM. There is deliberately no Update or Delete: completed entries
// are immutable and corrections are appended.
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewGormTransactionRepository creates a new GormTransactionRepository
func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

var _ inventory.TransactionRepository = (*GormTransactionRepository)(nil)

// Create appends one ledger entry
func (r *GormTransactionRepository) Create(ctx context.Context, txn *inventory.InventoryTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// CreateBatch appends ledger entries in one insert
func (r *GormTransactionRepository) CreateBatch(ctx context.Context, txns []*inventory.InventoryTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(txns).Error
}

// FindByID finds a ledger entry by ID scoped to the distributor
func (r *GormTransactionRepository) FindByID(ctx context.Context, distributorID, id uuid.UUID) (*inventory.InventoryTransaction, error) {
	var txn inventory.InventoryTransaction
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND id = ?", distributorID, id).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByNumber finds a ledger entry by its transaction number
func (r *GormTransactionRepository) FindByNumber(ctx context.Context, distributorID uuid.UUID, number string) (*inventory.InventoryTransaction, error) {
	var txn inventory.InventoryTransaction
	err := r.db.WithContext(ctx).
		Where("distributor_id = ? AND transaction_number = ?", distributorID, number).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// List returns a page of ledger entries matching the filter
func (r *GormTransactionRepository) List(ctx context.Context, distributorID uuid.UUID, filter inventory.TransactionFilter) (*shared.Paginated[inventory.InventoryTransaction], error) {
	query := r.db.WithContext(ctx).
		Model(&inventory.InventoryTransaction{}).
		Where("distributor_id = ?", distributorID)
	query = applyTransactionFilter(query, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	var txns []inventory.InventoryTransaction
	err := query.
		Order("transaction_date DESC, created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}

	result := shared.NewPaginated(txns, total, page, pageSize)
	return &result, nil
}

func applyTransactionFilter(query *gorm.DB, filter inventory.TransactionFilter) *gorm.DB {
	if filter.ItemID != nil {
		query = query.Where("item_id = ?", *filter.ItemID)
	}
	if filter.WarehouseID != nil {
		query = query.Where("warehouse_id = ?", *filter.WarehouseID)
	}
	if filter.LotID != nil {
		query = query.Where("lot_id = ?", *filter.LotID)
	}
	if filter.TransactionType != nil {
		query = query.Where("transaction_type = ?", *filter.TransactionType)
	}
	if filter.ReferenceType != "" {
		query = query.Where("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != nil {
		query = query.Where("reference_id = ?", *filter.ReferenceID)
	}
	if filter.From != nil {
		query = query.Where("transaction_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("transaction_date <= ?", *filter.To)
	}
	return query
}

// signCase is the movement sign rule in SQL:
// available = IN - OUT - RESERVE + RELEASE
const signCase = "CASE WHEN movement_type IN ('IN','RELEASE') THEN quantity ELSE -quantity END"

// onHandCase counts physical stock only; reservations do not move units
const onHandCase = "CASE WHEN movement_type = 'IN' THEN quantity WHEN movement_type = 'OUT' THEN -quantity ELSE 0 END"

// reservedCase counts open holds
const reservedCase = "CASE WHEN movement_type = 'RESERVE' THEN quantity WHEN movement_type = 'RELEASE' THEN -quantity ELSE 0 END"

type balanceRow struct {
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
}

// StockBalanceFor aggregates completed entries into the derived position of
// one item in one warehouse.
func (r *GormTransactionRepository) StockBalanceFor(ctx context.Context, distributorID, warehouseID, itemID uuid.UUID) (inventory.StockBalance, error) {
	var row balanceRow
	err := r.db.WithContext(ctx).
		Model(&inventory.InventoryTransaction{}).
		Select(fmt.Sprintf(
			"COALESCE(SUM(%s), 0) AS on_hand, COALESCE(SUM(%s), 0) AS reserved, COALESCE(SUM(%s), 0) AS available",
			onHandCase, reservedCase, signCase,
		)).
		Where("distributor_id = ? AND warehouse_id = ? AND item_id = ? AND status = ?",
			distributorID, warehouseID, itemID, inventory.TransactionStatusCompleted).
		Scan(&row).Error
	if err != nil {
		return inventory.StockBalance{}, err
	}
	return inventory.StockBalance{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		OnHand:      row.OnHand,
		Reserved:    row.Reserved,
		Available:   row.Available,
	}, nil
}

type lotBalanceRow struct {
	LotID     uuid.UUID
	Available decimal.Decimal
}

// AvailableByLot aggregates completed entries per lot for one item in one
// warehouse. Entries without a lot are excluded.
func (r *GormTransactionRepository) AvailableByLot(ctx context.Context, distributorID, warehouseID, itemID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	var rows []lotBalanceRow
	err := r.db.WithContext(ctx).
		Model(&inventory.InventoryTransaction{}).
		Select(fmt.Sprintf("lot_id, COALESCE(SUM(%s), 0) AS available", signCase)).
		Where("distributor_id = ? AND warehouse_id = ? AND item_id = ? AND status = ? AND lot_id IS NOT NULL",
			distributorID, warehouseID, itemID, inventory.TransactionStatusCompleted).
		Group("lot_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byLot := make(map[uuid.UUID]decimal.Decimal, len(rows))
	for _, row := range rows {
		byLot[row.LotID] = row.Available
	}
	return byLot, nil
}

type summaryRow struct {
	ItemID    uuid.UUID
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
}

// StockSummary aggregates the whole warehouse, one row per item that ever had
// stock. Items whose position netted to zero are dropped.
func (r *GormTransactionRepository) StockSummary(ctx context.Context, distributorID, warehouseID uuid.UUID) ([]inventory.ItemStockSummary, error) {
	var rows []summaryRow
	err := r.db.WithContext(ctx).
		Model(&inventory.InventoryTransaction{}).
		Select(fmt.Sprintf(
			"item_id, COALESCE(SUM(%s), 0) AS on_hand, COALESCE(SUM(%s), 0) AS reserved, COALESCE(SUM(%s), 0) AS available",
			onHandCase, reservedCase, signCase,
		)).
		Where("distributor_id = ? AND warehouse_id = ? AND status = ?",
			distributorID, warehouseID, inventory.TransactionStatusCompleted).
		Group("item_id").
		Order("item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summary := make([]inventory.ItemStockSummary, 0, len(rows))
	for _, row := range rows {
		if row.OnHand.IsZero() && row.Reserved.IsZero() {
			continue
		}
		summary = append(summary, inventory.ItemStockSummary{
			ItemID:    row.ItemID,
			OnHand:    row.OnHand,
			Reserved:  row.Reserved,
			Available: row.Available,
		})
	}
	return summary, nil
}

// AcquireStockKeyLock serializes writers on one (distributor, warehouse,
// item) stock key. Uses pg_advisory_xact_lock so the lock releases with the
// surrounding transaction; on dialects without advisory locks (tests on
// SQLite) it degrades to a no-op, and the unique ledger constraints plus
// serial versioning still hold.
func (r *GormTransactionRepository) AcquireStockKeyLock(ctx context.Context, distributorID, warehouseID, itemID uuid.UUID) error {
	if !strings.Contains(r.db.Dialector.Name(), "postgres") {
		return nil
	}
	key := fmt.Sprintf("%s|%s|%s", distributorID, warehouseID, itemID)
	return r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}
