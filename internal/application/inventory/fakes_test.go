package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore backs the in-memory repositories used by the service tests.
// Balances are derived from the stored ledger entries exactly like the SQL
// aggregation does, so the tests exercise the same derivation semantics.
type memStore struct {
	warehouses []*inventory.Warehouse
	lots       []*inventory.InventoryLot
	serials    []*inventory.InventorySerial
	txns       []*inventory.InventoryTransaction
	lockKeys   []string
}

func newMemStore() *memStore {
	return &memStore{}
}

func (s *memStore) repos() (*memWarehouseRepo, *memLotRepo, *memSerialRepo, *memTxnRepo) {
	return &memWarehouseRepo{s: s}, &memLotRepo{s: s}, &memSerialRepo{s: s}, &memTxnRepo{s: s}
}

func (s *memStore) balanceFor(distributorID, warehouseID, itemID uuid.UUID) inventory.StockBalance {
	onHand := decimal.Zero
	reserved := decimal.Zero
	for _, txn := range s.txns {
		if txn.DistributorID != distributorID || txn.WarehouseID != warehouseID || txn.ItemID != itemID {
			continue
		}
		if !txn.CountsTowardsStock() {
			continue
		}
		switch txn.MovementType {
		case inventory.MovementIn:
			onHand = onHand.Add(txn.Quantity)
		case inventory.MovementOut:
			onHand = onHand.Sub(txn.Quantity)
		case inventory.MovementReserve:
			reserved = reserved.Add(txn.Quantity)
		case inventory.MovementRelease:
			reserved = reserved.Sub(txn.Quantity)
		}
	}
	return inventory.StockBalance{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		OnHand:      onHand,
		Reserved:    reserved,
		Available:   onHand.Sub(reserved),
	}
}

type memWarehouseRepo struct{ s *memStore }

func (r *memWarehouseRepo) GetOrCreateMain(_ context.Context, distributorID uuid.UUID) (*inventory.Warehouse, error) {
	for _, w := range r.s.warehouses {
		if w.DistributorID == distributorID && w.Type == inventory.WarehouseTypeMain {
			return w, nil
		}
	}
	w, err := inventory.NewDefaultWarehouse(distributorID)
	if err != nil {
		return nil, err
	}
	r.s.warehouses = append(r.s.warehouses, w)
	return w, nil
}

func (r *memWarehouseRepo) FindByID(_ context.Context, distributorID, id uuid.UUID) (*inventory.Warehouse, error) {
	for _, w := range r.s.warehouses {
		if w.DistributorID == distributorID && w.ID == id {
			return w, nil
		}
	}
	return nil, nil
}

func (r *memWarehouseRepo) FindByCode(_ context.Context, distributorID uuid.UUID, code string) (*inventory.Warehouse, error) {
	for _, w := range r.s.warehouses {
		if w.DistributorID == distributorID && w.Code == code {
			return w, nil
		}
	}
	return nil, nil
}

func (r *memWarehouseRepo) Save(_ context.Context, warehouse *inventory.Warehouse) error {
	for i, w := range r.s.warehouses {
		if w.ID == warehouse.ID {
			r.s.warehouses[i] = warehouse
			return nil
		}
	}
	r.s.warehouses = append(r.s.warehouses, warehouse)
	return nil
}

type memLotRepo struct{ s *memStore }

func (r *memLotRepo) Create(_ context.Context, lot *inventory.InventoryLot) error {
	stored := *lot
	r.s.lots = append(r.s.lots, &stored)
	return nil
}

func (r *memLotRepo) FindByID(_ context.Context, distributorID, id uuid.UUID) (*inventory.InventoryLot, error) {
	for _, lot := range r.s.lots {
		if lot.DistributorID == distributorID && lot.ID == id {
			found := *lot
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memLotRepo) FindByLotNumber(_ context.Context, distributorID, itemID uuid.UUID, lotNumber string) (*inventory.InventoryLot, error) {
	for _, lot := range r.s.lots {
		if lot.DistributorID == distributorID && lot.ItemID == itemID && lot.LotNumber == lotNumber {
			found := *lot
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memLotRepo) FindByItem(_ context.Context, distributorID, itemID, warehouseID uuid.UUID) ([]*inventory.InventoryLot, error) {
	var out []*inventory.InventoryLot
	for _, lot := range r.s.lots {
		if lot.DistributorID == distributorID && lot.ItemID == itemID && lot.WarehouseID == warehouseID {
			found := *lot
			out = append(out, &found)
		}
	}
	return out, nil
}

func (r *memLotRepo) FindByItemForUpdate(ctx context.Context, distributorID, itemID, warehouseID uuid.UUID) ([]*inventory.InventoryLot, error) {
	return r.FindByItem(ctx, distributorID, itemID, warehouseID)
}

func (r *memLotRepo) FindExpiringBefore(_ context.Context, distributorID, warehouseID uuid.UUID, cutoff time.Time) ([]*inventory.InventoryLot, error) {
	var out []*inventory.InventoryLot
	for _, lot := range r.s.lots {
		if lot.DistributorID != distributorID || lot.WarehouseID != warehouseID {
			continue
		}
		if lot.ExpiryDate != nil && lot.ExpiryDate.Before(cutoff) {
			found := *lot
			out = append(out, &found)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpiryDate.Before(*out[j].ExpiryDate)
	})
	return out, nil
}

func (r *memLotRepo) Save(_ context.Context, lot *inventory.InventoryLot) error {
	for i, existing := range r.s.lots {
		if existing.ID == lot.ID {
			stored := *lot
			r.s.lots[i] = &stored
			return nil
		}
	}
	stored := *lot
	r.s.lots = append(r.s.lots, &stored)
	return nil
}

type memSerialRepo struct{ s *memStore }

func (r *memSerialRepo) Create(_ context.Context, serial *inventory.InventorySerial) error {
	stored := *serial
	r.s.serials = append(r.s.serials, &stored)
	return nil
}

func (r *memSerialRepo) CreateBatch(ctx context.Context, serials []*inventory.InventorySerial) error {
	for _, serial := range serials {
		if err := r.Create(ctx, serial); err != nil {
			return err
		}
	}
	return nil
}

func (r *memSerialRepo) FindByID(_ context.Context, distributorID, id uuid.UUID) (*inventory.InventorySerial, error) {
	for _, serial := range r.s.serials {
		if serial.DistributorID == distributorID && serial.ID == id {
			found := *serial
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memSerialRepo) FindBySerialNumber(_ context.Context, distributorID, itemID uuid.UUID, serialNumber string) (*inventory.InventorySerial, error) {
	for _, serial := range r.s.serials {
		if serial.DistributorID == distributorID && serial.ItemID == itemID && serial.SerialNumber == serialNumber {
			found := *serial
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memSerialRepo) FindByLot(_ context.Context, distributorID, lotID uuid.UUID) ([]*inventory.InventorySerial, error) {
	var out []*inventory.InventorySerial
	for _, serial := range r.s.serials {
		if serial.DistributorID == distributorID && serial.LotID != nil && *serial.LotID == lotID {
			found := *serial
			out = append(out, &found)
		}
	}
	return out, nil
}

func (r *memSerialRepo) CountByStatus(_ context.Context, distributorID, itemID uuid.UUID, status inventory.SerialStatus) (int64, error) {
	var count int64
	for _, serial := range r.s.serials {
		if serial.DistributorID == distributorID && serial.ItemID == itemID && serial.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *memSerialRepo) SaveWithLock(_ context.Context, serial *inventory.InventorySerial) error {
	for i, existing := range r.s.serials {
		if existing.ID == serial.ID {
			if existing.Version != serial.Version-1 {
				return shared.ErrConcurrencyConflict
			}
			stored := *serial
			r.s.serials[i] = &stored
			return nil
		}
	}
	return shared.ErrNotFound
}

type memTxnRepo struct{ s *memStore }

func (r *memTxnRepo) Create(_ context.Context, txn *inventory.InventoryTransaction) error {
	stored := *txn
	r.s.txns = append(r.s.txns, &stored)
	return nil
}

func (r *memTxnRepo) CreateBatch(ctx context.Context, txns []*inventory.InventoryTransaction) error {
	for _, txn := range txns {
		if err := r.Create(ctx, txn); err != nil {
			return err
		}
	}
	return nil
}

func (r *memTxnRepo) FindByID(_ context.Context, distributorID, id uuid.UUID) (*inventory.InventoryTransaction, error) {
	for _, txn := range r.s.txns {
		if txn.DistributorID == distributorID && txn.ID == id {
			found := *txn
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memTxnRepo) FindByNumber(_ context.Context, distributorID uuid.UUID, number string) (*inventory.InventoryTransaction, error) {
	for _, txn := range r.s.txns {
		if txn.DistributorID == distributorID && txn.TransactionNumber == number {
			found := *txn
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memTxnRepo) List(_ context.Context, distributorID uuid.UUID, filter inventory.TransactionFilter) (*shared.Paginated[inventory.InventoryTransaction], error) {
	var items []inventory.InventoryTransaction
	for _, txn := range r.s.txns {
		if txn.DistributorID != distributorID {
			continue
		}
		if filter.ItemID != nil && txn.ItemID != *filter.ItemID {
			continue
		}
		if filter.WarehouseID != nil && txn.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.LotID != nil && (txn.LotID == nil || *txn.LotID != *filter.LotID) {
			continue
		}
		if filter.TransactionType != nil && txn.TransactionType != *filter.TransactionType {
			continue
		}
		if filter.ReferenceType != "" && txn.Reference.Type != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != nil && txn.Reference.ID != *filter.ReferenceID {
			continue
		}
		items = append(items, *txn)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TransactionDate.After(items[j].TransactionDate)
	})
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	result := shared.NewPaginated(items, int64(len(items)), page, pageSize)
	return &result, nil
}

func (r *memTxnRepo) StockBalanceFor(_ context.Context, distributorID, warehouseID, itemID uuid.UUID) (inventory.StockBalance, error) {
	return r.s.balanceFor(distributorID, warehouseID, itemID), nil
}

func (r *memTxnRepo) AvailableByLot(_ context.Context, distributorID, warehouseID, itemID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, txn := range r.s.txns {
		if txn.DistributorID != distributorID || txn.WarehouseID != warehouseID || txn.ItemID != itemID {
			continue
		}
		if txn.LotID == nil || !txn.CountsTowardsStock() {
			continue
		}
		out[*txn.LotID] = out[*txn.LotID].Add(txn.SignedQuantity())
	}
	return out, nil
}

func (r *memTxnRepo) StockSummary(_ context.Context, distributorID, warehouseID uuid.UUID) ([]inventory.ItemStockSummary, error) {
	seen := make(map[uuid.UUID]bool)
	var out []inventory.ItemStockSummary
	for _, txn := range r.s.txns {
		if txn.DistributorID != distributorID || txn.WarehouseID != warehouseID || seen[txn.ItemID] {
			continue
		}
		seen[txn.ItemID] = true
		balance := r.s.balanceFor(distributorID, warehouseID, txn.ItemID)
		if balance.OnHand.IsZero() && balance.Reserved.IsZero() {
			continue
		}
		out = append(out, inventory.ItemStockSummary{
			ItemID:    txn.ItemID,
			OnHand:    balance.OnHand,
			Reserved:  balance.Reserved,
			Available: balance.Available,
		})
	}
	return out, nil
}

func (r *memTxnRepo) AcquireStockKeyLock(_ context.Context, distributorID, warehouseID, itemID uuid.UUID) error {
	r.s.lockKeys = append(r.s.lockKeys, distributorID.String()+"|"+warehouseID.String()+"|"+itemID.String())
	return nil
}

var (
	_ inventory.WarehouseRepository   = (*memWarehouseRepo)(nil)
	_ inventory.LotRepository         = (*memLotRepo)(nil)
	_ inventory.SerialRepository      = (*memSerialRepo)(nil)
	_ inventory.TransactionRepository = (*memTxnRepo)(nil)
)

// fakeResolver serves tracking configuration from a map
type fakeResolver struct {
	items map[uuid.UUID]ItemTracking
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{items: make(map[uuid.UUID]ItemTracking)}
}

func (r *fakeResolver) add(itemID uuid.UUID, mode inventory.TrackingMode) uuid.UUID {
	r.items[itemID] = ItemTracking{ItemID: itemID, Name: "test item", Mode: mode, Active: true}
	return itemID
}

func (r *fakeResolver) Resolve(_ context.Context, _ uuid.UUID, itemID uuid.UUID) (ItemTracking, error) {
	tracking, ok := r.items[itemID]
	if !ok {
		return ItemTracking{}, &inventory.ItemNotFoundError{ItemID: itemID}
	}
	return tracking, nil
}

// fakeCache records cache traffic so tests can assert invalidation
type fakeCache struct {
	entries       map[string][]inventory.ItemStockSummary
	invalidations int
	sets          int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]inventory.ItemStockSummary)}
}

func cacheKey(distributorID, warehouseID uuid.UUID) string {
	return distributorID.String() + "|" + warehouseID.String()
}

func (c *fakeCache) Get(_ context.Context, distributorID, warehouseID uuid.UUID) ([]inventory.ItemStockSummary, bool, error) {
	summary, ok := c.entries[cacheKey(distributorID, warehouseID)]
	return summary, ok, nil
}

func (c *fakeCache) Set(_ context.Context, distributorID, warehouseID uuid.UUID, summary []inventory.ItemStockSummary) error {
	c.entries[cacheKey(distributorID, warehouseID)] = summary
	c.sets++
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, distributorID, warehouseID uuid.UUID) error {
	delete(c.entries, cacheKey(distributorID, warehouseID))
	c.invalidations++
	return nil
}

// fakePublisher collects published domain events
type fakePublisher struct {
	events []shared.DomainEvent
}

func (p *fakePublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.events = append(p.events, events...)
	return nil
}
