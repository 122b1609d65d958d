package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stockHarness struct {
	stock    *StockService
	core     *CoreService
	store    *memStore
	resolver *fakeResolver
	cache    *fakeCache
	pub      *fakePublisher
}

func newStockHarness() *stockHarness {
	store := newMemStore()
	warehouseRepo, lotRepo, serialRepo, txnRepo := store.repos()
	resolver := newFakeResolver()
	scope := NewNoOpTransactionScope(warehouseRepo, lotRepo, serialRepo, txnRepo)
	cache := newFakeCache()
	pub := &fakePublisher{}
	logger := zap.NewNop()

	stock := NewStockService(warehouseRepo, resolver, scope, logger)
	stock.SetStockViewCache(cache)
	stock.SetEventPublisher(pub)

	core := NewCoreService(warehouseRepo, lotRepo, serialRepo, txnRepo, resolver, scope, logger)
	core.SetStockViewCache(cache)
	core.SetEventPublisher(pub)

	return &stockHarness{stock: stock, core: core, store: store, resolver: resolver, cache: cache, pub: pub}
}

func testRef() ReferenceInput {
	return ReferenceInput{Type: "BILLING", ID: uuid.New(), No: "INV-001"}
}

func daysFromNow(days int) *time.Time {
	t := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	return &t
}

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func (h *stockHarness) receive(t *testing.T, distributorID uuid.UUID, lines ...ReceiveLine) StockOperationResult {
	t.Helper()
	result, err := h.stock.ReceiveStock(context.Background(), ReceiveStockRequest{
		DistributorID: distributorID,
		Lines:         lines,
		Reference:     ReferenceInput{Type: "GRN", ID: uuid.New(), No: "GRN-001"},
	})
	require.NoError(t, err)
	return result
}

func (h *stockHarness) mainWarehouse(t *testing.T, distributorID uuid.UUID) *inventory.Warehouse {
	t.Helper()
	for _, w := range h.store.warehouses {
		if w.DistributorID == distributorID && w.Type == inventory.WarehouseTypeMain {
			return w
		}
	}
	t.Fatal("main warehouse was not created")
	return nil
}

func (h *stockHarness) lotByNumber(t *testing.T, lotNumber string) *inventory.InventoryLot {
	t.Helper()
	for _, lot := range h.store.lots {
		if lot.LotNumber == lotNumber {
			return lot
		}
	}
	t.Fatalf("lot %s not found", lotNumber)
	return nil
}

func (h *stockHarness) serialByNumber(t *testing.T, serialNumber string) *inventory.InventorySerial {
	t.Helper()
	for _, serial := range h.store.serials {
		if serial.SerialNumber == serialNumber {
			return serial
		}
	}
	t.Fatalf("serial %s not found", serialNumber)
	return nil
}

func TestReceiveStock(t *testing.T) {
	t.Run("plain item creates one completed IN entry", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		result := h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(10), UnitCost: qty(5)})

		require.Len(t, result.Transactions, 1)
		assert.Equal(t, "GRN_RECEIPT", result.Transactions[0].TransactionType)
		assert.Equal(t, "IN", result.Transactions[0].MovementType)
		assert.True(t, result.Transactions[0].TotalCost.Equal(qty(50)))

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.OnHand.Equal(qty(10)))
		assert.True(t, balance.Available.Equal(qty(10)))
		assert.Equal(t, 1, h.cache.invalidations)
	})

	t.Run("batch item creates the lot on first receipt and reuses it after", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), UnitCost: qty(3),
			LotNumber: "B1", ExpiryDate: daysFromNow(90),
		})
		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(5), UnitCost: qty(3),
			LotNumber: "B1", ExpiryDate: daysFromNow(90),
		})

		require.Len(t, h.store.lots, 1)
		lot := h.lotByNumber(t, "B1")
		warehouse := h.mainWarehouse(t, distributorID)
		byLot, err := (&memTxnRepo{s: h.store}).AvailableByLot(context.Background(), distributorID, warehouse.ID, itemID)
		require.NoError(t, err)
		assert.True(t, byLot[lot.ID].Equal(qty(15)))
	})

	t.Run("batch item without a lot number is rejected", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		_, err := h.stock.ReceiveStock(context.Background(), ReceiveStockRequest{
			DistributorID: distributorID,
			Lines:         []ReceiveLine{{ItemID: itemID, Quantity: qty(10)}},
			Reference:     testRef(),
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "LOT_REQUIRED", domainErr.Code)
		assert.Empty(t, h.store.txns)
	})

	t.Run("lot number on an untracked item is rejected", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		_, err := h.stock.ReceiveStock(context.Background(), ReceiveStockRequest{
			DistributorID: distributorID,
			Lines:         []ReceiveLine{{ItemID: itemID, Quantity: qty(10), LotNumber: "B1"}},
			Reference:     testRef(),
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_BATCH_TRACKED", domainErr.Code)
	})

	t.Run("serial item registers each unit with a quantity one entry", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		result := h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(3), UnitCost: qty(100),
			SerialNumbers: []string{"SN-1", "SN-2", "SN-3"},
		})

		require.Len(t, result.Transactions, 3)
		for _, txn := range result.Transactions {
			assert.True(t, txn.Quantity.Equal(qty(1)))
			assert.NotNil(t, txn.SerialID)
		}
		require.Len(t, h.store.serials, 3)
		for _, serial := range h.store.serials {
			assert.Equal(t, inventory.SerialStatusAvailable, serial.Status)
			assert.Equal(t, inventory.OwnerTypeDistributor, serial.CurrentOwnerType)
		}
	})

	t.Run("re-registering an existing serial is rejected and nothing commits", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
		})
		before := len(h.store.txns)

		_, err := h.stock.ReceiveStock(context.Background(), ReceiveStockRequest{
			DistributorID: distributorID,
			Lines: []ReceiveLine{{
				ItemID: itemID, Quantity: qty(2), SerialNumbers: []string{"SN-9", "SN-1"},
			}},
			Reference: testRef(),
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "SERIAL_EXISTS", domainErr.Code)
		assert.Len(t, h.store.txns, before)
		assert.Len(t, h.store.serials, 1)
	})

	t.Run("serial count must match quantity", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		_, err := h.stock.ReceiveStock(context.Background(), ReceiveStockRequest{
			DistributorID: distributorID,
			Lines:         []ReceiveLine{{ItemID: itemID, Quantity: qty(3), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "SERIAL_COUNT_MISMATCH", domainErr.Code)
	})
}

func TestRecordOpeningStock(t *testing.T) {
	h := newStockHarness()
	distributorID := uuid.New()
	itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

	result, err := h.stock.RecordOpeningStock(context.Background(), ReceiveStockRequest{
		DistributorID: distributorID,
		Lines:         []ReceiveLine{{ItemID: itemID, Quantity: qty(25), UnitCost: qty(2)}},
		Reference:     ReferenceInput{Type: "MIGRATION", ID: uuid.New()},
	})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "OPENING_STOCK", result.Transactions[0].TransactionType)
	assert.Equal(t, "IN", result.Transactions[0].MovementType)
}

func TestIssueStock(t *testing.T) {
	t.Run("batch item allocates earliest expiry first and spills over", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), UnitCost: qty(4), LotNumber: "B1", ExpiryDate: daysFromNow(60),
		})
		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(5), UnitCost: qty(4), LotNumber: "B2", ExpiryDate: daysFromNow(90),
		})

		result, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(12)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 2)

		b1 := h.lotByNumber(t, "B1")
		b2 := h.lotByNumber(t, "B2")
		assert.Equal(t, &b1.ID, result.Transactions[0].LotID)
		assert.True(t, result.Transactions[0].Quantity.Equal(qty(10)))
		assert.Equal(t, &b2.ID, result.Transactions[1].LotID)
		assert.True(t, result.Transactions[1].Quantity.Equal(qty(2)))

		warehouse := h.mainWarehouse(t, distributorID)
		byLot, err := (&memTxnRepo{s: h.store}).AvailableByLot(context.Background(), distributorID, warehouse.ID, itemID)
		require.NoError(t, err)
		assert.True(t, byLot[b1.ID].IsZero())
		assert.True(t, byLot[b2.ID].Equal(qty(3)))
	})

	t.Run("oversell is rejected with the usable availability", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "B1", ExpiryDate: daysFromNow(60),
		})
		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(5), LotNumber: "B2", ExpiryDate: daysFromNow(90),
		})
		before := len(h.store.txns)

		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(20)}},
			Reference:     testRef(),
		})
		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Requested.Equal(qty(20)))
		assert.True(t, insufficient.Available.Equal(qty(15)))
		assert.Len(t, h.store.txns, before)
	})

	t.Run("expired lots are skipped by allocation", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "OLD", ExpiryDate: daysFromNow(-1),
		})
		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(5), LotNumber: "FRESH", ExpiryDate: daysFromNow(90),
		})

		result, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(4)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		fresh := h.lotByNumber(t, "FRESH")
		assert.Equal(t, &fresh.ID, result.Transactions[0].LotID)
	})

	t.Run("pinned lot is used without spill-over", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "B1", ExpiryDate: daysFromNow(60),
		})
		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(5), LotNumber: "B2", ExpiryDate: daysFromNow(90),
		})

		result, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(3), LotNumber: "B2"}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		b2 := h.lotByNumber(t, "B2")
		assert.Equal(t, &b2.ID, result.Transactions[0].LotID)

		// The pin caps the line at the lot's own availability
		_, err = h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(6), LotNumber: "B2"}},
			Reference:     testRef(),
		})
		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		require.NotNil(t, insufficient.LotID)
		assert.Equal(t, b2.ID, *insufficient.LotID)
	})

	t.Run("pinned expired lot is rejected", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "OLD", ExpiryDate: daysFromNow(-1),
		})

		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), LotNumber: "OLD"}},
			Reference:     testRef(),
		})
		var expired *inventory.BatchExpiredError
		require.ErrorAs(t, err, &expired)
		assert.Equal(t, "OLD", expired.LotNumber)
	})

	t.Run("near expiry lots warn but do not block", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "SOON", ExpiryDate: daysFromNow(10),
		})

		result, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(2)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		require.Len(t, result.ExpiryWarnings, 1)
		assert.Equal(t, "SOON", result.ExpiryWarnings[0].LotNumber)
		assert.LessOrEqual(t, result.ExpiryWarnings[0].DaysLeft, 10)
	})

	t.Run("serial item sells the named units", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		customerID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(2), UnitCost: qty(100), SerialNumbers: []string{"SN-1", "SN-2"},
		})

		ref := testRef()
		result, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines: []StockLineInput{{
				ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
			}},
			Reference:  ref,
			CustomerID: &customerID,
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		assert.True(t, result.Transactions[0].UnitCost.Equal(qty(100)))

		sold := h.serialByNumber(t, "SN-1")
		assert.Equal(t, inventory.SerialStatusSold, sold.Status)
		assert.Equal(t, inventory.OwnerTypeCustomer, sold.CurrentOwnerType)
		require.NotNil(t, sold.BillingRef)
		assert.Equal(t, ref.ID, *sold.BillingRef)
		assert.NotNil(t, sold.SoldDate)

		untouched := h.serialByNumber(t, "SN-2")
		assert.Equal(t, inventory.SerialStatusAvailable, untouched.Status)
	})

	t.Run("selling the same serial twice is rejected", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
		})
		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		_, err = h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		var unavailable *inventory.SerialNotAvailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "SN-1", unavailable.SerialNumber)
		assert.Equal(t, inventory.SerialStatusSold, unavailable.Status)
	})

	t.Run("serial item without serial numbers is rejected", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
		})

		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1)}},
			Reference:     testRef(),
		})
		var required *inventory.SerialRequiredError
		require.ErrorAs(t, err, &required)
	})

	t.Run("a failing later line leaves no partial writes", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		stocked := h.resolver.add(uuid.New(), inventory.TrackingModeNone)
		empty := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		h.receive(t, distributorID, ReceiveLine{ItemID: stocked, Quantity: qty(10)})
		before := len(h.store.txns)

		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines: []StockLineInput{
				{ItemID: stocked, Quantity: qty(5)},
				{ItemID: empty, Quantity: qty(5)},
			},
			Reference: testRef(),
		})
		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, empty, insufficient.ItemID)
		assert.Len(t, h.store.txns, before)

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, stocked)
		assert.True(t, balance.OnHand.Equal(qty(10)))
	})

	t.Run("stock keys are locked once each in sorted item order", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemA := h.resolver.add(uuid.New(), inventory.TrackingModeNone)
		itemB := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		h.receive(t, distributorID,
			ReceiveLine{ItemID: itemA, Quantity: qty(10)},
			ReceiveLine{ItemID: itemB, Quantity: qty(10)},
		)
		warehouse := h.mainWarehouse(t, distributorID)
		h.store.lockKeys = nil

		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines: []StockLineInput{
				{ItemID: itemB, Quantity: qty(1)},
				{ItemID: itemA, Quantity: qty(1)},
				{ItemID: itemB, Quantity: qty(2)},
			},
			Reference: testRef(),
		})
		require.NoError(t, err)

		first, second := itemA, itemB
		if itemB.String() < itemA.String() {
			first, second = itemB, itemA
		}
		key := func(itemID uuid.UUID) string {
			return distributorID.String() + "|" + warehouse.ID.String() + "|" + itemID.String()
		}
		assert.Equal(t, []string{key(first), key(second)}, h.store.lockKeys)
	})

	t.Run("unknown item fails before any stock key is locked", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()

		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: uuid.New(), Quantity: qty(1)}},
			Reference:     testRef(),
		})
		var notFound *inventory.ItemNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Empty(t, h.store.lockKeys)
	})
}

func TestReserveAndRelease(t *testing.T) {
	t.Run("reservations shrink available without touching on-hand", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(10)})

		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(6)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.OnHand.Equal(qty(10)))
		assert.True(t, balance.Reserved.Equal(qty(6)))
		assert.True(t, balance.Available.Equal(qty(4)))

		// Issuing past the available remainder fails even though on-hand covers it
		_, err = h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(5)}},
			Reference:     testRef(),
		})
		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Available.Equal(qty(4)))
	})

	t.Run("releasing restores the available pool", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(10)})
		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(6)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		_, err = h.stock.ReleaseReservation(context.Background(), ReleaseReservationRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(6)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.Reserved.IsZero())
		assert.True(t, balance.Available.Equal(qty(10)))
	})

	t.Run("a release can never exceed the reserved balance", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(10)})
		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(3)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		_, err = h.stock.ReleaseReservation(context.Background(), ReleaseReservationRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(4)}},
			Reference:     testRef(),
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "RELEASE_EXCEEDS_RESERVED", domainErr.Code)
	})

	t.Run("reserved stock is off limits to lot allocation", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "B1", ExpiryDate: daysFromNow(60),
		})
		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(8)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		before := len(h.store.txns)

		// The lot still shows 10 because item-level reservations carry no lot,
		// but only 2 of those units are actually available
		_, err = h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(10)}},
			Reference:     testRef(),
		})
		var insufficient *inventory.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.True(t, insufficient.Requested.Equal(qty(10)))
		assert.True(t, insufficient.Available.Equal(qty(2)))
		assert.Len(t, h.store.txns, before)

		_, err = h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(2)}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.OnHand.Equal(qty(8)))
		assert.True(t, balance.Reserved.Equal(qty(8)))
		assert.True(t, balance.Available.IsZero())
	})

	t.Run("serial reservations pin the named units", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(2), SerialNumbers: []string{"SN-1", "SN-2"},
		})

		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		assert.Equal(t, inventory.SerialStatusReserved, h.serialByNumber(t, "SN-1").Status)

		// A reserved serial can still be sold against its order
		_, err = h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		assert.Equal(t, inventory.SerialStatusSold, h.serialByNumber(t, "SN-1").Status)
	})

	t.Run("selling a reserved serial settles its reservation", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), UnitCost: qty(50), SerialNumbers: []string{"SN-1"},
		})
		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		result, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		// The sale carries the matching release so the unit leaves the
		// ledger exactly once
		require.Len(t, result.Transactions, 2)
		assert.Equal(t, "RESERVATION_RELEASE", result.Transactions[0].TransactionType)
		assert.Equal(t, "RELEASE", result.Transactions[0].MovementType)
		assert.Equal(t, "SALES_ISSUE", result.Transactions[1].TransactionType)
		assert.Equal(t, "OUT", result.Transactions[1].MovementType)

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.OnHand.IsZero())
		assert.True(t, balance.Reserved.IsZero())
		assert.True(t, balance.Available.IsZero())
		assert.Equal(t, inventory.SerialStatusSold, h.serialByNumber(t, "SN-1").Status)
	})

	t.Run("releasing a serial returns it to available", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
		})
		_, err := h.stock.ReserveStock(context.Background(), ReserveStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		_, err = h.stock.ReleaseReservation(context.Background(), ReleaseReservationRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		assert.Equal(t, inventory.SerialStatusAvailable, h.serialByNumber(t, "SN-1").Status)
	})
}

func TestReturnStock(t *testing.T) {
	t.Run("a sold serial comes back as RETURNED with billing cleared", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), UnitCost: qty(80), SerialNumbers: []string{"SN-1"},
		})
		_, err := h.stock.IssueStock(context.Background(), IssueStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		require.NoError(t, err)

		result, err := h.stock.ReturnStock(context.Background(), ReturnStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     ReferenceInput{Type: "CREDIT_NOTE", ID: uuid.New()},
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		assert.Equal(t, "SALES_RETURN", result.Transactions[0].TransactionType)
		assert.True(t, result.Transactions[0].UnitCost.Equal(qty(80)))

		returned := h.serialByNumber(t, "SN-1")
		assert.Equal(t, inventory.SerialStatusReturned, returned.Status)
		assert.Nil(t, returned.BillingRef)
		assert.Equal(t, inventory.OwnerTypeDistributor, returned.CurrentOwnerType)
	})

	t.Run("returning an unsold serial is an invalid transition", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
		})

		_, err := h.stock.ReturnStock(context.Background(), ReturnStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     testRef(),
		})
		var badTransition *inventory.InvalidStateTransitionError
		require.ErrorAs(t, err, &badTransition)
	})

	t.Run("batch returns must name the lot", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeBatch)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(10), LotNumber: "B1", ExpiryDate: daysFromNow(60),
		})

		_, err := h.stock.ReturnStock(context.Background(), ReturnStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(2)}},
			Reference:     testRef(),
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "LOT_REQUIRED", domainErr.Code)

		_, err = h.stock.ReturnStock(context.Background(), ReturnStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(2), LotNumber: "NOPE"}},
			Reference:     testRef(),
		})
		var notFound *inventory.BatchNotFoundError
		require.ErrorAs(t, err, &notFound)

		result, err := h.stock.ReturnStock(context.Background(), ReturnStockRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(2), LotNumber: "B1"}},
			Reference:     testRef(),
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		b1 := h.lotByNumber(t, "B1")
		assert.Equal(t, &b1.ID, result.Transactions[0].LotID)
	})
}

func TestPurchaseReturn(t *testing.T) {
	t.Run("plain item is issued out against the supplier document", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

		h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(10)})

		result, err := h.stock.PurchaseReturn(context.Background(), PurchaseReturnRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(4)}},
			Reference:     ReferenceInput{Type: "PURCHASE_RETURN", ID: uuid.New()},
		})
		require.NoError(t, err)
		require.Len(t, result.Transactions, 1)
		assert.Equal(t, "PURCHASE_RETURN", result.Transactions[0].TransactionType)
		assert.Equal(t, "OUT", result.Transactions[0].MovementType)

		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.OnHand.Equal(qty(6)))
	})

	t.Run("a serialized unit ends up company owned", func(t *testing.T) {
		h := newStockHarness()
		distributorID := uuid.New()
		itemID := h.resolver.add(uuid.New(), inventory.TrackingModeSerial)

		h.receive(t, distributorID, ReceiveLine{
			ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"},
		})

		_, err := h.stock.PurchaseReturn(context.Background(), PurchaseReturnRequest{
			DistributorID: distributorID,
			Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(1), SerialNumbers: []string{"SN-1"}}},
			Reference:     ReferenceInput{Type: "PURCHASE_RETURN", ID: uuid.New()},
		})
		require.NoError(t, err)

		serial := h.serialByNumber(t, "SN-1")
		assert.Equal(t, inventory.SerialStatusSold, serial.Status)
		assert.Equal(t, inventory.OwnerTypeCompany, serial.CurrentOwnerType)
		assert.Nil(t, serial.CustomerRef)
	})
}

func TestStockOperationPublishesEvents(t *testing.T) {
	h := newStockHarness()
	distributorID := uuid.New()
	itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)

	h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(10)})
	require.NotEmpty(t, h.pub.events)
	assert.Equal(t, "inventory.stock_received", h.pub.events[0].EventType())
}

func TestDerivedBalanceAcrossWorkflow(t *testing.T) {
	// Walks one item through receive, reserve, issue, release and return, and
	// checks the derived balance after every step. The ledger is the only
	// state; each balance below is an aggregation over all prior entries.
	h := newStockHarness()
	distributorID := uuid.New()
	itemID := h.resolver.add(uuid.New(), inventory.TrackingModeNone)
	ctx := context.Background()

	check := func(onHand, reserved, available int64) {
		t.Helper()
		warehouse := h.mainWarehouse(t, distributorID)
		balance := h.store.balanceFor(distributorID, warehouse.ID, itemID)
		assert.True(t, balance.OnHand.Equal(qty(onHand)), "on hand: want %d got %s", onHand, balance.OnHand)
		assert.True(t, balance.Reserved.Equal(qty(reserved)), "reserved: want %d got %s", reserved, balance.Reserved)
		assert.True(t, balance.Available.Equal(qty(available)), "available: want %d got %s", available, balance.Available)
	}

	h.receive(t, distributorID, ReceiveLine{ItemID: itemID, Quantity: qty(20)})
	check(20, 0, 20)

	_, err := h.stock.ReserveStock(ctx, ReserveStockRequest{
		DistributorID: distributorID,
		Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(8)}},
		Reference:     testRef(),
	})
	require.NoError(t, err)
	check(20, 8, 12)

	_, err = h.stock.IssueStock(ctx, IssueStockRequest{
		DistributorID: distributorID,
		Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(5)}},
		Reference:     testRef(),
	})
	require.NoError(t, err)
	check(15, 8, 7)

	_, err = h.stock.ReleaseReservation(ctx, ReleaseReservationRequest{
		DistributorID: distributorID,
		Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(8)}},
		Reference:     testRef(),
	})
	require.NoError(t, err)
	check(15, 0, 15)

	_, err = h.stock.ReturnStock(ctx, ReturnStockRequest{
		DistributorID: distributorID,
		Lines:         []StockLineInput{{ItemID: itemID, Quantity: qty(2)}},
		Reference:     ReferenceInput{Type: "CREDIT_NOTE", ID: uuid.New()},
	})
	require.NoError(t, err)
	check(17, 0, 17)

	// Every committed entry is immutable and still present
	var entries int
	for _, txn := range h.store.txns {
		require.True(t, txn.CountsTowardsStock())
		entries++
	}
	assert.Equal(t, 5, entries)
	assert.False(t, errors.Is(err, shared.ErrConcurrencyConflict))
}
