package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExpiryWarningWindow is how close to expiry a lot must be before operations
// that touch it carry a warning. Warnings never block.
const ExpiryWarningWindow = 30 * 24 * time.Hour

// CoreService answers stock queries and manages lots and serials. All
// quantities it reports are derived from the transaction ledger at call time;
// nothing is read from stored counters.
type CoreService struct {
	warehouseRepo inventory.WarehouseRepository
	lotRepo       inventory.LotRepository
	serialRepo    inventory.SerialRepository
	txnRepo       inventory.TransactionRepository
	resolver      TrackingResolver
	scope         TransactionScope
	cache         StockViewCache
	publisher     shared.EventPublisher
	logger        *zap.Logger
}

// NewCoreService creates a new CoreService
func NewCoreService(
	warehouseRepo inventory.WarehouseRepository,
	lotRepo inventory.LotRepository,
	serialRepo inventory.SerialRepository,
	txnRepo inventory.TransactionRepository,
	resolver TrackingResolver,
	scope TransactionScope,
	logger *zap.Logger,
) *CoreService {
	return &CoreService{
		warehouseRepo: warehouseRepo,
		lotRepo:       lotRepo,
		serialRepo:    serialRepo,
		txnRepo:       txnRepo,
		resolver:      resolver,
		scope:         scope,
		publisher:     shared.NoOpEventPublisher{},
		logger:        logger,
	}
}

// SetStockViewCache wires the inventory view cache
func (s *CoreService) SetStockViewCache(cache StockViewCache) {
	s.cache = cache
}

// SetEventPublisher wires the domain event publisher
func (s *CoreService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// GetOrCreateDefaultWarehouse returns the distributor's MAIN warehouse,
// creating it on first use.
func (s *CoreService) GetOrCreateDefaultWarehouse(ctx context.Context, distributorID uuid.UUID) (*inventory.Warehouse, error) {
	return s.warehouseRepo.GetOrCreateMain(ctx, distributorID)
}

// resolveWarehouse returns the requested warehouse, defaulting to MAIN
func (s *CoreService) resolveWarehouse(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID) (*inventory.Warehouse, error) {
	return resolveWarehouse(ctx, s.warehouseRepo, distributorID, warehouseID)
}

// resolveWarehouse returns the requested warehouse, creating the MAIN
// warehouse lazily when none is named.
func resolveWarehouse(ctx context.Context, repo inventory.WarehouseRepository, distributorID uuid.UUID, warehouseID *uuid.UUID) (*inventory.Warehouse, error) {
	if warehouseID == nil {
		return repo.GetOrCreateMain(ctx, distributorID)
	}
	warehouse, err := repo.FindByID(ctx, distributorID, *warehouseID)
	if err != nil {
		return nil, err
	}
	if warehouse == nil {
		return nil, shared.ErrNotFound
	}
	return warehouse, nil
}

// GetStockBalance returns the derived position of one item in one warehouse
func (s *CoreService) GetStockBalance(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID, itemID uuid.UUID) (StockBalanceDTO, error) {
	if _, err := s.resolver.Resolve(ctx, distributorID, itemID); err != nil {
		return StockBalanceDTO{}, err
	}
	warehouse, err := s.resolveWarehouse(ctx, distributorID, warehouseID)
	if err != nil {
		return StockBalanceDTO{}, err
	}

	balance, err := s.txnRepo.StockBalanceFor(ctx, distributorID, warehouse.ID, itemID)
	if err != nil {
		return StockBalanceDTO{}, err
	}
	if err := s.checkBalance(itemID, balance); err != nil {
		return StockBalanceDTO{}, err
	}

	return StockBalanceDTO{
		ItemID:      itemID,
		WarehouseID: warehouse.ID,
		OnHand:      balance.OnHand,
		Reserved:    balance.Reserved,
		Available:   balance.Available,
	}, nil
}

// GetAvailableQuantity returns the quantity allocation may consume
func (s *CoreService) GetAvailableQuantity(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID, itemID uuid.UUID) (decimal.Decimal, error) {
	balance, err := s.GetStockBalance(ctx, distributorID, warehouseID, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Available, nil
}

// checkBalance rejects a derived balance that violates the non-negative
// invariant. Such a balance means a writer bypassed validation.
func (s *CoreService) checkBalance(itemID uuid.UUID, balance inventory.StockBalance) error {
	if balance.OnHand.IsNegative() || balance.Available.IsNegative() {
		s.logger.Error("derived stock balance is negative",
			zap.String("item_id", itemID.String()),
			zap.String("on_hand", balance.OnHand.String()),
			zap.String("available", balance.Available.String()),
		)
		return &inventory.InternalConsistencyError{
			ItemID:  itemID,
			Balance: balance.Available,
			Detail:  "aggregated balance is negative",
		}
	}
	return nil
}

// GetInventoryView returns the warehouse-wide stock summary, served from the
// cache when fresh and rebuilt from ledger aggregation otherwise.
func (s *CoreService) GetInventoryView(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID) ([]inventory.ItemStockSummary, error) {
	warehouse, err := s.resolveWarehouse(ctx, distributorID, warehouseID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if summary, ok, err := s.cache.Get(ctx, distributorID, warehouse.ID); err != nil {
			s.logger.Warn("stock view cache read failed", zap.Error(err))
		} else if ok {
			return summary, nil
		}
	}

	summary, err := s.txnRepo.StockSummary(ctx, distributorID, warehouse.ID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, distributorID, warehouse.ID, summary); err != nil {
			s.logger.Warn("stock view cache write failed", zap.Error(err))
		}
	}
	return summary, nil
}

// invalidateView drops the cached summary after a ledger write
func (s *CoreService) invalidateView(ctx context.Context, distributorID, warehouseID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, distributorID, warehouseID); err != nil {
		s.logger.Warn("stock view cache invalidation failed",
			zap.String("warehouse_id", warehouseID.String()),
			zap.Error(err),
		)
	}
}

// GetAvailableLots returns the usable lots of an item with their derived
// quantities, in FEFO order.
func (s *CoreService) GetAvailableLots(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID, itemID uuid.UUID) ([]LotDTO, error) {
	if _, err := s.resolver.Resolve(ctx, distributorID, itemID); err != nil {
		return nil, err
	}
	warehouse, err := s.resolveWarehouse(ctx, distributorID, warehouseID)
	if err != nil {
		return nil, err
	}

	availability, err := lotAvailability(ctx, s.lotRepo, s.txnRepo, distributorID, warehouse.ID, itemID, false)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dtos := make([]LotDTO, 0, len(availability))
	for _, la := range availability {
		if la.Lot.IsUsable(now) && la.Available.GreaterThan(decimal.Zero) {
			dtos = append(dtos, NewLotDTO(la.Lot, la.Available, now))
		}
	}
	sortLotDTOsFEFO(dtos)
	return dtos, nil
}

// PlanAllocation runs the allocation strategy without committing anything.
// Callers use it to preview which lots an issue would draw from.
func (s *CoreService) PlanAllocation(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID, itemID uuid.UUID, quantity decimal.Decimal, lotNumber string) (AllocationPlanResult, error) {
	tracking, err := s.resolver.Resolve(ctx, distributorID, itemID)
	if err != nil {
		return AllocationPlanResult{}, err
	}
	if !tracking.Mode.UsesBatches() {
		return AllocationPlanResult{}, shared.NewDomainError("NOT_BATCH_TRACKED", "Item is not batch tracked")
	}
	warehouse, err := s.resolveWarehouse(ctx, distributorID, warehouseID)
	if err != nil {
		return AllocationPlanResult{}, err
	}

	availability, err := lotAvailability(ctx, s.lotRepo, s.txnRepo, distributorID, warehouse.ID, itemID, false)
	if err != nil {
		return AllocationPlanResult{}, err
	}

	now := time.Now().UTC()
	method := inventory.AllocationMethodFEFO
	if lotNumber != "" {
		method = inventory.AllocationMethodSpecified
	}
	plan, err := inventory.NewAllocationStrategy(method, lotNumber).Allocate(now, itemID, quantity, availability)
	if err != nil {
		return AllocationPlanResult{}, err
	}

	return AllocationPlanResult{
		ItemID:         itemID,
		Requested:      quantity,
		Lines:          allocationLines(plan),
		ExpiryWarnings: s.expiryWarnings(itemID, plan, now),
	}, nil
}

// GetLotByNumber returns one lot with its derived availability
func (s *CoreService) GetLotByNumber(ctx context.Context, distributorID, itemID uuid.UUID, lotNumber string) (LotDTO, error) {
	lot, err := s.lotRepo.FindByLotNumber(ctx, distributorID, itemID, lotNumber)
	if err != nil {
		return LotDTO{}, err
	}
	if lot == nil {
		return LotDTO{}, &inventory.BatchNotFoundError{LotNumber: lotNumber, ItemID: itemID}
	}

	byLot, err := s.txnRepo.AvailableByLot(ctx, distributorID, lot.WarehouseID, itemID)
	if err != nil {
		return LotDTO{}, err
	}
	return NewLotDTO(lot, byLot[lot.ID], time.Now().UTC()), nil
}

// CreateLot registers a lot ahead of receiving stock into it
func (s *CoreService) CreateLot(ctx context.Context, req CreateLotRequest) (LotDTO, error) {
	tracking, err := s.resolver.Resolve(ctx, req.DistributorID, req.ItemID)
	if err != nil {
		return LotDTO{}, err
	}
	if !tracking.Mode.UsesBatches() {
		return LotDTO{}, shared.NewDomainError("NOT_BATCH_TRACKED", "Item is not batch tracked")
	}
	warehouse, err := s.resolveWarehouse(ctx, req.DistributorID, req.WarehouseID)
	if err != nil {
		return LotDTO{}, err
	}

	existing, err := s.lotRepo.FindByLotNumber(ctx, req.DistributorID, req.ItemID, req.LotNumber)
	if err != nil {
		return LotDTO{}, err
	}
	if existing != nil {
		return LotDTO{}, shared.ErrAlreadyExists
	}

	lot, err := inventory.NewInventoryLot(
		req.DistributorID, req.LotNumber, req.ItemID, warehouse.ID,
		req.ManufactureDate, req.ExpiryDate, req.UnitCost,
	)
	if err != nil {
		return LotDTO{}, err
	}
	if req.UserID != nil {
		lot.SetCreatedBy(*req.UserID)
	}
	if err := s.lotRepo.Create(ctx, lot); err != nil {
		return LotDTO{}, err
	}
	return NewLotDTO(lot, decimal.Zero, time.Now().UTC()), nil
}

// GetExpiringLots returns lots expiring within the given number of days,
// soonest first.
func (s *CoreService) GetExpiringLots(ctx context.Context, distributorID uuid.UUID, warehouseID *uuid.UUID, withinDays int) ([]LotDTO, error) {
	warehouse, err := s.resolveWarehouse(ctx, distributorID, warehouseID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := now.Add(time.Duration(withinDays) * 24 * time.Hour)
	lots, err := s.lotRepo.FindExpiringBefore(ctx, distributorID, warehouse.ID, cutoff)
	if err != nil {
		return nil, err
	}

	dtos := make([]LotDTO, 0, len(lots))
	for _, lot := range lots {
		byLot, err := s.txnRepo.AvailableByLot(ctx, distributorID, warehouse.ID, lot.ItemID)
		if err != nil {
			return nil, err
		}
		available := byLot[lot.ID]
		if available.GreaterThan(decimal.Zero) {
			dtos = append(dtos, NewLotDTO(lot, available, now))
		}
	}
	return dtos, nil
}

// GetSerialByNumber returns one serialized unit
func (s *CoreService) GetSerialByNumber(ctx context.Context, distributorID, itemID uuid.UUID, serialNumber string) (SerialDTO, error) {
	serial, err := s.serialRepo.FindBySerialNumber(ctx, distributorID, itemID, serialNumber)
	if err != nil {
		return SerialDTO{}, err
	}
	if serial == nil {
		return SerialDTO{}, &inventory.SerialNotFoundError{SerialNumber: serialNumber, ItemID: itemID}
	}
	return NewSerialDTO(serial), nil
}

// UpdateSerialStatus drives an explicit serial state transition (damage,
// inspection outcome). Sale and return transitions happen inside the stock
// workflows, never here.
func (s *CoreService) UpdateSerialStatus(ctx context.Context, req UpdateSerialStatusRequest) (SerialDTO, error) {
	var dto SerialDTO
	var events []shared.DomainEvent

	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		serial, err := repos.SerialRepo().FindBySerialNumber(ctx, req.DistributorID, req.ItemID, req.SerialNumber)
		if err != nil {
			return err
		}
		if serial == nil {
			return &inventory.SerialNotFoundError{SerialNumber: req.SerialNumber, ItemID: req.ItemID}
		}

		if err := serial.TransitionTo(req.TargetStatus, inventory.TransitionContext{
			OwnerID: req.OwnerID,
			Remarks: req.Remarks,
		}); err != nil {
			return err
		}
		if err := repos.SerialRepo().SaveWithLock(ctx, serial); err != nil {
			return err
		}

		dto = NewSerialDTO(serial)
		events = serial.GetDomainEvents()
		serial.ClearDomainEvents()
		return nil
	})
	if err != nil {
		return SerialDTO{}, err
	}

	s.publish(ctx, events)
	return dto, nil
}

// ListTransactions returns a page of the ledger, newest first by default
func (s *CoreService) ListTransactions(ctx context.Context, distributorID uuid.UUID, filter inventory.TransactionFilter) (*shared.Paginated[TransactionDTO], error) {
	page, err := s.txnRepo.List(ctx, distributorID, filter)
	if err != nil {
		return nil, err
	}

	dtos := make([]TransactionDTO, 0, len(page.Items))
	for i := range page.Items {
		dtos = append(dtos, NewTransactionDTO(&page.Items[i]))
	}
	result := shared.NewPaginated(dtos, page.Total, page.Page, page.PageSize)
	return &result, nil
}

// GetTransactionByNumber returns one ledger entry
func (s *CoreService) GetTransactionByNumber(ctx context.Context, distributorID uuid.UUID, number string) (TransactionDTO, error) {
	txn, err := s.txnRepo.FindByNumber(ctx, distributorID, number)
	if err != nil {
		return TransactionDTO{}, err
	}
	if txn == nil {
		return TransactionDTO{}, shared.ErrNotFound
	}
	return NewTransactionDTO(txn), nil
}

// publish delivers domain events after a successful commit. Publish failures
// are logged, never surfaced: the write already happened.
func (s *CoreService) publish(ctx context.Context, events []shared.DomainEvent) {
	if len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish domain events", zap.Int("count", len(events)), zap.Error(err))
	}
}

// expiryWarnings flags plan lines drawn from lots close to expiry
func (s *CoreService) expiryWarnings(itemID uuid.UUID, plan []inventory.LotAllocation, now time.Time) []ExpiryWarning {
	return collectExpiryWarnings(s.logger, itemID, plan, now)
}

// collectExpiryWarnings flags allocation lines drawn from lots that expire
// within the warning window.
func collectExpiryWarnings(logger *zap.Logger, itemID uuid.UUID, plan []inventory.LotAllocation, now time.Time) []ExpiryWarning {
	var warnings []ExpiryWarning
	for _, line := range plan {
		if line.ExpiryDate == nil || !line.ExpiryDate.Before(now.Add(ExpiryWarningWindow)) {
			continue
		}
		daysLeft := int(line.ExpiryDate.Sub(now).Hours() / 24)
		warnings = append(warnings, ExpiryWarning{
			ItemID:     itemID,
			LotNumber:  line.LotNumber,
			ExpiryDate: *line.ExpiryDate,
			DaysLeft:   daysLeft,
		})
		logger.Warn("allocation draws from a lot close to expiry",
			zap.String("item_id", itemID.String()),
			zap.String("lot_number", line.LotNumber),
			zap.Int("days_left", daysLeft),
		)
	}
	return warnings
}

// lotAvailability joins the lots of an item with their ledger-derived
// quantities. With forUpdate set, the lot rows stay locked until the
// surrounding transaction ends.
func lotAvailability(
	ctx context.Context,
	lotRepo inventory.LotRepository,
	txnRepo inventory.TransactionRepository,
	distributorID, warehouseID, itemID uuid.UUID,
	forUpdate bool,
) ([]inventory.LotAvailability, error) {
	var lots []*inventory.InventoryLot
	var err error
	if forUpdate {
		lots, err = lotRepo.FindByItemForUpdate(ctx, distributorID, itemID, warehouseID)
	} else {
		lots, err = lotRepo.FindByItem(ctx, distributorID, itemID, warehouseID)
	}
	if err != nil {
		return nil, err
	}

	byLot, err := txnRepo.AvailableByLot(ctx, distributorID, warehouseID, itemID)
	if err != nil {
		return nil, err
	}

	availability := make([]inventory.LotAvailability, 0, len(lots))
	for _, lot := range lots {
		availability = append(availability, inventory.LotAvailability{
			Lot:       lot,
			Available: byLot[lot.ID],
		})
	}
	return availability, nil
}

func allocationLines(plan []inventory.LotAllocation) []AllocationLine {
	lines := make([]AllocationLine, 0, len(plan))
	for _, p := range plan {
		lines = append(lines, AllocationLine{
			LotID:      p.LotID,
			LotNumber:  p.LotNumber,
			Quantity:   p.Quantity,
			UnitCost:   p.UnitCost,
			ExpiryDate: p.ExpiryDate,
		})
	}
	return lines
}

func sortLotDTOsFEFO(dtos []LotDTO) {
	sort.SliceStable(dtos, func(i, j int) bool {
		return lotDTOBefore(dtos[i], dtos[j])
	})
}

func lotDTOBefore(a, b LotDTO) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate == nil:
		return false
	case a.ExpiryDate == nil:
		return false
	case b.ExpiryDate == nil:
		return true
	default:
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
}
