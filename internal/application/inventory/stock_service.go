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

// StockService commits stock movements. Every operation validates all of its
// lines before writing any ledger entry, and runs inside a single transaction
// scope: a partial commit is impossible. The per-item stock key is locked
// before validation so the quantities checked are the quantities committed
// against.
type StockService struct {
	warehouseRepo inventory.WarehouseRepository
	resolver      TrackingResolver
	scope         TransactionScope
	cache         StockViewCache
	publisher     shared.EventPublisher
	logger        *zap.Logger
}

// NewStockService creates a new StockService
func NewStockService(
	warehouseRepo inventory.WarehouseRepository,
	resolver TrackingResolver,
	scope TransactionScope,
	logger *zap.Logger,
) *StockService {
	return &StockService{
		warehouseRepo: warehouseRepo,
		resolver:      resolver,
		scope:         scope,
		publisher:     shared.NoOpEventPublisher{},
		logger:        logger,
	}
}

// SetStockViewCache wires the inventory view cache
func (s *StockService) SetStockViewCache(cache StockViewCache) {
	s.cache = cache
}

// SetEventPublisher wires the domain event publisher
func (s *StockService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// pendingWrites collects everything a validated operation will persist.
// Nothing touches storage until every line has passed validation.
type pendingWrites struct {
	transactions []*inventory.InventoryTransaction
	serialSaves  []*inventory.InventorySerial
	newSerials   []*inventory.InventorySerial
	newLots      []*inventory.InventoryLot
	warnings     []ExpiryWarning
	events       []shared.DomainEvent
}

func (p *pendingWrites) addEvent(event shared.DomainEvent) {
	p.events = append(p.events, event)
}

func (p *pendingWrites) commit(ctx context.Context, repos TransactionalRepositories) error {
	for _, lot := range p.newLots {
		if err := repos.LotRepo().Create(ctx, lot); err != nil {
			return err
		}
	}
	if len(p.newSerials) > 0 {
		if err := repos.SerialRepo().CreateBatch(ctx, p.newSerials); err != nil {
			return err
		}
	}
	for _, serial := range p.serialSaves {
		if err := repos.SerialRepo().SaveWithLock(ctx, serial); err != nil {
			return err
		}
	}
	if len(p.transactions) > 0 {
		if err := repos.TransactionRepo().CreateBatch(ctx, p.transactions); err != nil {
			return err
		}
	}
	return nil
}

// IssueStock issues stock against a sales document. Batch-tracked lines are
// allocated FEFO unless the line pins a lot; serial-tracked lines require the
// exact serial numbers being sold.
func (s *StockService) IssueStock(ctx context.Context, req IssueStockRequest) (StockOperationResult, error) {
	warehouse, err := resolveWarehouse(ctx, s.warehouseRepo, req.DistributorID, req.WarehouseID)
	if err != nil {
		return StockOperationResult{}, err
	}

	trackings, err := s.resolveLines(ctx, req.DistributorID, req.Lines)
	if err != nil {
		return StockOperationResult{}, err
	}

	var pending pendingWrites
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := s.lockLines(ctx, repos, req.DistributorID, warehouse.ID, req.Lines); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i, line := range req.Lines {
			if err := s.planOutboundLine(ctx, repos, outboundLine{
				distributorID: req.DistributorID,
				warehouseID:   warehouse.ID,
				line:          line,
				tracking:      trackings[i],
				txType:        inventory.TransactionTypeSalesIssue,
				reference:     req.Reference,
				customerID:    req.CustomerID,
				userID:        req.UserID,
				remarks:       req.Remarks,
				now:           now,
			}, &pending); err != nil {
				return err
			}
		}
		return pending.commit(ctx, repos)
	})
	if err != nil {
		return StockOperationResult{}, err
	}

	return s.finish(ctx, req.DistributorID, warehouse.ID, &pending), nil
}

// PurchaseReturn sends stock back to the supplier. Semantically an outbound
// movement; serialized units end up company-owned.
func (s *StockService) PurchaseReturn(ctx context.Context, req PurchaseReturnRequest) (StockOperationResult, error) {
	warehouse, err := resolveWarehouse(ctx, s.warehouseRepo, req.DistributorID, req.WarehouseID)
	if err != nil {
		return StockOperationResult{}, err
	}

	trackings, err := s.resolveLines(ctx, req.DistributorID, req.Lines)
	if err != nil {
		return StockOperationResult{}, err
	}

	var pending pendingWrites
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := s.lockLines(ctx, repos, req.DistributorID, warehouse.ID, req.Lines); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i, line := range req.Lines {
			if err := s.planOutboundLine(ctx, repos, outboundLine{
				distributorID: req.DistributorID,
				warehouseID:   warehouse.ID,
				line:          line,
				tracking:      trackings[i],
				txType:        inventory.TransactionTypePurchaseReturn,
				reference:     req.Reference,
				userID:        req.UserID,
				remarks:       req.Remarks,
				toCompany:     true,
				now:           now,
			}, &pending); err != nil {
				return err
			}
		}
		return pending.commit(ctx, repos)
	})
	if err != nil {
		return StockOperationResult{}, err
	}

	return s.finish(ctx, req.DistributorID, warehouse.ID, &pending), nil
}

// ReceiveStock receives stock against a GRN. Batch-tracked lines create or
// reuse their lot; serial-tracked lines register each unit.
func (s *StockService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) (StockOperationResult, error) {
	txType := req.TransactionType
	if txType == "" {
		txType = inventory.TransactionTypeGRNReceipt
	}
	return s.receive(ctx, req, txType)
}

// RecordOpeningStock records initial stock during onboarding or migration.
// Identical to a receipt except for the ledger classification.
func (s *StockService) RecordOpeningStock(ctx context.Context, req ReceiveStockRequest) (StockOperationResult, error) {
	return s.receive(ctx, req, inventory.TransactionTypeOpeningStock)
}

func (s *StockService) receive(ctx context.Context, req ReceiveStockRequest, txType inventory.TransactionType) (StockOperationResult, error) {
	warehouse, err := resolveWarehouse(ctx, s.warehouseRepo, req.DistributorID, req.WarehouseID)
	if err != nil {
		return StockOperationResult{}, err
	}

	var pending pendingWrites
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		itemIDs := make([]uuid.UUID, 0, len(req.Lines))
		for _, line := range req.Lines {
			itemIDs = append(itemIDs, line.ItemID)
		}
		if err := lockStockKeys(ctx, repos, req.DistributorID, warehouse.ID, itemIDs); err != nil {
			return err
		}

		for _, line := range req.Lines {
			tracking, err := s.resolver.Resolve(ctx, req.DistributorID, line.ItemID)
			if err != nil {
				return err
			}
			if err := s.planReceiveLine(ctx, repos, req, warehouse.ID, line, tracking, txType, &pending); err != nil {
				return err
			}
		}
		return pending.commit(ctx, repos)
	})
	if err != nil {
		return StockOperationResult{}, err
	}

	return s.finish(ctx, req.DistributorID, warehouse.ID, &pending), nil
}

func (s *StockService) planReceiveLine(
	ctx context.Context,
	repos TransactionalRepositories,
	req ReceiveStockRequest,
	warehouseID uuid.UUID,
	line ReceiveLine,
	tracking ItemTracking,
	txType inventory.TransactionType,
	pending *pendingWrites,
) error {
	var lot *inventory.InventoryLot
	if tracking.Mode.UsesBatches() {
		if line.LotNumber == "" {
			return shared.NewDomainError("LOT_REQUIRED", "Batch tracked items require a lot number on receipt")
		}
		existing, err := repos.LotRepo().FindByLotNumber(ctx, req.DistributorID, line.ItemID, line.LotNumber)
		if err != nil {
			return err
		}
		if existing != nil {
			lot = existing
		} else {
			created, err := inventory.NewInventoryLot(
				req.DistributorID, line.LotNumber, line.ItemID, warehouseID,
				line.ManufactureDate, line.ExpiryDate, line.UnitCost,
			)
			if err != nil {
				return err
			}
			if req.UserID != nil {
				created.SetCreatedBy(*req.UserID)
			}
			pending.newLots = append(pending.newLots, created)
			lot = created
		}
	} else if line.LotNumber != "" {
		return shared.NewDomainError("NOT_BATCH_TRACKED", "Item is not batch tracked")
	}

	ref := inventory.Reference{Type: req.Reference.Type, ID: req.Reference.ID, No: req.Reference.No}

	if tracking.Mode.RequiresSerial() {
		if err := checkSerialCount(line.ItemID, line.Quantity, line.SerialNumbers); err != nil {
			return err
		}
		for _, serialNumber := range line.SerialNumbers {
			existing, err := repos.SerialRepo().FindBySerialNumber(ctx, req.DistributorID, line.ItemID, serialNumber)
			if err != nil {
				return err
			}
			if existing != nil {
				return shared.NewDomainError("SERIAL_EXISTS", "Serial number already registered: "+serialNumber)
			}

			var lotID *uuid.UUID
			if lot != nil {
				id := lot.ID
				lotID = &id
			}
			serial, err := inventory.NewInventorySerial(
				req.DistributorID, serialNumber, line.ItemID, warehouseID, lotID, line.UnitCost,
			)
			if err != nil {
				return err
			}
			if req.UserID != nil {
				serial.SetCreatedBy(*req.UserID)
			}
			pending.newSerials = append(pending.newSerials, serial)

			txn, err := inventory.NewInventoryTransaction(
				req.DistributorID, txType, inventory.MovementIn,
				line.ItemID, warehouseID, decimal.NewFromInt(1), line.UnitCost, ref,
			)
			if err != nil {
				return err
			}
			txn.WithSerial(serial.ID).WithRemarks(req.Remarks)
			if lot != nil {
				txn.WithLot(lot.ID)
			}
			if req.UserID != nil {
				txn.WithCreatedBy(*req.UserID)
			}
			pending.transactions = append(pending.transactions, txn)
			pending.addEvent(inventory.NewStockReceivedEvent(txn))
		}
		return nil
	}

	txn, err := inventory.NewInventoryTransaction(
		req.DistributorID, txType, inventory.MovementIn,
		line.ItemID, warehouseID, line.Quantity, line.UnitCost, ref,
	)
	if err != nil {
		return err
	}
	txn.WithRemarks(req.Remarks)
	if lot != nil {
		txn.WithLot(lot.ID)
	}
	if req.UserID != nil {
		txn.WithCreatedBy(*req.UserID)
	}
	pending.transactions = append(pending.transactions, txn)
	pending.addEvent(inventory.NewStockReceivedEvent(txn))
	return nil
}

// ReturnStock receives previously sold stock back from a customer. Serialized
// units move to RETURNED and await inspection before becoming sellable again.
func (s *StockService) ReturnStock(ctx context.Context, req ReturnStockRequest) (StockOperationResult, error) {
	warehouse, err := resolveWarehouse(ctx, s.warehouseRepo, req.DistributorID, req.WarehouseID)
	if err != nil {
		return StockOperationResult{}, err
	}

	trackings, err := s.resolveLines(ctx, req.DistributorID, req.Lines)
	if err != nil {
		return StockOperationResult{}, err
	}

	ref := inventory.Reference{Type: req.Reference.Type, ID: req.Reference.ID, No: req.Reference.No}

	var pending pendingWrites
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := s.lockLines(ctx, repos, req.DistributorID, warehouse.ID, req.Lines); err != nil {
			return err
		}

		for i, line := range req.Lines {
			tracking := trackings[i]

			if tracking.Mode.RequiresSerial() {
				if err := checkSerialCount(line.ItemID, line.Quantity, line.SerialNumbers); err != nil {
					return err
				}
				for _, serialNumber := range line.SerialNumbers {
					serial, err := repos.SerialRepo().FindBySerialNumber(ctx, req.DistributorID, line.ItemID, serialNumber)
					if err != nil {
						return err
					}
					if serial == nil {
						return &inventory.SerialNotFoundError{SerialNumber: serialNumber, ItemID: line.ItemID}
					}
					if err := serial.TransitionTo(inventory.SerialStatusReturned, inventory.TransitionContext{
						Remarks: req.Remarks,
					}); err != nil {
						return err
					}
					pending.serialSaves = append(pending.serialSaves, serial)

					txn, err := inventory.NewInventoryTransaction(
						req.DistributorID, inventory.TransactionTypeSalesReturn, inventory.MovementIn,
						line.ItemID, warehouse.ID, decimal.NewFromInt(1), serial.UnitCost, ref,
					)
					if err != nil {
						return err
					}
					txn.WithSerial(serial.ID).WithRemarks(req.Remarks)
					if serial.LotID != nil {
						txn.WithLot(*serial.LotID)
					}
					if req.UserID != nil {
						txn.WithCreatedBy(*req.UserID)
					}
					pending.transactions = append(pending.transactions, txn)
					pending.addEvent(inventory.NewStockReceivedEvent(txn))
					for _, event := range serial.GetDomainEvents() {
						pending.addEvent(event)
					}
					serial.ClearDomainEvents()
				}
				continue
			}

			var lot *inventory.InventoryLot
			if tracking.Mode.UsesBatches() {
				if line.LotNumber == "" {
					return shared.NewDomainError("LOT_REQUIRED", "Batch tracked returns must name the lot")
				}
				lot, err = repos.LotRepo().FindByLotNumber(ctx, req.DistributorID, line.ItemID, line.LotNumber)
				if err != nil {
					return err
				}
				if lot == nil {
					return &inventory.BatchNotFoundError{LotNumber: line.LotNumber, ItemID: line.ItemID}
				}
			}

			unitCost := decimal.Zero
			if line.UnitCost != nil {
				unitCost = *line.UnitCost
			} else if lot != nil {
				unitCost = lot.UnitCost
			}
			txn, err := inventory.NewInventoryTransaction(
				req.DistributorID, inventory.TransactionTypeSalesReturn, inventory.MovementIn,
				line.ItemID, warehouse.ID, line.Quantity, unitCost, ref,
			)
			if err != nil {
				return err
			}
			txn.WithRemarks(req.Remarks)
			if lot != nil {
				txn.WithLot(lot.ID)
			}
			if req.UserID != nil {
				txn.WithCreatedBy(*req.UserID)
			}
			pending.transactions = append(pending.transactions, txn)
			pending.addEvent(inventory.NewStockReceivedEvent(txn))
		}
		return pending.commit(ctx, repos)
	})
	if err != nil {
		return StockOperationResult{}, err
	}

	return s.finish(ctx, req.DistributorID, warehouse.ID, &pending), nil
}

// ReserveStock holds stock for a pending order. Reservations are item-level:
// lots are chosen at issue time, not at reservation time. Serial-tracked
// lines pin the named units.
func (s *StockService) ReserveStock(ctx context.Context, req ReserveStockRequest) (StockOperationResult, error) {
	warehouse, err := resolveWarehouse(ctx, s.warehouseRepo, req.DistributorID, req.WarehouseID)
	if err != nil {
		return StockOperationResult{}, err
	}

	trackings, err := s.resolveLines(ctx, req.DistributorID, req.Lines)
	if err != nil {
		return StockOperationResult{}, err
	}

	ref := inventory.Reference{Type: req.Reference.Type, ID: req.Reference.ID, No: req.Reference.No}

	var pending pendingWrites
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := s.lockLines(ctx, repos, req.DistributorID, warehouse.ID, req.Lines); err != nil {
			return err
		}

		for i, line := range req.Lines {
			tracking := trackings[i]

			balance, err := repos.TransactionRepo().StockBalanceFor(ctx, req.DistributorID, warehouse.ID, line.ItemID)
			if err != nil {
				return err
			}
			if balance.Available.LessThan(line.Quantity) {
				return &inventory.InsufficientStockError{
					ItemID:    line.ItemID,
					Requested: line.Quantity,
					Available: balance.Available,
				}
			}

			if tracking.Mode.RequiresSerial() {
				if err := checkSerialCount(line.ItemID, line.Quantity, line.SerialNumbers); err != nil {
					return err
				}
				for _, serialNumber := range line.SerialNumbers {
					serial, err := repos.SerialRepo().FindBySerialNumber(ctx, req.DistributorID, line.ItemID, serialNumber)
					if err != nil {
						return err
					}
					if serial == nil {
						return &inventory.SerialNotFoundError{SerialNumber: serialNumber, ItemID: line.ItemID}
					}
					if !serial.IsAvailable() {
						return &inventory.SerialNotAvailableError{SerialNumber: serialNumber, Status: serial.Status}
					}
					if err := serial.TransitionTo(inventory.SerialStatusReserved, inventory.TransitionContext{}); err != nil {
						return err
					}
					pending.serialSaves = append(pending.serialSaves, serial)

					txn, err := inventory.NewInventoryTransaction(
						req.DistributorID, inventory.TransactionTypeReservation, inventory.MovementReserve,
						line.ItemID, warehouse.ID, decimal.NewFromInt(1), serial.UnitCost, ref,
					)
					if err != nil {
						return err
					}
					txn.WithSerial(serial.ID)
					if serial.LotID != nil {
						txn.WithLot(*serial.LotID)
					}
					if req.UserID != nil {
						txn.WithCreatedBy(*req.UserID)
					}
					pending.transactions = append(pending.transactions, txn)
					pending.addEvent(inventory.NewStockReservedEvent(txn))
					for _, event := range serial.GetDomainEvents() {
						pending.addEvent(event)
					}
					serial.ClearDomainEvents()
				}
				continue
			}

			txn, err := inventory.NewInventoryTransaction(
				req.DistributorID, inventory.TransactionTypeReservation, inventory.MovementReserve,
				line.ItemID, warehouse.ID, line.Quantity, decimal.Zero, ref,
			)
			if err != nil {
				return err
			}
			if req.UserID != nil {
				txn.WithCreatedBy(*req.UserID)
			}
			pending.transactions = append(pending.transactions, txn)
			pending.addEvent(inventory.NewStockReservedEvent(txn))
		}
		return pending.commit(ctx, repos)
	})
	if err != nil {
		return StockOperationResult{}, err
	}

	return s.finish(ctx, req.DistributorID, warehouse.ID, &pending), nil
}

// ReleaseReservation returns reserved stock to the available pool. A release
// can never exceed the open reserved balance.
func (s *StockService) ReleaseReservation(ctx context.Context, req ReleaseReservationRequest) (StockOperationResult, error) {
	warehouse, err := resolveWarehouse(ctx, s.warehouseRepo, req.DistributorID, req.WarehouseID)
	if err != nil {
		return StockOperationResult{}, err
	}

	trackings, err := s.resolveLines(ctx, req.DistributorID, req.Lines)
	if err != nil {
		return StockOperationResult{}, err
	}

	ref := inventory.Reference{Type: req.Reference.Type, ID: req.Reference.ID, No: req.Reference.No}

	var pending pendingWrites
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := s.lockLines(ctx, repos, req.DistributorID, warehouse.ID, req.Lines); err != nil {
			return err
		}

		for i, line := range req.Lines {
			tracking := trackings[i]

			balance, err := repos.TransactionRepo().StockBalanceFor(ctx, req.DistributorID, warehouse.ID, line.ItemID)
			if err != nil {
				return err
			}
			if balance.Reserved.LessThan(line.Quantity) {
				return shared.NewDomainError("RELEASE_EXCEEDS_RESERVED", "Cannot release more than is reserved")
			}

			if tracking.Mode.RequiresSerial() {
				if err := checkSerialCount(line.ItemID, line.Quantity, line.SerialNumbers); err != nil {
					return err
				}
				for _, serialNumber := range line.SerialNumbers {
					serial, err := repos.SerialRepo().FindBySerialNumber(ctx, req.DistributorID, line.ItemID, serialNumber)
					if err != nil {
						return err
					}
					if serial == nil {
						return &inventory.SerialNotFoundError{SerialNumber: serialNumber, ItemID: line.ItemID}
					}
					if err := serial.TransitionTo(inventory.SerialStatusAvailable, inventory.TransitionContext{}); err != nil {
						return err
					}
					pending.serialSaves = append(pending.serialSaves, serial)

					txn, err := inventory.NewInventoryTransaction(
						req.DistributorID, inventory.TransactionTypeReservationRelease, inventory.MovementRelease,
						line.ItemID, warehouse.ID, decimal.NewFromInt(1), serial.UnitCost, ref,
					)
					if err != nil {
						return err
					}
					txn.WithSerial(serial.ID)
					if serial.LotID != nil {
						txn.WithLot(*serial.LotID)
					}
					if req.UserID != nil {
						txn.WithCreatedBy(*req.UserID)
					}
					pending.transactions = append(pending.transactions, txn)
					pending.addEvent(inventory.NewReservationReleasedEvent(txn))
					for _, event := range serial.GetDomainEvents() {
						pending.addEvent(event)
					}
					serial.ClearDomainEvents()
				}
				continue
			}

			txn, err := inventory.NewInventoryTransaction(
				req.DistributorID, inventory.TransactionTypeReservationRelease, inventory.MovementRelease,
				line.ItemID, warehouse.ID, line.Quantity, decimal.Zero, ref,
			)
			if err != nil {
				return err
			}
			if req.UserID != nil {
				txn.WithCreatedBy(*req.UserID)
			}
			pending.transactions = append(pending.transactions, txn)
			pending.addEvent(inventory.NewReservationReleasedEvent(txn))
		}
		return pending.commit(ctx, repos)
	})
	if err != nil {
		return StockOperationResult{}, err
	}

	return s.finish(ctx, req.DistributorID, warehouse.ID, &pending), nil
}

// outboundLine bundles the inputs of one validated outbound line
type outboundLine struct {
	distributorID uuid.UUID
	warehouseID   uuid.UUID
	line          StockLineInput
	tracking      ItemTracking
	txType        inventory.TransactionType
	reference     ReferenceInput
	customerID    *uuid.UUID
	userID        *uuid.UUID
	remarks       string
	toCompany     bool
	now           time.Time
}

// planOutboundLine validates one outbound line and stages its writes.
// Dispatches on the item's tracking mode.
func (s *StockService) planOutboundLine(ctx context.Context, repos TransactionalRepositories, ol outboundLine, pending *pendingWrites) error {
	ref := inventory.Reference{Type: ol.reference.Type, ID: ol.reference.ID, No: ol.reference.No}

	if ol.tracking.Mode.RequiresSerial() {
		return s.planSerialOutbound(ctx, repos, ol, ref, pending)
	}

	if ol.tracking.Mode.UsesBatches() {
		return s.planBatchOutbound(ctx, repos, ol, ref, pending)
	}

	if ol.line.LotNumber != "" {
		return shared.NewDomainError("NOT_BATCH_TRACKED", "Item is not batch tracked")
	}

	balance, err := repos.TransactionRepo().StockBalanceFor(ctx, ol.distributorID, ol.warehouseID, ol.line.ItemID)
	if err != nil {
		return err
	}
	if balance.Available.LessThan(ol.line.Quantity) {
		return &inventory.InsufficientStockError{
			ItemID:    ol.line.ItemID,
			Requested: ol.line.Quantity,
			Available: balance.Available,
		}
	}

	unitCost := decimal.Zero
	if ol.line.UnitCost != nil {
		unitCost = *ol.line.UnitCost
	}
	txn, err := inventory.NewInventoryTransaction(
		ol.distributorID, ol.txType, inventory.MovementOut,
		ol.line.ItemID, ol.warehouseID, ol.line.Quantity, unitCost, ref,
	)
	if err != nil {
		return err
	}
	txn.WithRemarks(ol.remarks)
	if ol.userID != nil {
		txn.WithCreatedBy(*ol.userID)
	}
	pending.transactions = append(pending.transactions, txn)
	pending.addEvent(inventory.NewStockIssuedEvent(txn))
	return nil
}

func (s *StockService) planBatchOutbound(ctx context.Context, repos TransactionalRepositories, ol outboundLine, ref inventory.Reference, pending *pendingWrites) error {
	availability, err := lotAvailability(ctx, repos.LotRepo(), repos.TransactionRepo(),
		ol.distributorID, ol.warehouseID, ol.line.ItemID, true)
	if err != nil {
		return err
	}

	method := inventory.AllocationMethodFEFO
	if ol.line.LotNumber != "" {
		method = inventory.AllocationMethodSpecified
	}
	plan, err := inventory.NewAllocationStrategy(method, ol.line.LotNumber).
		Allocate(ol.now, ol.line.ItemID, ol.line.Quantity, availability)
	if err != nil {
		return err
	}

	// Item-level reservations carry no lot link, so the per-lot availability
	// the plan was built from cannot see them. The item balance can.
	balance, err := repos.TransactionRepo().StockBalanceFor(ctx, ol.distributorID, ol.warehouseID, ol.line.ItemID)
	if err != nil {
		return err
	}
	if balance.Available.LessThan(ol.line.Quantity) {
		return &inventory.InsufficientStockError{
			ItemID:    ol.line.ItemID,
			Requested: ol.line.Quantity,
			Available: balance.Available,
		}
	}

	pending.warnings = append(pending.warnings, collectExpiryWarnings(s.logger, ol.line.ItemID, plan, ol.now)...)

	for _, alloc := range plan {
		txn, err := inventory.NewInventoryTransaction(
			ol.distributorID, ol.txType, inventory.MovementOut,
			ol.line.ItemID, ol.warehouseID, alloc.Quantity, alloc.UnitCost, ref,
		)
		if err != nil {
			return err
		}
		txn.WithLot(alloc.LotID).WithRemarks(ol.remarks)
		if ol.userID != nil {
			txn.WithCreatedBy(*ol.userID)
		}
		pending.transactions = append(pending.transactions, txn)
		pending.addEvent(inventory.NewStockIssuedEvent(txn))
	}
	return nil
}

func (s *StockService) planSerialOutbound(ctx context.Context, repos TransactionalRepositories, ol outboundLine, ref inventory.Reference, pending *pendingWrites) error {
	if err := checkSerialCount(ol.line.ItemID, ol.line.Quantity, ol.line.SerialNumbers); err != nil {
		return err
	}

	var fromAvailable int64
	for _, serialNumber := range ol.line.SerialNumbers {
		serial, err := repos.SerialRepo().FindBySerialNumber(ctx, ol.distributorID, ol.line.ItemID, serialNumber)
		if err != nil {
			return err
		}
		if serial == nil {
			return &inventory.SerialNotFoundError{SerialNumber: serialNumber, ItemID: ol.line.ItemID}
		}
		if serial.Status != inventory.SerialStatusAvailable && serial.Status != inventory.SerialStatusReserved {
			return &inventory.SerialNotAvailableError{SerialNumber: serialNumber, Status: serial.Status}
		}
		wasReserved := serial.Status == inventory.SerialStatusReserved
		if !wasReserved {
			fromAvailable++
		}

		if ol.tracking.Mode.UsesBatches() && serial.LotID != nil {
			lot, err := repos.LotRepo().FindByID(ctx, ol.distributorID, *serial.LotID)
			if err != nil {
				return err
			}
			if lot != nil {
				if lot.IsExpired(ol.now) {
					expiry := ""
					if lot.ExpiryDate != nil {
						expiry = lot.ExpiryDate.Format("2006-01-02")
					}
					return &inventory.BatchExpiredError{LotNumber: lot.LotNumber, ExpiryDate: expiry}
				}
				pending.warnings = append(pending.warnings, collectExpiryWarnings(s.logger, ol.line.ItemID, []inventory.LotAllocation{{
					LotID:      lot.ID,
					LotNumber:  lot.LotNumber,
					Quantity:   decimal.NewFromInt(1),
					UnitCost:   lot.UnitCost,
					ExpiryDate: lot.ExpiryDate,
				}}, ol.now)...)
			}
		}

		transitionCtx := inventory.TransitionContext{
			OwnerType:  inventory.OwnerTypeCustomer,
			OwnerID:    ol.customerID,
			BillingRef: &ol.reference.ID,
			CustomerID: ol.customerID,
			Remarks:    ol.remarks,
		}
		if ol.toCompany {
			transitionCtx.OwnerType = inventory.OwnerTypeCompany
			transitionCtx.OwnerID = nil
			transitionCtx.CustomerID = nil
		}
		if err := serial.TransitionTo(inventory.SerialStatusSold, transitionCtx); err != nil {
			return err
		}
		pending.serialSaves = append(pending.serialSaves, serial)

		if wasReserved {
			// Selling a reserved unit closes its open reservation in the same
			// commit, so the unit leaves the ledger exactly once.
			release, err := inventory.NewInventoryTransaction(
				ol.distributorID, inventory.TransactionTypeReservationRelease, inventory.MovementRelease,
				ol.line.ItemID, ol.warehouseID, decimal.NewFromInt(1), serial.UnitCost, ref,
			)
			if err != nil {
				return err
			}
			release.WithSerial(serial.ID)
			if serial.LotID != nil {
				release.WithLot(*serial.LotID)
			}
			if ol.userID != nil {
				release.WithCreatedBy(*ol.userID)
			}
			pending.transactions = append(pending.transactions, release)
			pending.addEvent(inventory.NewReservationReleasedEvent(release))
		}

		txn, err := inventory.NewInventoryTransaction(
			ol.distributorID, ol.txType, inventory.MovementOut,
			ol.line.ItemID, ol.warehouseID, decimal.NewFromInt(1), serial.UnitCost, ref,
		)
		if err != nil {
			return err
		}
		txn.WithSerial(serial.ID).WithRemarks(ol.remarks)
		if serial.LotID != nil {
			txn.WithLot(*serial.LotID)
		}
		if ol.userID != nil {
			txn.WithCreatedBy(*ol.userID)
		}
		pending.transactions = append(pending.transactions, txn)
		pending.addEvent(inventory.NewStockIssuedEvent(txn))
		for _, event := range serial.GetDomainEvents() {
			pending.addEvent(event)
		}
		serial.ClearDomainEvents()
	}

	if fromAvailable > 0 {
		balance, err := repos.TransactionRepo().StockBalanceFor(ctx, ol.distributorID, ol.warehouseID, ol.line.ItemID)
		if err != nil {
			return err
		}
		need := decimal.NewFromInt(fromAvailable)
		if balance.Available.LessThan(need) {
			return &inventory.InsufficientStockError{
				ItemID:    ol.line.ItemID,
				Requested: need,
				Available: balance.Available,
			}
		}
	}
	return nil
}

// resolveLines resolves tracking for every line up front, so an unknown item
// fails the whole request before any lock is taken.
func (s *StockService) resolveLines(ctx context.Context, distributorID uuid.UUID, lines []StockLineInput) ([]ItemTracking, error) {
	trackings := make([]ItemTracking, 0, len(lines))
	for _, line := range lines {
		tracking, err := s.resolver.Resolve(ctx, distributorID, line.ItemID)
		if err != nil {
			return nil, err
		}
		trackings = append(trackings, tracking)
	}
	return trackings, nil
}

// lockLines serializes on the stock key of every line
func (s *StockService) lockLines(ctx context.Context, repos TransactionalRepositories, distributorID, warehouseID uuid.UUID, lines []StockLineInput) error {
	itemIDs := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		itemIDs = append(itemIDs, line.ItemID)
	}
	return lockStockKeys(ctx, repos, distributorID, warehouseID, itemIDs)
}

// lockStockKeys acquires the per-item stock key locks in sorted item order,
// skipping duplicates, so two requests touching the same items can never
// block each other in opposite order.
func lockStockKeys(ctx context.Context, repos TransactionalRepositories, distributorID, warehouseID uuid.UUID, itemIDs []uuid.UUID) error {
	sorted := make([]uuid.UUID, len(itemIDs))
	copy(sorted, itemIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	for i, itemID := range sorted {
		if i > 0 && itemID == sorted[i-1] {
			continue
		}
		if err := repos.TransactionRepo().AcquireStockKeyLock(ctx, distributorID, warehouseID, itemID); err != nil {
			return err
		}
	}
	return nil
}

// finish invalidates the cached view, publishes events and maps the result
func (s *StockService) finish(ctx context.Context, distributorID, warehouseID uuid.UUID, pending *pendingWrites) StockOperationResult {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, distributorID, warehouseID); err != nil {
			s.logger.Warn("stock view cache invalidation failed",
				zap.String("warehouse_id", warehouseID.String()),
				zap.Error(err),
			)
		}
	}
	if len(pending.events) > 0 {
		if err := s.publisher.Publish(ctx, pending.events...); err != nil {
			s.logger.Warn("failed to publish domain events", zap.Int("count", len(pending.events)), zap.Error(err))
		}
	}

	dtos := make([]TransactionDTO, 0, len(pending.transactions))
	for _, txn := range pending.transactions {
		dtos = append(dtos, NewTransactionDTO(txn))
	}
	return StockOperationResult{Transactions: dtos, ExpiryWarnings: pending.warnings}
}

// checkSerialCount enforces the serial/quantity contract: serial-tracked
// quantities are whole numbers and every unit is named exactly once.
func checkSerialCount(itemID uuid.UUID, quantity decimal.Decimal, serialNumbers []string) error {
	if len(serialNumbers) == 0 {
		return &inventory.SerialRequiredError{ItemID: itemID}
	}
	if !quantity.Equal(quantity.Truncate(0)) {
		return shared.NewDomainError("INVALID_QUANTITY", "Serial tracked quantities must be whole numbers")
	}
	if !quantity.Equal(decimal.NewFromInt(int64(len(serialNumbers)))) {
		return shared.NewDomainError("SERIAL_COUNT_MISMATCH", "Serial number count must match the quantity")
	}
	seen := make(map[string]struct{}, len(serialNumbers))
	for _, sn := range serialNumbers {
		if sn == "" {
			return shared.NewDomainError("INVALID_SERIAL_NUMBER", "Serial number cannot be empty")
		}
		if _, dup := seen[sn]; dup {
			return shared.NewDomainError("DUPLICATE_SERIAL", "Serial number listed twice: "+sn)
		}
		seen[sn] = struct{}{}
	}
	return nil
}
