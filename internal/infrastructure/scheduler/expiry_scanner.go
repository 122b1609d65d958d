package scheduler

import (
	"context"
	"time"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExpiryScanner walks every stock scope holding lots inside the warning
// window and raises a LotExpiringEvent for each lot that still has stock.
// Downstream handlers turn those into alerts; the scanner itself never
// mutates the ledger.
type ExpiryScanner struct {
	db        *gorm.DB
	lotRepo   inventory.LotRepository
	txnRepo   inventory.TransactionRepository
	publisher shared.EventPublisher
	window    time.Duration
	logger    *zap.Logger
}

// NewExpiryScanner creates a scanner flagging lots expiring within the window
func NewExpiryScanner(
	db *gorm.DB,
	lotRepo inventory.LotRepository,
	txnRepo inventory.TransactionRepository,
	publisher shared.EventPublisher,
	window time.Duration,
	logger *zap.Logger,
) *ExpiryScanner {
	return &ExpiryScanner{
		db:        db,
		lotRepo:   lotRepo,
		txnRepo:   txnRepo,
		publisher: publisher,
		window:    window,
		logger:    logger,
	}
}

var _ Job = (*ExpiryScanner)(nil)

// Name returns the job name
func (s *ExpiryScanner) Name() string {
	return "expiry-scanner"
}

type stockScope struct {
	DistributorID uuid.UUID
	WarehouseID   uuid.UUID
}

// Run scans all scopes once
func (s *ExpiryScanner) Run(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(s.window)

	var scopes []stockScope
	err := s.db.WithContext(ctx).
		Model(&inventory.InventoryLot{}).
		Distinct("distributor_id", "warehouse_id").
		Where("expiry_date IS NOT NULL AND expiry_date < ?", cutoff).
		Find(&scopes).Error
	if err != nil {
		return err
	}

	var flagged int
	for _, scope := range scopes {
		n, err := s.scanScope(ctx, scope, cutoff, now)
		if err != nil {
			s.logger.Error("expiry scan failed for scope",
				zap.String("distributor_id", scope.DistributorID.String()),
				zap.String("warehouse_id", scope.WarehouseID.String()),
				zap.Error(err),
			)
			continue
		}
		flagged += n
	}

	if flagged > 0 {
		s.logger.Info("expiry scan flagged lots", zap.Int("count", flagged))
	}
	return nil
}

func (s *ExpiryScanner) scanScope(ctx context.Context, scope stockScope, cutoff, now time.Time) (int, error) {
	lots, err := s.lotRepo.FindExpiringBefore(ctx, scope.DistributorID, scope.WarehouseID, cutoff)
	if err != nil {
		return 0, err
	}

	byItem := make(map[uuid.UUID]map[uuid.UUID]decimal.Decimal)
	var events []shared.DomainEvent
	for _, lot := range lots {
		availability, ok := byItem[lot.ItemID]
		if !ok {
			availability, err = s.txnRepo.AvailableByLot(ctx, scope.DistributorID, scope.WarehouseID, lot.ItemID)
			if err != nil {
				return 0, err
			}
			byItem[lot.ItemID] = availability
		}
		if availability[lot.ID].GreaterThan(decimal.Zero) {
			events = append(events, inventory.NewLotExpiringEvent(lot, now))
		}
	}

	if len(events) == 0 {
		return 0, nil
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		return 0, err
	}
	return len(events), nil
}
