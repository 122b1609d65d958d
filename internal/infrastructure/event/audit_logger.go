package event

import (
	"context"

	"github.com/dms/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// AuditLogger writes a structured log line for every domain event. The ledger
// itself is the system of record; this is the operational trail.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new AuditLogger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

var _ shared.EventHandler = (*AuditLogger)(nil)

// EventTypes returns an empty list: every event is logged
func (a *AuditLogger) EventTypes() []string {
	return nil
}

// Handle logs the event
func (a *AuditLogger) Handle(_ context.Context, evt shared.DomainEvent) error {
	a.logger.Info("domain event",
		zap.String("event_type", evt.EventType()),
		zap.String("event_id", evt.EventID().String()),
		zap.String("aggregate_type", evt.AggregateType()),
		zap.String("aggregate_id", evt.AggregateID().String()),
		zap.String("distributor_id", evt.DistributorID().String()),
	)
	return nil
}
