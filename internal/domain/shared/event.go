package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is raised by aggregates when something business-relevant happens.
// Events are published after the owning transaction commits.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateType() string
	AggregateID() uuid.UUID
	DistributorID() uuid.UUID
	OccurredAt() time.Time
}

// BaseDomainEvent provides common fields for domain events
type BaseDomainEvent struct {
	ID            uuid.UUID `json:"event_id"`
	Type          string    `json:"event_type"`
	AggType       string    `json:"aggregate_type"`
	AggID         uuid.UUID `json:"aggregate_id"`
	Distributor   uuid.UUID `json:"distributor_id"`
	OccurredAtUTC time.Time `json:"occurred_at"`
}

// NewBaseDomainEvent creates a new base domain event
func NewBaseDomainEvent(eventType, aggregateType string, aggregateID, distributorID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:            uuid.New(),
		Type:          eventType,
		AggType:       aggregateType,
		AggID:         aggregateID,
		Distributor:   distributorID,
		OccurredAtUTC: time.Now().UTC(),
	}
}

// EventID returns the unique event ID
func (e *BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventType returns the event type name
func (e *BaseDomainEvent) EventType() string {
	return e.Type
}

// AggregateType returns the aggregate type name
func (e *BaseDomainEvent) AggregateType() string {
	return e.AggType
}

// AggregateID returns the aggregate ID
func (e *BaseDomainEvent) AggregateID() uuid.UUID {
	return e.AggID
}

// DistributorID returns the owning distributor ID
func (e *BaseDomainEvent) DistributorID() uuid.UUID {
	return e.Distributor
}

// OccurredAt returns when the event occurred
func (e *BaseDomainEvent) OccurredAt() time.Time {
	return e.OccurredAtUTC
}

// EventPublisher publishes domain events to interested subscribers
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventHandler consumes domain events. EventTypes lists the types the handler
// wants; an empty list means every type.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventBus fans published events out to subscribed handlers
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// NoOpEventPublisher discards all events. Used when no subscriber is wired.
type NoOpEventPublisher struct{}

// Publish discards the given events
func (NoOpEventPublisher) Publish(_ context.Context, _ ...DomainEvent) error {
	return nil
}
