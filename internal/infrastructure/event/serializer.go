package event

import (
	"encoding/json"
	"time"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Envelope is the wire form of a domain event. The payload is the full
// concrete event, so downstream consumers can unmarshal the fields they know.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	DistributorID uuid.UUID       `json:"distributor_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// JSONSerializer serializes domain events into envelopes
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSONSerializer
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize wraps the event in an envelope and marshals it
func (s *JSONSerializer) Serialize(evt shared.DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:       evt.EventID(),
		EventType:     evt.EventType(),
		AggregateType: evt.AggregateType(),
		AggregateID:   evt.AggregateID(),
		DistributorID: evt.DistributorID(),
		OccurredAt:    evt.OccurredAt(),
		Payload:       payload,
	})
}

// Deserialize unmarshals an envelope without touching the payload
func (s *JSONSerializer) Deserialize(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
