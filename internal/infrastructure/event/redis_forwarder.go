package event

import (
	"context"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisForwarder publishes every domain event onto a Redis channel so other
// services (billing, reporting) can react to stock movements without polling
// the ledger.
type RedisForwarder struct {
	client     *redis.Client
	serializer *JSONSerializer
	channel    string
	logger     *zap.Logger
}

// NewRedisForwarder creates a forwarder publishing to the given channel
func NewRedisForwarder(client *redis.Client, channel string, logger *zap.Logger) *RedisForwarder {
	return &RedisForwarder{
		client:     client,
		serializer: NewJSONSerializer(),
		channel:    channel,
		logger:     logger,
	}
}

var _ shared.EventHandler = (*RedisForwarder)(nil)

// EventTypes returns an empty list: the forwarder relays every event
func (f *RedisForwarder) EventTypes() []string {
	return nil
}

// Handle serializes the event and publishes it
func (f *RedisForwarder) Handle(ctx context.Context, evt shared.DomainEvent) error {
	data, err := f.serializer.Serialize(evt)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, data).Err()
}
