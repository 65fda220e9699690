package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/validation"
)

// Publisher broadcasts invalidation events after model-service mutations so
// running mappers react ahead of their next poll.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher wraps the given client. The caller owns the client's
// lifecycle.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	validation.AssertNotNil(client, "client")
	validation.AssertNotNil(logger, "logger")

	return &Publisher{
		client: client,
		logger: logger,
	}
}

// Publish sends one event on the invalidation channel. An empty batch is
// dropped without a round-trip; there is nothing for a mapper to do with it.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if len(event.Mappings) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	observability.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	p.logger.Debug("published invalidation event",
		"type", event.Type,
		"mappings", len(event.Mappings))
	return nil
}
