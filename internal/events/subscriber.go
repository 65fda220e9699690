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

// Subscriber consumes invalidation events on behalf of a mapper.
type Subscriber struct {
	client *redis.Client
	logger *slog.Logger
}

// NewSubscriber wraps the given client. The caller owns the client's
// lifecycle.
func NewSubscriber(client *redis.Client, logger *slog.Logger) *Subscriber {
	validation.AssertNotNil(client, "client")
	validation.AssertNotNil(logger, "logger")

	return &Subscriber{
		client: client,
		logger: logger,
	}
}

// Run blocks consuming events and invoking handle for each one until ctx is
// cancelled. Malformed payloads are counted and dropped; they must not take
// the subscription down. Returns nil on cancellation.
func (s *Subscriber) Run(ctx context.Context, handle func(Event)) error {
	pubsub := s.client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	// Confirm the subscription before reporting the consumer as running.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}
	s.logger.Info("subscribed to invalidation events", "channel", Channel)

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("dropping malformed invalidation event", "error", err)
				observability.EventsMalformed.Inc()
				continue
			}

			observability.EventsReceived.WithLabelValues(string(event.Type)).Inc()
			handle(event)
		}
	}
}
