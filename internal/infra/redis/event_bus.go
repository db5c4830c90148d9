package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"quiz-arena-service/internal/events"
)

// EventBus moves events between processes over Redis pub/sub. Publish
// returns the error for the caller to log; by contract it must never fail
// the operation that triggered the event.
type EventBus struct {
	client *redis.Client
	logger *slog.Logger
}

func NewEventBus(client *redis.Client, logger *slog.Logger) *EventBus {
	return &EventBus{client: client, logger: logger}
}

func (b *EventBus) Publish(ctx context.Context, channel string, typ events.Type, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", typ, err)
	}
	payload, err := json.Marshal(events.Envelope{Type: typ, Data: raw})
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", typ, err)
	}
	subscribers, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", typ, channel, err)
	}
	b.logger.Debug("event published", "channel", channel, "type", string(typ), "subscribers", subscribers)
	return nil
}

func (b *EventBus) Subscribe(ctx context.Context, patterns ...string) (events.Subscription, error) {
	pubsub := b.client.PSubscribe(ctx, patterns...)
	// Force the subscription onto the wire before returning, so callers can
	// rely on receiving events published after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", patterns, err)
	}

	sub := &subscription{pubsub: pubsub, out: make(chan events.Message, 64)}
	go sub.pump(b.logger)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	out    chan events.Message
}

func (s *subscription) pump(logger *slog.Logger) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		var env events.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logger.Error("malformed event payload", "channel", msg.Channel, "error", err)
			continue
		}
		s.out <- events.Message{Channel: msg.Channel, Type: env.Type, Data: env.Data}
	}
}

func (s *subscription) Messages() <-chan events.Message { return s.out }

func (s *subscription) Close() error { return s.pubsub.Close() }
