package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"quiz-arena-service/internal/events"
)

// Bus is an in-process events.Bus. Pattern matching follows Redis glob
// semantics closely enough for the channel scheme in use ('*' segments).
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

func (b *Bus) Publish(_ context.Context, channel string, typ events.Type, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := events.Message{Channel: channel, Type: typ, Data: raw}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.matches(channel) {
			select {
			case sub.ch <- msg:
			default:
				// Slow subscriber; drop rather than block the publisher.
			}
		}
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, patterns ...string) (events.Subscription, error) {
	sub := &Subscription{
		bus:      b,
		patterns: patterns,
		ch:       make(chan events.Message, 64),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

type Subscription struct {
	bus      *Bus
	patterns []string
	ch       chan events.Message
	once     sync.Once
}

func (s *Subscription) Messages() <-chan events.Message { return s.ch }

func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *Subscription) matches(channel string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}
