package memory

import (
	"context"
	"testing"
	"time"

	"quiz-arena-service/internal/events"
)

func TestBusPatternMatching(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, events.LobbyPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, events.LobbyChannel("ROOM42"), events.TypePlayerJoined, map[string]string{"user_id": "u1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, events.GameChannel("ROOM42"), events.TypeQuestionSent, nil); err != nil {
		t.Fatalf("publish game: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Type != events.TypePlayerJoined {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("game event should not match lobby pattern: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(context.Background(), events.LobbyPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("messages channel not closed")
	}
}
