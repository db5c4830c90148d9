package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/events"
	"quiz-arena-service/internal/game"
	"quiz-arena-service/internal/infra/memory"
	"quiz-arena-service/internal/questions"
)

type recordingHub struct {
	mu     sync.Mutex
	events []broadcast
}

type broadcast struct {
	room string
	typ  string
	data json.RawMessage
}

func (h *recordingHub) Broadcast(room, typ string, payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, broadcast{room: room, typ: typ, data: payload})
}

func (h *recordingHub) find(typ string) (broadcast, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.events {
		if b.typ == typ {
			return b, true
		}
	}
	return broadcast{}, false
}

func TestRelayMapsEventNamesForClients(t *testing.T) {
	bus := memory.NewBus()
	hub := &recordingHub{}
	r := newTestRelay(t, bus, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runRelay(ctx, r)

	mustPublish(t, bus, events.LobbyChannel("ROOM42"), events.TypePlayerJoined, map[string]string{"user_id": "u1"})
	mustPublish(t, bus, events.GameChannel("ROOM42"), events.TypeRoundEnded, map[string]any{"question_index": 0})

	waitFor(t, func() bool {
		_, ok := hub.find("question_ended")
		return ok
	})

	// Unmapped events keep their bus name.
	if _, ok := hub.find("player_joined"); !ok {
		t.Fatal("player_joined not fanned out")
	}
	// Mapped events are renamed for clients.
	if _, ok := hub.find("round_ended"); ok {
		t.Fatal("round_ended leaked under its bus name")
	}

	b, _ := hub.find("question_ended")
	if b.room != "ROOM42" {
		t.Fatalf("expected room ROOM42, got %q", b.room)
	}

	cancel()
	<-done
}

func TestRelayPersistsChatBeforeFanout(t *testing.T) {
	bus := memory.NewBus()
	hub := &recordingHub{}
	chat := memory.NewChatStore(50)
	r := newTestRelayWithChat(t, bus, hub, chat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runRelay(ctx, r)

	msg := domain.ChatMessage{UserID: "u1", Username: "alice", Message: "hello"}
	mustPublish(t, bus, events.LobbyChannel("ROOM42"), events.TypeChatMessage, msg)

	waitFor(t, func() bool {
		_, ok := hub.find("new_message")
		return ok
	})

	history, err := chat.History(context.Background(), "ROOM42")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Message != "hello" {
		t.Fatalf("expected chat persisted, got %+v", history)
	}

	cancel()
	<-done
}

func TestRelaySpawnsGameOnGameStarting(t *testing.T) {
	bus := memory.NewBus()
	hub := &recordingHub{}
	repo := memory.NewLobbyRepository()
	lobby := domain.Lobby{
		Code:          "ROOM42",
		CreatorID:     "u1",
		Difficulty:    1,
		QuestionTimer: 1,
		MaxPlayers:    4,
		Status:        domain.StatusCountdown,
		Players: []domain.Player{
			{UserID: "u1", Username: "alice", Ready: true, Connected: true},
			{UserID: "u2", Username: "bob", Ready: true, Connected: true},
		},
	}
	if err := repo.Create(context.Background(), lobby); err != nil {
		t.Fatalf("create lobby: %v", err)
	}

	engine := game.NewEngine(
		memory.NewSessionStore(),
		repo,
		memory.NewHistoryStore(),
		memory.NewXPStore(),
		questions.NewStaticSupplier(map[string][]domain.Question{
			"science": {{
				Text:          "H2O is?",
				Options:       []string{"Water", "Salt", "Gold", "Air"},
				CorrectAnswer: "Water",
				Category:      "science",
				Difficulty:    1,
			}},
		}),
		bus,
		discardLogger(),
		game.Config{Countdown: 10 * time.Millisecond, InterQuestionDelay: time.Millisecond, PollInterval: 5 * time.Millisecond},
	)
	r := New(bus, hub, engine, memory.NewChatStore(50), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runRelay(ctx, r)

	payload := map[string]any{
		"lobby_code":     "ROOM42",
		"question_timer": 1,
		"question_list": []domain.QuestionSet{
			{Category: "science", Difficulty: 1, Count: 1},
		},
	}
	mustPublish(t, bus, events.LobbyChannel("ROOM42"), events.TypeGameStarting, payload)

	// countdown_started reaches clients, and the spawned loop eventually
	// finishes the one-question game.
	waitFor(t, func() bool {
		_, ok := hub.find("countdown_started")
		return ok
	})
	waitFor(t, func() bool {
		_, ok := hub.find("game_ended")
		return ok
	})

	// Clients get countdown metadata only, never the question plan.
	b, _ := hub.find("countdown_started")
	var countdown struct {
		LobbyCode    string               `json:"lobby_code"`
		Countdown    *int                 `json:"countdown"`
		QuestionList []domain.QuestionSet `json:"question_list"`
	}
	if err := json.Unmarshal(b.data, &countdown); err != nil {
		t.Fatalf("decode countdown_started: %v", err)
	}
	if countdown.LobbyCode != "ROOM42" || countdown.Countdown == nil {
		t.Fatalf("expected countdown metadata, got %s", b.data)
	}
	if countdown.QuestionList != nil {
		t.Fatalf("question plan leaked to clients: %s", b.data)
	}

	cancel()
	<-done
}

func newTestRelay(t *testing.T, bus events.Bus, hub Broadcaster) *Relay {
	t.Helper()
	return newTestRelayWithChat(t, bus, hub, memory.NewChatStore(50))
}

func newTestRelayWithChat(t *testing.T, bus events.Bus, hub Broadcaster, chat ChatStore) *Relay {
	t.Helper()
	engine := game.NewEngine(
		memory.NewSessionStore(),
		memory.NewLobbyRepository(),
		memory.NewHistoryStore(),
		memory.NewXPStore(),
		questions.NewStaticSupplier(nil),
		bus,
		discardLogger(),
		game.Config{},
	)
	return New(bus, hub, engine, chat, discardLogger())
}

func runRelay(ctx context.Context, r *Relay) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	// Give the subscriber loop a beat to attach.
	time.Sleep(10 * time.Millisecond)
	return done
}

func mustPublish(t *testing.T, bus events.Bus, channel string, typ events.Type, data any) {
	t.Helper()
	if err := bus.Publish(context.Background(), channel, typ, data); err != nil {
		t.Fatalf("publish %s: %v", typ, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
