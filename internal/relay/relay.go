// Package relay bridges the process-wide event bus to connected websocket
// clients. It owns the bus-name to client-name mapping and the one piece of
// routing logic that is not a pure fan-out: spawning the game loop when a
// lobby starts.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/events"
	"quiz-arena-service/internal/game"
)

// Broadcaster pushes an event to every client in a lobby room.
type Broadcaster interface {
	Broadcast(room, typ string, payload json.RawMessage)
}

// ChatStore keeps the capped per-lobby chat history.
type ChatStore interface {
	Append(ctx context.Context, lobbyCode string, msg domain.ChatMessage) error
}

// clientNames maps bus event names to the names clients know. Events not
// listed fan out under their bus name unchanged.
var clientNames = map[events.Type]string{
	events.TypeGameStarting:   "countdown_started",
	events.TypeQuestionSent:   "question_started",
	events.TypeRoundEnded:     "question_ended",
	events.TypePlayerAnswered: "player_answered",
	events.TypeChatMessage:    "new_message",
}

type Relay struct {
	bus    events.Bus
	hub    Broadcaster
	engine *game.Engine
	chat   ChatStore
	logger *slog.Logger
}

func New(bus events.Bus, hub Broadcaster, engine *game.Engine, chat ChatStore, logger *slog.Logger) *Relay {
	return &Relay{bus: bus, hub: hub, engine: engine, chat: chat, logger: logger}
}

// Run subscribes to all lobby and game channels and dispatches until the
// context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, events.LobbyPattern, events.GamePattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	r.logger.Info("relay started", "patterns", []string{events.LobbyPattern, events.GamePattern})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			r.dispatch(ctx, msg)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, msg events.Message) {
	room := events.Room(msg.Channel)
	if room == "" {
		r.logger.Warn("event on unrecognized channel", "channel", msg.Channel)
		return
	}

	switch msg.Type {
	case events.TypeGameStarting:
		// Clients only get the countdown metadata, never the raw start
		// payload with the question plan.
		r.startGame(room, msg.Data)
		r.hub.Broadcast(room, clientName(msg.Type), r.countdownPayload(room))
		return
	case events.TypeLobbyClosed:
		r.engine.Cancel(room)
	case events.TypeChatMessage:
		r.recordChat(ctx, room, msg.Data)
	}

	r.hub.Broadcast(room, clientName(msg.Type), msg.Data)
}

func (r *Relay) countdownPayload(room string) json.RawMessage {
	payload, err := json.Marshal(map[string]any{
		"lobby_code": room,
		"countdown":  int(r.engine.Countdown().Seconds()),
	})
	if err != nil {
		r.logger.Error("encode countdown payload", "lobby", room, "error", err)
		return json.RawMessage(`{}`)
	}
	return payload
}

// startGame spawns the session loop in the background. The question list
// and timer come from the event payload; a missing timer is a fatal
// configuration error for the session, by the engine's contract.
func (r *Relay) startGame(room string, data json.RawMessage) {
	var payload struct {
		QuestionList  []domain.QuestionSet `json:"question_list"`
		QuestionTimer int                  `json:"question_timer"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Error("malformed game_starting payload", "lobby", room, "error", err)
		return
	}

	go func() {
		// Detached from the relay's dispatch loop; the engine manages its
		// own per-session cancellation.
		if err := r.engine.StartSession(context.Background(), room, payload.QuestionList, payload.QuestionTimer); err != nil {
			r.logger.Error("game session failed to start", "lobby", room, "error", err)
		}
	}()
}

func (r *Relay) recordChat(ctx context.Context, room string, data json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Error("malformed chat payload", "lobby", room, "error", err)
		return
	}
	if err := r.chat.Append(ctx, room, msg); err != nil {
		r.logger.Error("chat history append failed", "lobby", room, "error", err)
	}
}

func clientName(typ events.Type) string {
	if name, ok := clientNames[typ]; ok {
		return name
	}
	return string(typ)
}
