package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/events"
	"quiz-arena-service/internal/game"
	"quiz-arena-service/internal/lobby"
)

const maxChatMessageRunes = 500

// ChatHistory reads the capped chat history for the join handshake.
type ChatHistory interface {
	History(ctx context.Context, lobbyCode string) ([]domain.ChatMessage, error)
}

type WSHandler struct {
	hub      *Hub
	lobbies  *lobby.Manager
	engine   *game.Engine
	bus      events.Bus
	chat     ChatHistory
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, lobbies *lobby.Manager, engine *game.Engine, bus events.Bus, chat ChatHistory, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:     hub,
		lobbies: lobbies,
		engine:  engine,
		bus:     bus,
		chat:    chat,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomPayload struct {
	LobbyCode string `json:"lobby_code"`
}

type submitAnswerPayload struct {
	LobbyCode string  `json:"lobby_code"`
	Answer    string  `json:"answer"`
	TimeTaken float64 `json:"time_taken"`
}

type sendMessagePayload struct {
	LobbyCode string `json:"lobby_code"`
	Message   string `json:"message"`
}

type wsError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ServeWS upgrades the connection and runs its read loop until the client
// goes away. Identity comes from query params; room membership is
// per-message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	username := r.URL.Query().Get("username")
	if userID == "" || username == "" {
		http.Error(w, "missing user_id or username", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:  conn,
		send:  make(chan outboundMessage, 16),
		rooms: make(map[string]struct{}),
	}
	go c.writePump(h.logger)

	defer func() {
		h.disconnect(c, userID, username)
		close(c.send)
		conn.Close()
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		h.handleMessage(r.Context(), c, userID, username, inbound)
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, c *client, userID, username string, inbound inboundMessage) {
	switch inbound.Type {
	case "join_room":
		h.joinRoom(ctx, c, inbound.Payload)
	case "leave_room":
		var p roomPayload
		if err := json.Unmarshal(inbound.Payload, &p); err == nil {
			h.hub.leave(lobby.Normalize(p.LobbyCode), c)
		}
	case "submit_answer":
		h.submitAnswer(ctx, c, userID, inbound.Payload)
	case "send_message":
		h.sendChat(ctx, c, userID, username, inbound.Payload)
	case "typing":
		var p roomPayload
		if err := json.Unmarshal(inbound.Payload, &p); err == nil {
			h.hub.Broadcast(lobby.Normalize(p.LobbyCode), "user_typing", mustMarshal(map[string]string{
				"user_id":  userID,
				"username": username,
			}))
		}
	case "ping_lobby":
		h.reply(c, "pong_lobby", map[string]string{"status": "ok"})
	default:
		h.replyError(c, "unsupported message type", "bad_request")
	}
}

func (h *WSHandler) joinRoom(ctx context.Context, c *client, payload json.RawMessage) {
	var p roomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.LobbyCode == "" {
		h.replyError(c, "invalid join_room payload", "bad_request")
		return
	}
	code := lobby.Normalize(p.LobbyCode)
	if _, err := h.lobbies.Get(ctx, code); err != nil {
		h.replyError(c, "lobby not found", "not_found")
		return
	}
	h.hub.join(code, c)

	history, err := h.chat.History(ctx, code)
	if err != nil {
		h.logger.Warn("chat history unavailable", "lobby", code, "error", err)
	}
	h.reply(c, "joined", map[string]any{
		"lobby_code":   code,
		"chat_history": history,
	})
}

func (h *WSHandler) submitAnswer(ctx context.Context, c *client, userID string, payload json.RawMessage) {
	var p submitAnswerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.replyError(c, "invalid submit_answer payload", "bad_request")
		return
	}
	result, err := h.engine.SubmitAnswer(ctx, lobby.Normalize(p.LobbyCode), userID, p.Answer, p.TimeTaken)
	if err != nil {
		h.replyError(c, err.Error(), answerErrorCode(err))
		return
	}
	h.reply(c, "answer_recorded", result)
}

// sendChat publishes to the bus rather than broadcasting directly, so chat
// reaches every process and lands in the capped history exactly once.
func (h *WSHandler) sendChat(ctx context.Context, c *client, userID, username string, payload json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.replyError(c, "invalid send_message payload", "bad_request")
		return
	}
	if p.Message == "" {
		return
	}
	runes := []rune(p.Message)
	if len(runes) > maxChatMessageRunes {
		p.Message = string(runes[:maxChatMessageRunes])
	}
	code := lobby.Normalize(p.LobbyCode)
	msg := domain.ChatMessage{
		UserID:    userID,
		Username:  username,
		Message:   p.Message,
		Timestamp: time.Now().UTC(),
	}
	if err := h.bus.Publish(ctx, events.LobbyChannel(code), events.TypeChatMessage, msg); err != nil {
		h.logger.Error("chat publish failed", "lobby", code, "error", err)
	}
}

func (h *WSHandler) disconnect(c *client, userID, username string) {
	for _, room := range h.hub.remove(c) {
		ctx := context.Background()
		if err := h.lobbies.MarkDisconnected(ctx, room, userID); err != nil {
			h.logger.Debug("mark disconnected failed", "lobby", room, "user", userID, "error", err)
		}
		h.hub.Broadcast(room, "player_disconnected", mustMarshal(map[string]string{
			"user_id":  userID,
			"username": username,
		}))
	}
}

func (h *WSHandler) reply(c *client, typ string, payload any) {
	select {
	case c.send <- outboundMessage{Type: typ, Payload: mustMarshal(payload)}:
	default:
		h.logger.Warn("dropping reply for slow client", "type", typ)
	}
}

func (h *WSHandler) replyError(c *client, message, code string) {
	h.reply(c, "error", wsError{Message: message, Code: code})
}

func answerErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateAnswer):
		return "duplicate_answer"
	case errors.Is(err, domain.ErrNoActiveQuestion):
		return "no_active_question"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
