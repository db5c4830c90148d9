package http

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// outboundMessage is the envelope every websocket client receives.
type outboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one websocket connection. All writes go through the send
// channel; a single writer goroutine per connection drains it, so nothing
// else ever writes to the conn.
type client struct {
	conn *websocket.Conn
	send chan outboundMessage

	mu    sync.Mutex
	rooms map[string]struct{}
}

func (c *client) writePump(logger *slog.Logger) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			logger.Debug("ws write failed", "error", err)
			return
		}
	}
}

// Hub tracks which clients are in which lobby room and fans events out to
// them. Slow clients get dropped messages rather than blocking the hub.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) join(room string, c *client) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leave(room string, c *client) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// remove detaches the client from every room it joined. Called once on
// disconnect; returns the rooms it was in.
func (h *Hub) remove(c *client) []string {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		h.leave(room, c)
	}
	return rooms
}

// Broadcast sends an event to every client in the room.
func (h *Hub) Broadcast(room, typ string, payload json.RawMessage) {
	msg := outboundMessage{Type: typ, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping event for slow client", "room", room, "type", typ)
		}
	}
}

// RoomSize reports how many connections are currently in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
