package memory

import (
	"context"
	"sync"

	"quiz-arena-service/internal/domain"
)

// ChatStore keeps a capped per-lobby chat history in memory.
type ChatStore struct {
	mu       sync.Mutex
	cap      int
	messages map[string][]domain.ChatMessage
}

func NewChatStore(capacity int) *ChatStore {
	return &ChatStore{cap: capacity, messages: make(map[string][]domain.ChatMessage)}
}

func (c *ChatStore) Append(_ context.Context, lobbyCode string, msg domain.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := append(c.messages[lobbyCode], msg)
	if len(msgs) > c.cap {
		msgs = msgs[len(msgs)-c.cap:]
	}
	c.messages[lobbyCode] = msgs
	return nil
}

func (c *ChatStore) History(_ context.Context, lobbyCode string) ([]domain.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.messages[lobbyCode]...), nil
}
