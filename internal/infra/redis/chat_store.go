package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-arena-service/internal/domain"
)

// ChatStore keeps a capped per-lobby chat history in a Redis list with a
// TTL matching the lobby's lifetime.
type ChatStore struct {
	client *redis.Client
	cap    int64
	ttl    time.Duration
}

func NewChatStore(client *redis.Client, capacity int, ttl time.Duration) *ChatStore {
	return &ChatStore{client: client, cap: int64(capacity), ttl: ttl}
}

func (c *ChatStore) Append(ctx context.Context, lobbyCode string, msg domain.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	key := chatKey(lobbyCode)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -c.cap, -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat %s: %w", lobbyCode, err)
	}
	return nil
}

func (c *ChatStore) History(ctx context.Context, lobbyCode string) ([]domain.ChatMessage, error) {
	raw, err := c.client.LRange(ctx, chatKey(lobbyCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat %s: %w", lobbyCode, err)
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode chat %s: %w", lobbyCode, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func chatKey(code string) string { return "lobby:" + code + ":chat" }
