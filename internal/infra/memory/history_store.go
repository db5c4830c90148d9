package memory

import (
	"context"
	"sync"
	"time"

	"quiz-arena-service/internal/domain"
)

// HistoryStore keeps durable session snapshots in memory.
type HistoryStore struct {
	mu       sync.Mutex
	sessions map[string]HistoryEntry
}

type HistoryEntry struct {
	Session     domain.GameSession
	PlayerIDs   []string
	FinalScores map[string]int
	FinishedAt  time.Time
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{sessions: make(map[string]HistoryEntry)}
}

func (h *HistoryStore) SaveSession(_ context.Context, s domain.GameSession, playerIDs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID] = HistoryEntry{Session: s, PlayerIDs: playerIDs}
	return nil
}

func (h *HistoryStore) FinishSession(_ context.Context, sessionID string, scores map[string]int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.sessions[sessionID]
	entry.FinalScores = scores
	entry.FinishedAt = time.Now()
	h.sessions[sessionID] = entry
	return nil
}

// Entry returns a stored snapshot, for tests.
func (h *HistoryStore) Entry(sessionID string) (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[sessionID]
	return e, ok
}
