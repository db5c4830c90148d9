package memory

import (
	"context"
	"sync"
)

// XPStore accumulates XP per user with per-(session, user) idempotency,
// mirroring the uniqueness constraint the Postgres adapter relies on.
type XPStore struct {
	mu      sync.Mutex
	totals  map[string]int
	awarded map[string]struct{}
}

func NewXPStore() *XPStore {
	return &XPStore{
		totals:  make(map[string]int),
		awarded: make(map[string]struct{}),
	}
}

func (x *XPStore) AwardXP(_ context.Context, sessionID, userID string, xp int) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	key := sessionID + ":" + userID
	if _, done := x.awarded[key]; done {
		return false, nil
	}
	x.awarded[key] = struct{}{}
	x.totals[userID] += xp
	return true, nil
}

// Total returns a user's accumulated XP, for tests.
func (x *XPStore) Total(userID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.totals[userID]
}
