// Package memory holds in-process implementations of the service's store
// and bus contracts, used by unit tests and the no-dependency demo mode.
package memory

import (
	"context"
	"sync"
	"time"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/lobby"
)

// LobbyRepository is an in-memory lobby.Repository. Mutations hold one lock
// per repository, which gives the same lost-update safety the SQL adapter
// gets from single-row updates.
type LobbyRepository struct {
	mu      sync.RWMutex
	lobbies map[string]*domain.Lobby
}

func NewLobbyRepository() *LobbyRepository {
	return &LobbyRepository{lobbies: make(map[string]*domain.Lobby)}
}

// expired mirrors the SQL adapter's expire_at guard. A zero ExpireAt means
// the lobby never expires.
func expired(l *domain.Lobby) bool {
	return !l.ExpireAt.IsZero() && time.Now().After(l.ExpireAt)
}

func (r *LobbyRepository) Create(_ context.Context, l domain.Lobby) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := l
	cp.Players = append([]domain.Player(nil), l.Players...)
	r.lobbies[l.Code] = &cp
	return nil
}

func (r *LobbyRepository) GetByCode(_ context.Context, code string) (domain.Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[code]
	if !ok || expired(l) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	cp := *l
	cp.Players = append([]domain.Player(nil), l.Players...)
	return cp, nil
}

func (r *LobbyRepository) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.lobbies[code]
	return ok, nil
}

func (r *LobbyRepository) AddPlayer(_ context.Context, code string, p domain.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[code]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	l.Players = append(l.Players, p)
	l.UpdatedAt = time.Now()
	return nil
}

func (r *LobbyRepository) RemovePlayer(_ context.Context, code, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[code]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	for i, p := range l.Players {
		if p.UserID == userID {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			break
		}
	}
	l.UpdatedAt = time.Now()
	return nil
}

func (r *LobbyRepository) SetReady(_ context.Context, code, userID string, ready bool) error {
	return r.mutatePlayer(code, userID, func(p *domain.Player) { p.Ready = ready })
}

func (r *LobbyRepository) SetConnected(_ context.Context, code, userID string, connected bool) error {
	return r.mutatePlayer(code, userID, func(p *domain.Player) { p.Connected = connected })
}

func (r *LobbyRepository) SetPlayerScore(_ context.Context, code, userID string, score int) error {
	return r.mutatePlayer(code, userID, func(p *domain.Player) { p.Score = score })
}

func (r *LobbyRepository) mutatePlayer(code, userID string, fn func(*domain.Player)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[code]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	for i := range l.Players {
		if l.Players[i].UserID == userID {
			fn(&l.Players[i])
			l.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrNotMember
}

func (r *LobbyRepository) SetStatus(_ context.Context, code string, status domain.LobbyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[code]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	l.Status = status
	l.UpdatedAt = time.Now()
	return nil
}

func (r *LobbyRepository) ReassignCreator(_ context.Context, code, userID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[code]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	l.CreatorID = userID
	l.CreatorUsername = username
	l.UpdatedAt = time.Now()
	return nil
}

func (r *LobbyRepository) UpdateSettings(_ context.Context, code string, s lobby.SettingsUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[code]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if s.Categories != nil {
		l.Categories = s.Categories
	}
	if s.Difficulty != nil {
		l.Difficulty = *s.Difficulty
	}
	if s.QuestionTimer != nil {
		l.QuestionTimer = *s.QuestionTimer
	}
	if s.MaxPlayers != nil {
		l.MaxPlayers = *s.MaxPlayers
	}
	if s.QuestionList != nil {
		l.QuestionList = s.QuestionList
	}
	l.UpdatedAt = time.Now()
	return nil
}

func (r *LobbyRepository) Delete(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lobbies, code)
	return nil
}

func (r *LobbyRepository) ListActive(_ context.Context, limit int) ([]domain.Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Lobby
	for _, l := range r.lobbies {
		if l.Status == domain.StatusWaiting && !expired(l) {
			cp := *l
			cp.Players = append([]domain.Player(nil), l.Players...)
			out = append(out, cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
