package memory

import (
	"context"
	"sync"

	"quiz-arena-service/internal/domain"
)

// SessionStore is the in-memory game.SessionStore. Answer insertion is
// first-wins under the store lock, mirroring the HSETNX semantics of the
// Redis adapter.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

type sessionState struct {
	session domain.GameSession
	index   int
	scores  map[string]int
	answers map[string]map[int]domain.AnswerRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*sessionState)}
}

func (s *SessionStore) CreateSession(_ context.Context, sess domain.GameSession, playerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &sessionState{
		session: sess,
		index:   -1,
		scores:  make(map[string]int, len(playerIDs)),
		answers: make(map[string]map[int]domain.AnswerRecord),
	}
	for _, id := range playerIDs {
		state.scores[id] = 0
	}
	s.sessions[sess.LobbyCode] = state
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, code string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[code]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return state.session, nil
}

func (s *SessionStore) SetQuestionIndex(_ context.Context, code string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[code]
	if !ok {
		return domain.ErrSessionNotFound
	}
	state.index = index
	return nil
}

func (s *SessionStore) QuestionIndex(_ context.Context, code string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[code]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	return state.index, nil
}

func (s *SessionStore) RecordAnswer(_ context.Context, code, userID string, rec domain.AnswerRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[code]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	byIndex, ok := state.answers[userID]
	if !ok {
		byIndex = make(map[int]domain.AnswerRecord)
		state.answers[userID] = byIndex
	}
	if _, exists := byIndex[rec.QuestionIndex]; exists {
		return false, nil
	}
	byIndex[rec.QuestionIndex] = rec
	return true, nil
}

func (s *SessionStore) AddScore(_ context.Context, code, userID string, points int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[code]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	state.scores[userID] += points
	return state.scores[userID], nil
}

func (s *SessionStore) Scores(_ context.Context, code string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[code]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make(map[string]int, len(state.scores))
	for k, v := range state.scores {
		out[k] = v
	}
	return out, nil
}

func (s *SessionStore) Answers(_ context.Context, code, userID string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[code]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	byIndex := state.answers[userID]
	out := make([]domain.AnswerRecord, 0, len(byIndex))
	for i := 0; i < len(state.session.Questions); i++ {
		if rec, ok := byIndex[i]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *SessionStore) HasAnswer(_ context.Context, code, userID string, index int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[code]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	_, exists := state.answers[userID][index]
	return exists, nil
}
