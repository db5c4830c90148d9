package questions

import (
	"context"
	"fmt"
	"sync"

	"quiz-arena-service/internal/domain"
)

// StaticSupplier serves pre-canned questions keyed by category, cycling
// through them in order. Useful for tests and the no-dependency demo mode.
type StaticSupplier struct {
	mu        sync.Mutex
	questions map[string][]domain.Question
	next      map[string]int
}

func NewStaticSupplier(byCategory map[string][]domain.Question) *StaticSupplier {
	return &StaticSupplier{
		questions: byCategory,
		next:      make(map[string]int),
	}
}

func (s *StaticSupplier) Generate(_ context.Context, req Request) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.questions[req.Category]
	if len(pool) == 0 {
		return domain.Question{}, fmt.Errorf("%w: no questions for category %q", ErrGeneration, req.Category)
	}
	q := pool[s.next[req.Category]%len(pool)]
	s.next[req.Category]++
	q.Category = req.Category
	q.Difficulty = req.Difficulty
	if err := Validate(q); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}
