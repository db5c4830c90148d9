// Package questions is the client side of the question-supply collaborator.
// The service never authors quiz content itself; it requests generated
// questions and validates the contract: exactly four distinct options with
// the correct answer among them.
package questions

import (
	"context"
	"errors"
	"fmt"

	"quiz-arena-service/internal/domain"
)

// ErrGeneration marks a failed or contract-violating generation. Session
// creation aborts on the first occurrence; no partial sessions are made.
var ErrGeneration = errors.New("question generation failed")

// Request asks for one question.
type Request struct {
	Category   string `json:"category"`
	Subject    string `json:"subject"`
	Difficulty int    `json:"difficulty"`
}

// Supplier generates a single question for a request.
type Supplier interface {
	Generate(ctx context.Context, req Request) (domain.Question, error)
}

// Validate checks the supply contract on a generated question.
func Validate(q domain.Question) error {
	if len(q.Options) != 4 {
		return fmt.Errorf("%w: got %d options, want 4", ErrGeneration, len(q.Options))
	}
	seen := make(map[string]struct{}, 4)
	correctFound := false
	for _, opt := range q.Options {
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: duplicate option %q", ErrGeneration, opt)
		}
		seen[opt] = struct{}{}
		if opt == q.CorrectAnswer {
			correctFound = true
		}
	}
	if !correctFound {
		return fmt.Errorf("%w: correct answer not among options", ErrGeneration)
	}
	return nil
}
