package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLobbyNotFound is returned for lookups with an unknown lobby code.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrSessionNotFound is returned when no game session exists for a lobby.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrLobbyFull is returned when a join would exceed max_players.
	ErrLobbyFull = errors.New("lobby is full")
	// ErrNotMember is returned when a non-member acts on a lobby.
	ErrNotMember = errors.New("player is not in the lobby")
	// ErrNotCreator guards creator-only operations.
	ErrNotCreator = errors.New("only the lobby creator can do that")
	// ErrGameInProgress is returned when a new player joins a started lobby.
	ErrGameInProgress = errors.New("game already in progress")
	// ErrNotAllReady is returned when start is requested before every player is ready.
	ErrNotAllReady = errors.New("not all players are ready")
	// ErrNotEnoughPlayers is returned when start is requested below the minimum roster size.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrEmptyQuestionList is returned when start is requested with no question plan.
	ErrEmptyQuestionList = errors.New("no questions configured")
	// ErrDuplicateAnswer enforces the one-answer-per-question invariant.
	ErrDuplicateAnswer = errors.New("answer already recorded for this question")
	// ErrNoActiveQuestion is returned for submissions outside a question phase.
	ErrNoActiveQuestion = errors.New("no question is currently active")
)

// ValidationError reports a rejected input value. It is surfaced to the
// caller as-is and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
