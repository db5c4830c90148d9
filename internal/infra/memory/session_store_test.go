package memory

import (
	"context"
	"errors"
	"testing"

	"quiz-arena-service/internal/domain"
)

func TestSessionStoreFirstAnswerWins(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	sess := domain.GameSession{ID: "s1", LobbyCode: "ROOM42", Questions: make([]domain.Question, 1), QuestionTimer: 10}
	if err := store.CreateSession(ctx, sess, []string{"u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	inserted, err := store.RecordAnswer(ctx, "ROOM42", "u1", domain.AnswerRecord{QuestionIndex: 0, Answer: "a"})
	if err != nil || !inserted {
		t.Fatalf("expected first insert, got %v %v", inserted, err)
	}
	inserted, err = store.RecordAnswer(ctx, "ROOM42", "u1", domain.AnswerRecord{QuestionIndex: 0, Answer: "b"})
	if err != nil || inserted {
		t.Fatalf("expected duplicate rejected, got %v %v", inserted, err)
	}

	answers, err := store.Answers(ctx, "ROOM42", "u1")
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(answers) != 1 || answers[0].Answer != "a" {
		t.Fatalf("expected first answer kept, got %+v", answers)
	}
}

func TestSessionStoreIndexStartsBeforeFirstQuestion(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	if err := store.CreateSession(ctx, domain.GameSession{ID: "s1", LobbyCode: "ROOM42"}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	idx, err := store.QuestionIndex(ctx, "ROOM42")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if idx != -1 {
		t.Fatalf("expected -1, got %d", idx)
	}
}

func TestSessionStoreMissing(t *testing.T) {
	store := NewSessionStore()
	if _, err := store.GetSession(context.Background(), "NOPE"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestXPStoreIdempotent(t *testing.T) {
	xp := NewXPStore()
	ctx := context.Background()

	applied, err := xp.AwardXP(ctx, "s1", "u1", 120)
	if err != nil || !applied {
		t.Fatalf("expected first award applied, got %v %v", applied, err)
	}
	applied, err = xp.AwardXP(ctx, "s1", "u1", 120)
	if err != nil || applied {
		t.Fatalf("expected replay skipped, got %v %v", applied, err)
	}
	if got := xp.Total("u1"); got != 120 {
		t.Fatalf("expected 120 total, got %d", got)
	}

	// A different session credits again.
	if applied, _ := xp.AwardXP(ctx, "s2", "u1", 50); !applied {
		t.Fatal("expected award from new session")
	}
	if got := xp.Total("u1"); got != 170 {
		t.Fatalf("expected 170 total, got %d", got)
	}
}
