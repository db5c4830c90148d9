package game

import (
	"testing"

	"quiz-arena-service/internal/domain"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name      string
		isCorrect bool
		timeTaken float64
		timer     int
		want      int
	}{
		{"instant answer", true, 0, 30, 1000},
		{"half the timer", true, 15, 30, 750},
		{"full timer hits the floor", true, 30, 30, 500},
		{"overtime clamps to floor", true, 45, 30, 500},
		{"negative time clamps to max", true, -1, 30, 1000},
		{"incorrect is zero", false, 0, 30, 0},
		{"zero timer is zero", true, 5, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.isCorrect, tc.timeTaken, tc.timer); got != tc.want {
				t.Fatalf("Score(%v, %v, %d) = %d, want %d", tc.isCorrect, tc.timeTaken, tc.timer, got, tc.want)
			}
		})
	}
}

func TestXP(t *testing.T) {
	if got := BaseXP(1750); got != 175 {
		t.Fatalf("BaseXP(1750) = %d, want 175", got)
	}
	if got := BaseXP(999); got != 99 {
		t.Fatalf("BaseXP(999) = %d, want 99", got)
	}
	if got := WinnerBonus(4); got != 30 {
		t.Fatalf("WinnerBonus(4) = %d, want 30", got)
	}
	if got := WinnerBonus(1); got != 0 {
		t.Fatalf("WinnerBonus(1) = %d, want 0", got)
	}
}

func TestRankTieBreaks(t *testing.T) {
	players := []domain.Player{
		{UserID: "u1", Username: "zoe"},
		{UserID: "u2", Username: "amy"},
		{UserID: "u3", Username: "bob"},
		{UserID: "u4", Username: "cat"},
	}
	scores := map[string]int{"u1": 1500, "u2": 1500, "u3": 1500, "u4": 2000}
	correct := map[string]int{"u1": 2, "u2": 2, "u3": 3, "u4": 2}

	rankings := Rank(players, scores, correct)

	// Highest score first.
	if rankings[0].UserID != "u4" || rankings[0].Rank != 1 {
		t.Fatalf("expected u4 first, got %+v", rankings[0])
	}
	// Equal scores fall back to correct-answer count.
	if rankings[1].UserID != "u3" {
		t.Fatalf("expected u3 second on correct count, got %+v", rankings[1])
	}
	// Remaining tie falls back to username.
	if rankings[2].UserID != "u2" || rankings[3].UserID != "u1" {
		t.Fatalf("expected amy before zoe, got %+v then %+v", rankings[2], rankings[3])
	}
	for i, r := range rankings {
		if r.Rank != i+1 {
			t.Fatalf("expected dense ranks, got %+v", rankings)
		}
	}
}
