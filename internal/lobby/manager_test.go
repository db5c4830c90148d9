package lobby_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/infra/memory"
	"quiz-arena-service/internal/lobby"
)

func TestCreateGeneratesValidCode(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())

	l, err := m.Create(context.Background(), alice(), validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(l.Code) != 6 {
		t.Fatalf("expected 6-char code, got %q", l.Code)
	}
	for _, r := range l.Code {
		if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", r) {
			t.Fatalf("unexpected character %q in code %q", r, l.Code)
		}
	}
	if l.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", l.Status)
	}
	if len(l.Players) != 1 || l.Players[0].UserID != "u1" || !l.Players[0].Connected {
		t.Fatalf("expected connected creator in roster, got %+v", l.Players)
	}
}

func TestCreateValidation(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*lobby.CreateParams)
	}{
		{"no categories", func(p *lobby.CreateParams) { p.Categories = nil }},
		{"difficulty too high", func(p *lobby.CreateParams) { p.Difficulty = 4 }},
		{"difficulty too low", func(p *lobby.CreateParams) { p.Difficulty = 0 }},
		{"timer too short", func(p *lobby.CreateParams) { p.QuestionTimer = 5 }},
		{"timer too long", func(p *lobby.CreateParams) { p.QuestionTimer = 600 }},
		{"capacity too small", func(p *lobby.CreateParams) { p.MaxPlayers = 1 }},
		{"capacity too large", func(p *lobby.CreateParams) { p.MaxPlayers = 50 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)
			if _, err := m.Create(ctx, alice(), params); !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestJoinIsIdempotentForMembers(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)
	if _, err := m.Join(ctx, l.Code, bob()); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Second join is a rejoin, not a duplicate roster entry.
	again, err := m.Join(ctx, l.Code, bob())
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(again.Players) != 2 {
		t.Fatalf("expected 2 players after rejoin, got %d", len(again.Players))
	}
}

func TestJoinLowercaseCode(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)
	joined, err := m.Join(ctx, strings.ToLower(l.Code), bob())
	if err != nil {
		t.Fatalf("join with lowercase code: %v", err)
	}
	if joined.Code != l.Code {
		t.Fatalf("expected normalized code %s, got %s", l.Code, joined.Code)
	}
}

func TestJoinFullLobby(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)
	if _, err := m.Join(ctx, l.Code, bob()); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	_, err := m.Join(ctx, l.Code, domain.User{ID: "u3", Username: "carol"})
	if !errors.Is(err, domain.ErrLobbyFull) {
		t.Fatalf("expected ErrLobbyFull, got %v", err)
	}
}

func TestJoinStartedLobby(t *testing.T) {
	repo := memory.NewLobbyRepository()
	m := lobby.NewManager(repo)
	ctx := context.Background()

	l := mustCreate(t, m)
	if err := repo.SetStatus(ctx, l.Code, domain.StatusInProgress); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := m.Join(ctx, l.Code, bob()); !errors.Is(err, domain.ErrGameInProgress) {
		t.Fatalf("expected ErrGameInProgress, got %v", err)
	}
}

func TestLeaveDeletesEmptyLobby(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)
	result, err := m.Leave(ctx, l.Code, "u1")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !result.Deleted {
		t.Fatal("expected lobby deleted when last player leaves")
	}
	if _, err := m.Get(ctx, l.Code); !errors.Is(err, domain.ErrLobbyNotFound) {
		t.Fatalf("expected ErrLobbyNotFound after delete, got %v", err)
	}
}

func TestLeavePromotesNewCreator(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)
	if _, err := m.Join(ctx, l.Code, bob()); err != nil {
		t.Fatalf("join: %v", err)
	}

	result, err := m.Leave(ctx, l.Code, "u1")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if result.Deleted {
		t.Fatal("lobby should survive with a player remaining")
	}
	if result.NewCreatorID != "u2" {
		t.Fatalf("expected bob promoted, got %q", result.NewCreatorID)
	}

	after, err := m.Get(ctx, l.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.CreatorID != "u2" {
		t.Fatalf("expected creator u2, got %s", after.CreatorID)
	}
}

func TestLeaveNonMember(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	l := mustCreate(t, m)
	if _, err := m.Leave(context.Background(), l.Code, "stranger"); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestStartPreconditions(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)

	// Alone.
	if _, err := m.Start(ctx, l.Code, "u1"); !errors.Is(err, domain.ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}

	if _, err := m.Join(ctx, l.Code, bob()); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Not the creator.
	if _, err := m.Start(ctx, l.Code, "u2"); !errors.Is(err, domain.ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}

	// Not everyone ready.
	if _, err := m.SetReady(ctx, l.Code, "u1", true); err != nil {
		t.Fatalf("ready u1: %v", err)
	}
	if _, err := m.Start(ctx, l.Code, "u1"); !errors.Is(err, domain.ErrNotAllReady) {
		t.Fatalf("expected ErrNotAllReady, got %v", err)
	}
	if _, err := m.SetReady(ctx, l.Code, "u2", true); err != nil {
		t.Fatalf("ready u2: %v", err)
	}

	// No question plan.
	if _, err := m.Start(ctx, l.Code, "u1"); !errors.Is(err, domain.ErrEmptyQuestionList) {
		t.Fatalf("expected ErrEmptyQuestionList, got %v", err)
	}

	if _, err := m.UpdateSettings(ctx, l.Code, "u1", lobby.SettingsUpdate{
		QuestionList: []domain.QuestionSet{{Category: "science", Difficulty: 1, Count: 3}},
	}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	started, err := m.Start(ctx, l.Code, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.StatusCountdown {
		t.Fatalf("expected countdown, got %s", started.Status)
	}
}

func TestUpdateSettingsGuards(t *testing.T) {
	repo := memory.NewLobbyRepository()
	m := lobby.NewManager(repo)
	ctx := context.Background()

	l := mustCreate(t, m)
	if _, err := m.Join(ctx, l.Code, bob()); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Only the creator may change settings.
	d := 2
	if _, err := m.UpdateSettings(ctx, l.Code, "u2", lobby.SettingsUpdate{Difficulty: &d}); !errors.Is(err, domain.ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}

	// Capacity at roster size is the lower bound.
	shrink := 2
	if _, err := m.UpdateSettings(ctx, l.Code, "u1", lobby.SettingsUpdate{MaxPlayers: &shrink}); err != nil {
		t.Fatalf("capacity at roster size should be allowed: %v", err)
	}

	// But not while the game runs.
	if err := repo.SetStatus(ctx, l.Code, domain.StatusInProgress); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := m.UpdateSettings(ctx, l.Code, "u1", lobby.SettingsUpdate{Difficulty: &d}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error while in progress, got %v", err)
	}
}

func TestMarkDisconnectedKeepsPlayer(t *testing.T) {
	m := lobby.NewManager(memory.NewLobbyRepository())
	ctx := context.Background()

	l := mustCreate(t, m)
	if err := m.MarkDisconnected(ctx, l.Code, "u1"); err != nil {
		t.Fatalf("mark disconnected: %v", err)
	}
	after, err := m.Get(ctx, l.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p, ok := after.Player("u1")
	if !ok {
		t.Fatal("player dropped from roster on disconnect")
	}
	if p.Connected {
		t.Fatal("expected player flagged disconnected")
	}
}

func TestListActive(t *testing.T) {
	repo := memory.NewLobbyRepository()
	m := lobby.NewManager(repo)
	ctx := context.Background()

	a := mustCreate(t, m)
	mustCreate(t, m)
	if err := repo.SetStatus(ctx, a.Code, domain.StatusInProgress); err != nil {
		t.Fatalf("set status: %v", err)
	}

	active, err := m.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected only waiting lobbies, got %d", len(active))
	}
}

func validParams() lobby.CreateParams {
	return lobby.CreateParams{
		Categories:    []string{"science"},
		Difficulty:    1,
		QuestionTimer: 30,
		MaxPlayers:    2,
	}
}

func alice() domain.User { return domain.User{ID: "u1", Username: "alice"} }
func bob() domain.User   { return domain.User{ID: "u2", Username: "bob"} }

func mustCreate(t *testing.T, m *lobby.Manager) domain.Lobby {
	t.Helper()
	l, err := m.Create(context.Background(), alice(), validParams())
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	return l
}
