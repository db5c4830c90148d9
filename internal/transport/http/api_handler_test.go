package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/game"
	"quiz-arena-service/internal/infra/memory"
	"quiz-arena-service/internal/lobby"
	"quiz-arena-service/internal/questions"
)

const testInternalSecret = "test-secret"

func TestLobbyLifecycleOverREST(t *testing.T) {
	fix := newAPIFixture(t)
	defer fix.server.Close()

	// Create.
	var created domain.Lobby
	resp := fix.do(t, "POST", "/api/lobbies", map[string]any{
		"user_id":        "u1",
		"username":       "alice",
		"categories":     []string{"science"},
		"difficulty":     1,
		"question_timer": 30,
		"max_players":    4,
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	if len(created.Code) != 6 {
		t.Fatalf("expected 6-char code, got %q", created.Code)
	}

	// Join.
	var joined domain.Lobby
	resp = fix.do(t, "POST", "/api/lobbies/"+created.Code+"/join", map[string]any{
		"user_id":  "u2",
		"username": "bob",
	}, &joined)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: expected 200, got %d", resp.StatusCode)
	}
	if len(joined.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(joined.Players))
	}

	// Both ready.
	for _, userID := range []string{"u1", "u2"} {
		resp = fix.do(t, "POST", "/api/lobbies/"+created.Code+"/ready", map[string]any{
			"user_id": userID,
			"ready":   true,
		}, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ready %s: expected 200, got %d", userID, resp.StatusCode)
		}
	}

	// Configure a question plan, then start.
	resp = fix.do(t, "PATCH", "/api/lobbies/"+created.Code+"/settings", map[string]any{
		"user_id": "u1",
		"question_list": []map[string]any{
			{"category": "science", "difficulty": 1, "count": 2},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings: expected 200, got %d", resp.StatusCode)
	}

	var started domain.Lobby
	resp = fix.do(t, "POST", "/api/lobbies/"+created.Code+"/start", map[string]any{
		"user_id": "u1",
	}, &started)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	if started.Status != domain.StatusCountdown {
		t.Fatalf("expected countdown status, got %s", started.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	fix := newAPIFixture(t)
	defer fix.server.Close()

	// Unknown lobby.
	resp := fix.do(t, "GET", "/api/lobbies/NOSUCH", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// Invalid settings on create.
	resp = fix.do(t, "POST", "/api/lobbies", map[string]any{
		"user_id":        "u1",
		"username":       "alice",
		"categories":     []string{"science"},
		"difficulty":     9,
		"question_timer": 30,
		"max_players":    4,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad difficulty, got %d", resp.StatusCode)
	}

	// Non-creator start.
	code := fix.createLobby(t)
	var body errorResponse
	resp = fix.do(t, "POST", "/api/lobbies/"+code+"/start", map[string]any{"user_id": "u2"}, &body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if body.Code != "not_creator" {
		t.Fatalf("expected not_creator code, got %q", body.Code)
	}
}

func TestInternalEndpointsRequireSecret(t *testing.T) {
	fix := newAPIFixture(t)
	defer fix.server.Close()

	code := fix.createLobby(t)

	req, _ := http.NewRequest("POST", fix.server.URL+"/internal/lobbies/"+code+"/finalize", bytes.NewReader(nil))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("POST", fix.server.URL+"/internal/lobbies/"+code+"/finalize", bytes.NewReader(nil))
	req.Header.Set("X-Internal-Secret", testInternalSecret)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	// Secret accepted; no session exists yet, so the engine reports 404.
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with secret but no session, got %d", resp.StatusCode)
	}
}

func TestListActiveLobbies(t *testing.T) {
	fix := newAPIFixture(t)
	defer fix.server.Close()

	fix.createLobby(t)
	fix.createLobby(t)

	var body struct {
		Lobbies []domain.Lobby `json:"lobbies"`
	}
	resp := fix.do(t, "GET", "/api/lobbies", nil, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(body.Lobbies) != 2 {
		t.Fatalf("expected 2 lobbies, got %d", len(body.Lobbies))
	}
}

type apiFixture struct {
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewLobbyRepository()
	bus := memory.NewBus()
	manager := lobby.NewManager(repo)
	engine := game.NewEngine(
		memory.NewSessionStore(),
		repo,
		memory.NewHistoryStore(),
		memory.NewXPStore(),
		questions.NewStaticSupplier(nil),
		bus,
		logger,
		game.Config{},
	)
	hub := NewHub(logger)
	ws := NewWSHandler(hub, manager, engine, bus, memory.NewChatStore(50), logger)
	api := NewAPIHandler(manager, engine, bus, ws, testInternalSecret, []string{"*"}, logger)
	return &apiFixture{server: httptest.NewServer(api.Routes())}
}

func (f *apiFixture) createLobby(t *testing.T) string {
	t.Helper()
	var created domain.Lobby
	resp := f.do(t, "POST", "/api/lobbies", map[string]any{
		"user_id":        "u1",
		"username":       "alice",
		"categories":     []string{"science"},
		"difficulty":     1,
		"question_timer": 30,
		"max_players":    4,
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lobby: expected 201, got %d", resp.StatusCode)
	}
	return created.Code
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}
