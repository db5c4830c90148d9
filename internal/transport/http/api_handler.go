package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/events"
	"quiz-arena-service/internal/game"
	"quiz-arena-service/internal/lobby"
)

// APIHandler is the REST surface: lobby lifecycle for clients plus the
// shared-secret internal endpoints other services call during a game.
type APIHandler struct {
	lobbies        *lobby.Manager
	engine         *game.Engine
	bus            events.Bus
	ws             *WSHandler
	internalSecret string
	allowedOrigins []string
	logger         *slog.Logger
}

func NewAPIHandler(
	lobbies *lobby.Manager,
	engine *game.Engine,
	bus events.Bus,
	ws *WSHandler,
	internalSecret string,
	allowedOrigins []string,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		lobbies:        lobbies,
		engine:         engine,
		bus:            bus,
		ws:             ws,
		internalSecret: internalSecret,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

func (h *APIHandler) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	mux.Get("/healthz", h.health)
	mux.Get("/ws", h.ws.ServeWS)

	mux.Route("/api/lobbies", func(r chi.Router) {
		r.Get("/", h.listLobbies)
		r.Post("/", h.createLobby)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.getLobby)
			r.Post("/join", h.joinLobby)
			r.Post("/leave", h.leaveLobby)
			r.Post("/ready", h.setReady)
			r.Patch("/settings", h.updateSettings)
			r.Post("/start", h.startGame)
		})
	})

	mux.Route("/internal/lobbies/{code}", func(r chi.Router) {
		r.Use(h.requireInternalSecret)
		r.Post("/answer", h.submitAnswer)
		r.Post("/auto-fail", h.recordAutoFail)
		r.Post("/finalize", h.finalizeGame)
	})

	return mux
}

func (h *APIHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createLobbyRequest struct {
	domain.User
	Categories    []string `json:"categories"`
	Difficulty    int      `json:"difficulty"`
	QuestionTimer int      `json:"question_timer"`
	MaxPlayers    int      `json:"max_players"`
}

func (h *APIHandler) createLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.lobbies.Create(r.Context(), req.User, lobby.CreateParams{
		Categories:    req.Categories,
		Difficulty:    req.Difficulty,
		QuestionTimer: req.QuestionTimer,
		MaxPlayers:    req.MaxPlayers,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.publish(r.Context(), events.LobbyChannel(l.Code), events.TypeLobbyCreated, l)
	writeJSON(w, http.StatusCreated, l)
}

func (h *APIHandler) listLobbies(w http.ResponseWriter, r *http.Request) {
	lobbies, err := h.lobbies.ListActive(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobbies": lobbies})
}

func (h *APIHandler) getLobby(w http.ResponseWriter, r *http.Request) {
	l, err := h.lobbies.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *APIHandler) joinLobby(w http.ResponseWriter, r *http.Request) {
	var req domain.User
	if !h.decode(w, r, &req) {
		return
	}
	code := chi.URLParam(r, "code")
	l, err := h.lobbies.Join(r.Context(), code, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.publish(r.Context(), events.LobbyChannel(l.Code), events.TypePlayerJoined, map[string]any{
		"user_id":  req.ID,
		"username": req.Username,
		"picture":  req.Picture,
		"lobby":    l,
	})
	writeJSON(w, http.StatusOK, l)
}

type userIDRequest struct {
	UserID string `json:"user_id"`
}

func (h *APIHandler) leaveLobby(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if !h.decode(w, r, &req) {
		return
	}
	code := lobby.Normalize(chi.URLParam(r, "code"))
	result, err := h.lobbies.Leave(r.Context(), code, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if result.Deleted {
		h.publish(r.Context(), events.LobbyChannel(code), events.TypeLobbyClosed, map[string]any{
			"lobby_code": code,
		})
	} else {
		h.publish(r.Context(), events.LobbyChannel(code), events.TypePlayerLeft, map[string]any{
			"user_id":        req.UserID,
			"new_creator_id": result.NewCreatorID,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

type readyRequest struct {
	UserID string `json:"user_id"`
	Ready  bool   `json:"ready"`
}

func (h *APIHandler) setReady(w http.ResponseWriter, r *http.Request) {
	var req readyRequest
	if !h.decode(w, r, &req) {
		return
	}
	code := chi.URLParam(r, "code")
	l, err := h.lobbies.SetReady(r.Context(), code, req.UserID, req.Ready)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.publish(r.Context(), events.LobbyChannel(l.Code), events.TypeLobbyUpdated, l)
	if l.AllReady() && len(l.Players) > 1 {
		h.publish(r.Context(), events.LobbyChannel(l.Code), events.TypeAllPlayersReady, map[string]any{
			"lobby_code": l.Code,
		})
	}
	writeJSON(w, http.StatusOK, l)
}

type settingsRequest struct {
	UserID string `json:"user_id"`
	lobby.SettingsUpdate
}

func (h *APIHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.lobbies.UpdateSettings(r.Context(), chi.URLParam(r, "code"), req.UserID, req.SettingsUpdate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.publish(r.Context(), events.LobbyChannel(l.Code), events.TypeSettingsUpdated, l)
	writeJSON(w, http.StatusOK, l)
}

// startGame flips the lobby to countdown and announces game_starting on the
// bus. The relay, not this handler, spawns the actual game loop.
func (h *APIHandler) startGame(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.lobbies.Start(r.Context(), chi.URLParam(r, "code"), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.publish(r.Context(), events.LobbyChannel(l.Code), events.TypeGameStarting, l)
	writeJSON(w, http.StatusOK, l)
}

type internalAnswerRequest struct {
	UserID    string  `json:"user_id"`
	Answer    string  `json:"answer"`
	TimeTaken float64 `json:"time_taken"`
}

func (h *APIHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req internalAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.engine.SubmitAnswer(r.Context(), chi.URLParam(r, "code"), req.UserID, req.Answer, req.TimeTaken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type autoFailRequest struct {
	UserID        string `json:"user_id"`
	QuestionIndex int    `json:"question_index"`
}

func (h *APIHandler) recordAutoFail(w http.ResponseWriter, r *http.Request) {
	var req autoFailRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.engine.RecordAutoFail(r.Context(), chi.URLParam(r, "code"), req.UserID, req.QuestionIndex)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *APIHandler) finalizeGame(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.FinalizeByCode(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

func (h *APIHandler) requireInternalSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.internalSecret == "" || r.Header.Get("X-Internal-Secret") != h.internalSecret {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "bad_request"})
		return false
	}
	return true
}

// publish is fire-and-forget: a bus failure is logged and never fails the
// request that triggered it.
func (h *APIHandler) publish(ctx context.Context, channel string, typ events.Type, data any) {
	if err := h.bus.Publish(ctx, channel, typ, data); err != nil {
		h.logger.Error("event publish failed", "channel", channel, "type", string(typ), "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: "validation"})
	case errors.Is(err, domain.ErrLobbyNotFound), errors.Is(err, domain.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, domain.ErrLobbyFull):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "lobby_full"})
	case errors.Is(err, domain.ErrGameInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "game_in_progress"})
	case errors.Is(err, domain.ErrDuplicateAnswer):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "duplicate_answer"})
	case errors.Is(err, domain.ErrNotCreator):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "not_creator"})
	case errors.Is(err, domain.ErrNotMember):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "not_member"})
	case errors.Is(err, domain.ErrNotAllReady), errors.Is(err, domain.ErrNotEnoughPlayers),
		errors.Is(err, domain.ErrEmptyQuestionList), errors.Is(err, domain.ErrNoActiveQuestion):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_state"})
	default:
		h.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
