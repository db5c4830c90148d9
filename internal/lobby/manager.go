// Package lobby owns the lobby lifecycle state machine: roster mutations,
// ready checks, settings, and the waiting -> countdown transition that
// hands the lobby off to the game engine.
package lobby

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"quiz-arena-service/internal/domain"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	minDifficulty = 1
	maxDifficulty = 3
	minTimer      = 10
	maxTimer      = 120
	minCapacity   = 2
	maxCapacity   = 20
)

// Repository is the durable-store access the state machine needs. Every
// mutating call must be applied as a single atomic operation on the lobby
// record (or one player row) so concurrent player actions never lose
// updates to a read-modify-write race.
type Repository interface {
	Create(ctx context.Context, lobby domain.Lobby) error
	GetByCode(ctx context.Context, code string) (domain.Lobby, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	AddPlayer(ctx context.Context, code string, p domain.Player) error
	RemovePlayer(ctx context.Context, code, userID string) error
	SetReady(ctx context.Context, code, userID string, ready bool) error
	SetConnected(ctx context.Context, code, userID string, connected bool) error
	SetStatus(ctx context.Context, code string, status domain.LobbyStatus) error
	SetPlayerScore(ctx context.Context, code, userID string, score int) error
	ReassignCreator(ctx context.Context, code, userID, username string) error
	UpdateSettings(ctx context.Context, code string, s SettingsUpdate) error
	Delete(ctx context.Context, code string) error
	ListActive(ctx context.Context, limit int) ([]domain.Lobby, error)
}

// SettingsUpdate carries optional setting changes; nil fields are untouched.
type SettingsUpdate struct {
	Categories    []string             `json:"categories"`
	Difficulty    *int                 `json:"difficulty"`
	QuestionTimer *int                 `json:"question_timer"`
	MaxPlayers    *int                 `json:"max_players"`
	QuestionList  []domain.QuestionSet `json:"question_list"`
}

// CreateParams are the validated inputs for a new lobby.
type CreateParams struct {
	Categories    []string
	Difficulty    int
	QuestionTimer int
	MaxPlayers    int
}

// LeaveResult reports the outcome of a player leaving.
type LeaveResult struct {
	Deleted      bool   `json:"deleted"`
	NewCreatorID string `json:"new_creator_id,omitempty"`
}

// Manager is the lobby state machine.
type Manager struct {
	repo              Repository
	minPlayersToStart int
	lobbyTTL          time.Duration
	rnd               *rand.Rand
}

type Option func(*Manager)

// WithMinPlayersToStart overrides the default minimum roster size (2).
func WithMinPlayersToStart(n int) Option {
	return func(m *Manager) { m.minPlayersToStart = n }
}

// WithLobbyTTL overrides the abandoned-lobby expiry window (default 2h).
func WithLobbyTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.lobbyTTL = ttl }
}

func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:              repo,
		minPlayersToStart: 2,
		lobbyTTL:          2 * time.Hour,
		rnd:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates params, generates a unique code, and seeds the roster
// with the creator.
func (m *Manager) Create(ctx context.Context, creator domain.User, params CreateParams) (domain.Lobby, error) {
	if len(params.Categories) == 0 {
		return domain.Lobby{}, domain.Validationf("categories", "at least one category is required")
	}
	if params.Difficulty < minDifficulty || params.Difficulty > maxDifficulty {
		return domain.Lobby{}, domain.Validationf("difficulty", "must be between %d and %d", minDifficulty, maxDifficulty)
	}
	if params.QuestionTimer < minTimer || params.QuestionTimer > maxTimer {
		return domain.Lobby{}, domain.Validationf("question_timer", "must be between %d and %d seconds", minTimer, maxTimer)
	}
	if params.MaxPlayers < minCapacity || params.MaxPlayers > maxCapacity {
		return domain.Lobby{}, domain.Validationf("max_players", "must be between %d and %d", minCapacity, maxCapacity)
	}

	code, err := m.generateCode(ctx)
	if err != nil {
		return domain.Lobby{}, err
	}

	now := time.Now()
	lobby := domain.Lobby{
		Code:            code,
		CreatorID:       creator.ID,
		CreatorUsername: creator.Username,
		Players: []domain.Player{{
			UserID:    creator.ID,
			Username:  creator.Username,
			Picture:   creator.Picture,
			Connected: true,
		}},
		Categories:    params.Categories,
		Difficulty:    params.Difficulty,
		QuestionTimer: params.QuestionTimer,
		MaxPlayers:    params.MaxPlayers,
		QuestionList:  []domain.QuestionSet{},
		Status:        domain.StatusWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpireAt:      now.Add(m.lobbyTTL),
	}
	if err := m.repo.Create(ctx, lobby); err != nil {
		return domain.Lobby{}, fmt.Errorf("create lobby: %w", err)
	}
	return lobby, nil
}

// generateCode samples the code space until a free code is found. Collisions
// are vanishingly rare in a 36^6 space but are checked, never assumed away.
func (m *Manager) generateCode(ctx context.Context) (string, error) {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			b[i] = codeAlphabet[m.rnd.Intn(len(codeAlphabet))]
		}
		code := string(b)
		exists, err := m.repo.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check lobby code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
}

// Join adds a player to the lobby. Joining a lobby the user is already a
// member of is idempotent and re-marks them connected (rejoin semantics).
func (m *Manager) Join(ctx context.Context, code string, user domain.User) (domain.Lobby, error) {
	code = Normalize(code)
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return domain.Lobby{}, err
	}

	if _, isMember := lobby.Player(user.ID); isMember {
		if err := m.repo.SetConnected(ctx, code, user.ID, true); err != nil {
			return domain.Lobby{}, fmt.Errorf("rejoin lobby: %w", err)
		}
		return m.repo.GetByCode(ctx, code)
	}
	if lobby.Status != domain.StatusWaiting {
		return domain.Lobby{}, domain.ErrGameInProgress
	}
	if len(lobby.Players) >= lobby.MaxPlayers {
		return domain.Lobby{}, domain.ErrLobbyFull
	}

	player := domain.Player{
		UserID:    user.ID,
		Username:  user.Username,
		Picture:   user.Picture,
		Connected: true,
	}
	if err := m.repo.AddPlayer(ctx, code, player); err != nil {
		return domain.Lobby{}, fmt.Errorf("join lobby: %w", err)
	}
	return m.repo.GetByCode(ctx, code)
}

// Leave removes a player. An emptied lobby is deleted; a departing creator
// is replaced by the earliest-joined remaining player.
func (m *Manager) Leave(ctx context.Context, code, userID string) (LeaveResult, error) {
	code = Normalize(code)
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return LeaveResult{}, err
	}
	if _, isMember := lobby.Player(userID); !isMember {
		return LeaveResult{}, domain.ErrNotMember
	}

	if err := m.repo.RemovePlayer(ctx, code, userID); err != nil {
		return LeaveResult{}, fmt.Errorf("leave lobby: %w", err)
	}

	updated, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return LeaveResult{}, err
	}
	if len(updated.Players) == 0 {
		if err := m.repo.Delete(ctx, code); err != nil {
			return LeaveResult{}, fmt.Errorf("delete empty lobby: %w", err)
		}
		return LeaveResult{Deleted: true}, nil
	}
	if lobby.CreatorID == userID {
		next := updated.Players[0]
		if err := m.repo.ReassignCreator(ctx, code, next.UserID, next.Username); err != nil {
			return LeaveResult{}, fmt.Errorf("reassign creator: %w", err)
		}
		return LeaveResult{NewCreatorID: next.UserID}, nil
	}
	return LeaveResult{}, nil
}

// SetReady flips a player's ready flag.
func (m *Manager) SetReady(ctx context.Context, code, userID string, ready bool) (domain.Lobby, error) {
	code = Normalize(code)
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return domain.Lobby{}, err
	}
	if _, isMember := lobby.Player(userID); !isMember {
		return domain.Lobby{}, domain.ErrNotMember
	}
	if err := m.repo.SetReady(ctx, code, userID, ready); err != nil {
		return domain.Lobby{}, fmt.Errorf("set ready: %w", err)
	}
	return m.repo.GetByCode(ctx, code)
}

// AllReady reports whether every player in a non-empty roster is ready.
func (m *Manager) AllReady(ctx context.Context, code string) (bool, error) {
	lobby, err := m.repo.GetByCode(ctx, Normalize(code))
	if err != nil {
		return false, err
	}
	return lobby.AllReady(), nil
}

// UpdateSettings applies setting changes. Creator-only, waiting-state only,
// and capacity can never shrink below the current roster.
func (m *Manager) UpdateSettings(ctx context.Context, code, requesterID string, update SettingsUpdate) (domain.Lobby, error) {
	code = Normalize(code)
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return domain.Lobby{}, err
	}
	if lobby.CreatorID != requesterID {
		return domain.Lobby{}, domain.ErrNotCreator
	}
	if lobby.Status != domain.StatusWaiting {
		return domain.Lobby{}, domain.Validationf("status", "settings can only change while waiting")
	}
	if update.Difficulty != nil && (*update.Difficulty < minDifficulty || *update.Difficulty > maxDifficulty) {
		return domain.Lobby{}, domain.Validationf("difficulty", "must be between %d and %d", minDifficulty, maxDifficulty)
	}
	if update.QuestionTimer != nil && (*update.QuestionTimer < minTimer || *update.QuestionTimer > maxTimer) {
		return domain.Lobby{}, domain.Validationf("question_timer", "must be between %d and %d seconds", minTimer, maxTimer)
	}
	if update.MaxPlayers != nil {
		if *update.MaxPlayers < minCapacity || *update.MaxPlayers > maxCapacity {
			return domain.Lobby{}, domain.Validationf("max_players", "must be between %d and %d", minCapacity, maxCapacity)
		}
		if *update.MaxPlayers < len(lobby.Players) {
			return domain.Lobby{}, domain.Validationf("max_players", "cannot be below current player count (%d)", len(lobby.Players))
		}
	}
	for _, qs := range update.QuestionList {
		if qs.Count < 1 {
			return domain.Lobby{}, domain.Validationf("question_list", "each set needs a count of at least 1")
		}
		if qs.Category == "" {
			return domain.Lobby{}, domain.Validationf("question_list", "each set needs a category")
		}
	}
	if err := m.repo.UpdateSettings(ctx, code, update); err != nil {
		return domain.Lobby{}, fmt.Errorf("update settings: %w", err)
	}
	return m.repo.GetByCode(ctx, code)
}

// Start validates the start preconditions and transitions the lobby to
// countdown. The caller publishes game_starting; the relay takes it from
// there.
func (m *Manager) Start(ctx context.Context, code, requesterID string) (domain.Lobby, error) {
	code = Normalize(code)
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return domain.Lobby{}, err
	}
	if lobby.CreatorID != requesterID {
		return domain.Lobby{}, domain.ErrNotCreator
	}
	if len(lobby.Players) < m.minPlayersToStart {
		return domain.Lobby{}, domain.ErrNotEnoughPlayers
	}
	if !lobby.AllReady() {
		return domain.Lobby{}, domain.ErrNotAllReady
	}
	if len(lobby.QuestionList) == 0 {
		return domain.Lobby{}, domain.ErrEmptyQuestionList
	}
	if err := m.repo.SetStatus(ctx, code, domain.StatusCountdown); err != nil {
		return domain.Lobby{}, fmt.Errorf("start lobby: %w", err)
	}
	lobby.Status = domain.StatusCountdown
	return lobby, nil
}

// Get returns a lobby by code.
func (m *Manager) Get(ctx context.Context, code string) (domain.Lobby, error) {
	return m.repo.GetByCode(ctx, Normalize(code))
}

// ListActive returns the most recent waiting lobbies.
func (m *Manager) ListActive(ctx context.Context) ([]domain.Lobby, error) {
	return m.repo.ListActive(ctx, 20)
}

// MarkDisconnected flags a player as disconnected without removing them, so
// they can rejoin mid-game.
func (m *Manager) MarkDisconnected(ctx context.Context, code, userID string) error {
	return m.repo.SetConnected(ctx, Normalize(code), userID, false)
}

// Normalize uppercases a lobby code; all lookups go through it.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
