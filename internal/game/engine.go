// Package game drives the question-by-question loop for started lobbies.
// One background task per lobby runs the phases strictly sequentially;
// answer submissions arrive concurrently on a separate path and meet the
// loop only through the ephemeral store's atomic operations.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/events"
	"quiz-arena-service/internal/questions"
)

// SessionStore is the ephemeral (TTL'd) home of live session state. Every
// mutation is a targeted single-field operation so concurrent answer
// submissions never clobber each other; RecordAnswer is the atomic
// check-and-insert that enforces one answer per (user, question).
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.GameSession, playerIDs []string) error
	GetSession(ctx context.Context, lobbyCode string) (domain.GameSession, error)
	SetQuestionIndex(ctx context.Context, lobbyCode string, index int) error
	QuestionIndex(ctx context.Context, lobbyCode string) (int, error)
	RecordAnswer(ctx context.Context, lobbyCode, userID string, rec domain.AnswerRecord) (bool, error)
	AddScore(ctx context.Context, lobbyCode, userID string, points int) (int, error)
	Scores(ctx context.Context, lobbyCode string) (map[string]int, error)
	Answers(ctx context.Context, lobbyCode, userID string) ([]domain.AnswerRecord, error)
	HasAnswer(ctx context.Context, lobbyCode, userID string, index int) (bool, error)
}

// LobbyStore is the slice of the durable store the engine touches: roster
// reads, status transitions, and the best-effort player-score mirror.
type LobbyStore interface {
	GetByCode(ctx context.Context, code string) (domain.Lobby, error)
	SetStatus(ctx context.Context, code string, status domain.LobbyStatus) error
	SetPlayerScore(ctx context.Context, code, userID string, score int) error
}

// HistoryStore persists the durable session snapshot and final result.
type HistoryStore interface {
	SaveSession(ctx context.Context, s domain.GameSession, playerIDs []string) error
	FinishSession(ctx context.Context, sessionID string, scores map[string]int) error
}

// XPStore awards game XP to player profiles. AwardXP must be idempotent per
// (session, user): a replayed finalize reports applied=false instead of
// double-crediting.
type XPStore interface {
	AwardXP(ctx context.Context, sessionID, userID string, xp int) (applied bool, err error)
}

// Config holds the loop's fixed delays.
type Config struct {
	Countdown          time.Duration
	InterQuestionDelay time.Duration
	PollInterval       time.Duration
}

func (c *Config) applyDefaults() {
	if c.Countdown == 0 {
		c.Countdown = 3 * time.Second
	}
	if c.InterQuestionDelay == 0 {
		c.InterQuestionDelay = 3 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// Engine owns game sessions from countdown through finalize.
type Engine struct {
	store    SessionStore
	lobbies  LobbyStore
	history  HistoryStore
	xp       XPStore
	supplier questions.Supplier
	bus      events.Bus
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	running map[string]context.CancelFunc

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewEngine(
	store SessionStore,
	lobbies LobbyStore,
	history HistoryStore,
	xp XPStore,
	supplier questions.Supplier,
	bus events.Bus,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    store,
		lobbies:  lobbies,
		history:  history,
		xp:       xp,
		supplier: supplier,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		running:  make(map[string]context.CancelFunc),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AnswerResult is the per-submitter acknowledgment.
type AnswerResult struct {
	IsCorrect    bool `json:"is_correct"`
	PointsEarned int  `json:"points_earned"`
	NewTotal     int  `json:"new_total"`
}

type questionStarted struct {
	QuestionText   string   `json:"question_text"`
	Options        []string `json:"options"`
	Category       string   `json:"category"`
	Difficulty     int      `json:"difficulty"`
	QuestionNumber int      `json:"question_number"`
	TotalQuestions int      `json:"total_questions"`
	TimeLimit      int      `json:"time_limit"`
}

type roundEnded struct {
	CorrectAnswer string            `json:"correct_answer"`
	Standings     []domain.Standing `json:"standings"`
}

type gameEnded struct {
	FinalRankings []domain.Ranking `json:"final_rankings"`
	XPAwarded     map[string]int   `json:"xp_awarded"`
}

type gameError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StartSession runs one lobby's full game: countdown, question
// materialization, the phase loop, finalize. It blocks until the session is
// over or canceled; the relay spawns it as a goroutine. questionTimer must
// be present in the triggering event; there is no fallback default.
func (e *Engine) StartSession(ctx context.Context, lobbyCode string, plan []domain.QuestionSet, questionTimer int) error {
	lobbyCode = strings.ToUpper(lobbyCode)
	channel := events.LobbyChannel(lobbyCode)

	if questionTimer <= 0 {
		err := fmt.Errorf("lobby %s: question timer missing from game_starting event", lobbyCode)
		e.publish(ctx, channel, events.TypeGameError, gameError{Message: "game misconfigured", Code: "missing_timer"})
		return err
	}
	if len(plan) == 0 {
		e.publish(ctx, channel, events.TypeGameError, gameError{Message: "no questions configured", Code: "empty_question_list"})
		return fmt.Errorf("lobby %s: empty question plan", lobbyCode)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	if _, exists := e.running[lobbyCode]; exists {
		e.mu.Unlock()
		return fmt.Errorf("lobby %s: session already running", lobbyCode)
	}
	e.running[lobbyCode] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, lobbyCode)
		e.mu.Unlock()
	}()

	if !sleepCtx(ctx, e.cfg.Countdown) {
		return ctx.Err()
	}

	lobby, err := e.lobbies.GetByCode(ctx, lobbyCode)
	if err != nil {
		e.publish(ctx, channel, events.TypeGameError, gameError{Message: "failed to start game", Code: "lobby_unavailable"})
		return fmt.Errorf("load lobby %s: %w", lobbyCode, err)
	}

	qs, err := e.materialize(ctx, plan, lobby.Difficulty)
	if err != nil {
		// Fail fast: no partial sessions ever reach players.
		e.publish(ctx, channel, events.TypeGameError, gameError{Message: "failed to generate questions", Code: "generation_failed"})
		return fmt.Errorf("materialize questions for %s: %w", lobbyCode, err)
	}

	session := domain.GameSession{
		ID:            uuid.NewString(),
		LobbyCode:     lobbyCode,
		Questions:     qs,
		QuestionTimer: questionTimer,
		CreatedAt:     time.Now(),
	}
	playerIDs := make([]string, 0, len(lobby.Players))
	for _, p := range lobby.Players {
		playerIDs = append(playerIDs, p.UserID)
	}

	if err := e.store.CreateSession(ctx, session, playerIDs); err != nil {
		e.publish(ctx, channel, events.TypeGameError, gameError{Message: "failed to start game", Code: "session_create_failed"})
		return fmt.Errorf("create session for %s: %w", lobbyCode, err)
	}
	if err := e.history.SaveSession(ctx, session, playerIDs); err != nil {
		// Snapshot is best-effort; the ephemeral store owns the running game.
		e.logger.Warn("session snapshot failed", "lobby", lobbyCode, "session", session.ID, "error", err)
	}
	if err := e.lobbies.SetStatus(ctx, lobbyCode, domain.StatusInProgress); err != nil {
		e.logger.Warn("status transition failed", "lobby", lobbyCode, "status", domain.StatusInProgress, "error", err)
	}

	e.publish(ctx, channel, events.TypeGameStarted, map[string]any{
		"session_id":      session.ID,
		"total_questions": len(session.Questions),
	})
	e.logger.Info("game started", "lobby", lobbyCode, "session", session.ID, "questions", len(session.Questions))

	if err := e.run(ctx, session, playerIDs); err != nil {
		return err
	}
	return e.finalize(ctx, session)
}

// Countdown reports the pre-game countdown duration.
func (e *Engine) Countdown() time.Duration {
	return e.cfg.Countdown
}

// Cancel stops a lobby's running session at its next phase boundary or poll
// tick. Safe to call for lobbies with no active session.
func (e *Engine) Cancel(lobbyCode string) {
	e.mu.Lock()
	cancel, ok := e.running[strings.ToUpper(lobbyCode)]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// materialize generates every question of the plan up front, aborting on the
// first failure, and randomizes the correct option's position.
func (e *Engine) materialize(ctx context.Context, plan []domain.QuestionSet, fallbackDifficulty int) ([]domain.Question, error) {
	var out []domain.Question
	for _, set := range plan {
		difficulty := set.Difficulty
		if difficulty == 0 {
			difficulty = fallbackDifficulty
		}
		for i := 0; i < set.Count; i++ {
			q, err := e.supplier.Generate(ctx, questions.Request{
				Category:   set.Category,
				Subject:    set.Subject,
				Difficulty: difficulty,
			})
			if err != nil {
				return nil, err
			}
			e.shuffleOptions(&q)
			out = append(out, q)
		}
	}
	return out, nil
}

// shuffleOptions decouples the correct answer's position from generation
// order; suppliers tend to put the correct option first.
func (e *Engine) shuffleOptions(q *domain.Question) {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	e.rnd.Shuffle(len(q.Options), func(i, j int) {
		q.Options[i], q.Options[j] = q.Options[j], q.Options[i]
	})
}

// run executes the phase loop. A failed phase is logged and skipped; only
// cancellation stops the loop early.
func (e *Engine) run(ctx context.Context, session domain.GameSession, playerIDs []string) error {
	for i := range session.Questions {
		if err := e.phase(ctx, session, i, playerIDs); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			e.logger.Error("question phase failed", "lobby", session.LobbyCode, "question", i, "error", err)
		}
		if i < len(session.Questions)-1 {
			if !sleepCtx(ctx, e.cfg.InterQuestionDelay) {
				return ctx.Err()
			}
		}
	}
	// Park the index one past the last question so submissions arriving
	// after the game ends are rejected for the rest of the session TTL.
	if err := e.store.SetQuestionIndex(ctx, session.LobbyCode, len(session.Questions)); err != nil {
		e.logger.Error("failed to close answer window", "lobby", session.LobbyCode, "error", err)
	}
	return nil
}

func (e *Engine) phase(ctx context.Context, session domain.GameSession, index int, playerIDs []string) error {
	code := session.LobbyCode
	channel := events.LobbyChannel(code)
	q := session.Questions[index]

	if err := e.store.SetQuestionIndex(ctx, code, index); err != nil {
		return fmt.Errorf("set question index: %w", err)
	}

	// The correct answer stays server-side until the reveal.
	e.publish(ctx, channel, events.TypeQuestionSent, questionStarted{
		QuestionText:   q.Text,
		Options:        q.Options,
		Category:       q.Category,
		Difficulty:     q.Difficulty,
		QuestionNumber: index + 1,
		TotalQuestions: len(session.Questions),
		TimeLimit:      session.QuestionTimer,
	})

	deadline := time.Now().Add(time.Duration(session.QuestionTimer) * time.Second)
	for time.Now().Before(deadline) {
		if !sleepCtx(ctx, e.cfg.PollInterval) {
			return ctx.Err()
		}
		done, err := e.allAnswered(ctx, code, index, playerIDs)
		if err != nil {
			e.logger.Warn("answer poll failed", "lobby", code, "question", index, "error", err)
			continue
		}
		if done {
			break
		}
	}

	// Synthesize zero-point answers for anyone who stayed silent. The store
	// insert is first-wins, so a real answer racing in between is kept.
	for _, userID := range playerIDs {
		has, err := e.store.HasAnswer(ctx, code, userID, index)
		if err != nil {
			e.logger.Warn("answer lookup failed", "lobby", code, "user", userID, "error", err)
			continue
		}
		if has {
			continue
		}
		if _, err := e.store.RecordAnswer(ctx, code, userID, domain.AnswerRecord{
			QuestionIndex: index,
			TimeTaken:     float64(session.QuestionTimer),
		}); err != nil {
			e.logger.Warn("auto-fail record failed", "lobby", code, "user", userID, "error", err)
		}
	}

	standings, err := e.standings(ctx, code)
	if err != nil {
		return fmt.Errorf("compute standings: %w", err)
	}
	e.publish(ctx, channel, events.TypeRoundEnded, roundEnded{
		CorrectAnswer: q.CorrectAnswer,
		Standings:     standings,
	})
	return nil
}

func (e *Engine) allAnswered(ctx context.Context, code string, index int, playerIDs []string) (bool, error) {
	for _, userID := range playerIDs {
		has, err := e.store.HasAnswer(ctx, code, userID, index)
		if err != nil {
			return false, err
		}
		if !has {
			return false, nil
		}
	}
	return true, nil
}

// standings re-reads state from the store rather than trusting any
// in-memory copy: concurrent submissions mutate scores between phases.
func (e *Engine) standings(ctx context.Context, code string) ([]domain.Standing, error) {
	lobby, err := e.lobbies.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	scores, err := e.store.Scores(ctx, code)
	if err != nil {
		return nil, err
	}
	correct := e.correctCounts(ctx, code, lobby.Players)

	standings := make([]domain.Standing, 0, len(lobby.Players))
	for _, p := range lobby.Players {
		standings = append(standings, domain.Standing{
			UserID:         p.UserID,
			Username:       p.Username,
			Score:          scores[p.UserID],
			CorrectAnswers: correct[p.UserID],
		})
	}
	sortStandings(standings)
	return standings, nil
}

func (e *Engine) correctCounts(ctx context.Context, code string, players []domain.Player) map[string]int {
	counts := make(map[string]int, len(players))
	for _, p := range players {
		answers, err := e.store.Answers(ctx, code, p.UserID)
		if err != nil {
			e.logger.Warn("answer history read failed", "lobby", code, "user", p.UserID, "error", err)
			continue
		}
		for _, a := range answers {
			if a.IsCorrect {
				counts[p.UserID]++
			}
		}
	}
	return counts
}

// SubmitAnswer handles one player's answer for the active question. It is
// invoked concurrently with the loop; all shared state goes through the
// store's atomic operations. The durable score mirror is best-effort.
func (e *Engine) SubmitAnswer(ctx context.Context, lobbyCode, userID, answer string, timeTaken float64) (AnswerResult, error) {
	code := strings.ToUpper(lobbyCode)

	session, err := e.store.GetSession(ctx, code)
	if err != nil {
		return AnswerResult{}, err
	}
	index, err := e.store.QuestionIndex(ctx, code)
	if err != nil {
		return AnswerResult{}, err
	}
	if index < 0 || index >= len(session.Questions) {
		return AnswerResult{}, domain.ErrNoActiveQuestion
	}

	q := session.Questions[index]
	isCorrect := answer == q.CorrectAnswer
	points := Score(isCorrect, timeTaken, session.QuestionTimer)

	inserted, err := e.store.RecordAnswer(ctx, code, userID, domain.AnswerRecord{
		QuestionIndex: index,
		Answer:        answer,
		IsCorrect:     isCorrect,
		Points:        points,
		TimeTaken:     timeTaken,
	})
	if err != nil {
		return AnswerResult{}, fmt.Errorf("record answer: %w", err)
	}
	if !inserted {
		return AnswerResult{}, domain.ErrDuplicateAnswer
	}

	total, err := e.store.AddScore(ctx, code, userID, points)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("update score: %w", err)
	}
	if err := e.lobbies.SetPlayerScore(ctx, code, userID, total); err != nil {
		e.logger.Warn("score mirror write failed", "lobby", code, "user", userID, "error", err)
	}

	channel := events.LobbyChannel(code)
	// The room learns that the player answered, never whether they were right.
	e.publish(ctx, channel, events.TypePlayerAnswered, map[string]any{"user_id": userID})
	if standings, sErr := e.standings(ctx, code); sErr == nil {
		e.publish(ctx, channel, events.TypeScoresUpdated, map[string]any{"standings": standings})
	}

	return AnswerResult{IsCorrect: isCorrect, PointsEarned: points, NewTotal: total}, nil
}

// RecordAutoFail records a zero-point answer for a player who missed a
// question. Exposed for the internal game-action surface; safe to call
// twice for the same (user, question).
func (e *Engine) RecordAutoFail(ctx context.Context, lobbyCode, userID string, questionIndex int) error {
	code := strings.ToUpper(lobbyCode)
	session, err := e.store.GetSession(ctx, code)
	if err != nil {
		return err
	}
	if questionIndex < 0 || questionIndex >= len(session.Questions) {
		return domain.ErrNoActiveQuestion
	}
	_, err = e.store.RecordAnswer(ctx, code, userID, domain.AnswerRecord{
		QuestionIndex: questionIndex,
		TimeTaken:     float64(session.QuestionTimer),
	})
	return err
}

// FinalizeByCode finalizes a lobby's session from the internal surface.
func (e *Engine) FinalizeByCode(ctx context.Context, lobbyCode string) error {
	session, err := e.store.GetSession(ctx, strings.ToUpper(lobbyCode))
	if err != nil {
		return err
	}
	return e.finalize(ctx, session)
}

// finalize ranks players, awards XP, completes the lobby, and announces the
// result. Errors here are terminal for the session: an error event is
// emitted and recovery is external. XP awards are idempotent per session,
// so a retried finalize never double-credits.
func (e *Engine) finalize(ctx context.Context, session domain.GameSession) (err error) {
	code := session.LobbyCode
	channel := events.LobbyChannel(code)
	defer func() {
		if err != nil {
			e.publish(ctx, channel, events.TypeGameError, gameError{Message: "failed to finalize game", Code: "finalize_failed"})
		}
	}()

	lobby, err := e.lobbies.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("finalize %s: load lobby: %w", code, err)
	}

	scores, err := e.store.Scores(ctx, code)
	if err != nil || len(scores) == 0 {
		// Ephemeral record expired or unreachable; the durable mirror is the
		// fallback source of final scores.
		if err != nil {
			e.logger.Warn("ephemeral scores unavailable, using durable mirror", "lobby", code, "error", err)
		}
		scores = make(map[string]int, len(lobby.Players))
		for _, p := range lobby.Players {
			scores[p.UserID] = p.Score
		}
	}
	correct := e.correctCounts(ctx, code, lobby.Players)

	rankings := Rank(lobby.Players, scores, correct)
	xpAwarded := make(map[string]int, len(rankings))
	for i := range rankings {
		xp := BaseXP(rankings[i].Score)
		if rankings[i].Rank == 1 {
			xp += WinnerBonus(len(rankings))
		}
		rankings[i].XPEarned = xp
		applied, awardErr := e.xp.AwardXP(ctx, session.ID, rankings[i].UserID, xp)
		if awardErr != nil {
			return fmt.Errorf("finalize %s: award xp to %s: %w", code, rankings[i].UserID, awardErr)
		}
		if !applied {
			e.logger.Info("xp already awarded, skipping", "lobby", code, "session", session.ID, "user", rankings[i].UserID)
		}
		xpAwarded[rankings[i].UserID] = xp
	}

	if err = e.lobbies.SetStatus(ctx, code, domain.StatusCompleted); err != nil {
		return fmt.Errorf("finalize %s: complete lobby: %w", code, err)
	}
	if err = e.history.FinishSession(ctx, session.ID, scores); err != nil {
		return fmt.Errorf("finalize %s: close history: %w", code, err)
	}

	e.publish(ctx, channel, events.TypeGameEnded, gameEnded{FinalRankings: rankings, XPAwarded: xpAwarded})
	e.logger.Info("game finalized", "lobby", code, "session", session.ID, "players", len(rankings))
	return nil
}

// publish keeps the fire-and-forget contract explicit: a failed publish is
// logged and swallowed, never surfaced to the triggering operation.
func (e *Engine) publish(ctx context.Context, channel string, typ events.Type, data any) {
	if err := e.bus.Publish(ctx, channel, typ, data); err != nil {
		e.logger.Warn("event publish failed", "channel", channel, "type", string(typ), "error", err)
	}
}

func sortStandings(s []domain.Standing) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Username < s[j].Username
	})
}

// sleepCtx sleeps for d unless ctx is canceled first; reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
