// Package postgres provides the durable mirror of lobby and game state.
// Lobbies are normalized across a lobbies row and one lobby_players row per
// member, so every player mutation is a single-row statement.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/lobby"
)

type LobbyRepository struct {
	pool *pgxpool.Pool
}

func NewLobbyRepository(pool *pgxpool.Pool) *LobbyRepository {
	return &LobbyRepository{pool: pool}
}

func (r *LobbyRepository) Create(ctx context.Context, l domain.Lobby) error {
	categories, err := json.Marshal(l.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	questionList, err := json.Marshal(l.QuestionList)
	if err != nil {
		return fmt.Errorf("encode question list: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO lobbies (code, creator_id, creator_username, categories, difficulty,
			question_timer, max_players, question_list, status, created_at, updated_at, expire_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		l.Code, l.CreatorID, l.CreatorUsername, categories, l.Difficulty,
		l.QuestionTimer, l.MaxPlayers, questionList, string(l.Status),
		l.CreatedAt, l.UpdatedAt, l.ExpireAt)
	if err != nil {
		return fmt.Errorf("insert lobby %s: %w", l.Code, err)
	}
	for _, p := range l.Players {
		if err := insertPlayer(ctx, tx, l.Code, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lobby %s: %w", l.Code, err)
	}
	return nil
}

func (r *LobbyRepository) GetByCode(ctx context.Context, code string) (domain.Lobby, error) {
	var (
		l            domain.Lobby
		status       string
		categories   []byte
		questionList []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT code, creator_id, creator_username, categories, difficulty, question_timer,
			max_players, question_list, status, created_at, updated_at, expire_at
		FROM lobbies WHERE code=$1 AND expire_at > now()`, code).Scan(
		&l.Code, &l.CreatorID, &l.CreatorUsername, &categories, &l.Difficulty,
		&l.QuestionTimer, &l.MaxPlayers, &questionList, &status,
		&l.CreatedAt, &l.UpdatedAt, &l.ExpireAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("load lobby %s: %w", code, err)
	}
	l.Status = domain.LobbyStatus(status)
	if err := json.Unmarshal(categories, &l.Categories); err != nil {
		return domain.Lobby{}, fmt.Errorf("decode categories %s: %w", code, err)
	}
	if err := json.Unmarshal(questionList, &l.QuestionList); err != nil {
		return domain.Lobby{}, fmt.Errorf("decode question list %s: %w", code, err)
	}
	l.Players, err = r.loadPlayers(ctx, code)
	if err != nil {
		return domain.Lobby{}, err
	}
	return l, nil
}

func (r *LobbyRepository) loadPlayers(ctx context.Context, code string) ([]domain.Player, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, username, picture, ready, score, connected
		FROM lobby_players WHERE lobby_code=$1 ORDER BY joined_at`, code)
	if err != nil {
		return nil, fmt.Errorf("load players %s: %w", code, err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.UserID, &p.Username, &p.Picture, &p.Ready, &p.Score, &p.Connected); err != nil {
			return nil, fmt.Errorf("scan player %s: %w", code, err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *LobbyRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lobbies WHERE code=$1 AND expire_at > now())`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code %s: %w", code, err)
	}
	return exists, nil
}

func (r *LobbyRepository) AddPlayer(ctx context.Context, code string, p domain.Player) error {
	if err := insertPlayer(ctx, r.pool, code, p); err != nil {
		return err
	}
	return r.touch(ctx, code)
}

// execer is the subset of pgxpool.Pool and pgx.Tx used by player inserts.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func insertPlayer(ctx context.Context, db execer, code string, p domain.Player) error {
	_, err := db.Exec(ctx, `
		INSERT INTO lobby_players (lobby_code, user_id, username, picture, ready, score, connected, joined_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (lobby_code, user_id) DO UPDATE SET connected = EXCLUDED.connected`,
		code, p.UserID, p.Username, p.Picture, p.Ready, p.Score, p.Connected)
	if err != nil {
		return fmt.Errorf("insert player %s/%s: %w", code, p.UserID, err)
	}
	return nil
}

func (r *LobbyRepository) RemovePlayer(ctx context.Context, code, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM lobby_players WHERE lobby_code=$1 AND user_id=$2`, code, userID)
	if err != nil {
		return fmt.Errorf("remove player %s/%s: %w", code, userID, err)
	}
	return r.touch(ctx, code)
}

func (r *LobbyRepository) SetReady(ctx context.Context, code, userID string, ready bool) error {
	return r.updatePlayer(ctx, code, userID, "ready", ready)
}

func (r *LobbyRepository) SetConnected(ctx context.Context, code, userID string, connected bool) error {
	return r.updatePlayer(ctx, code, userID, "connected", connected)
}

func (r *LobbyRepository) SetPlayerScore(ctx context.Context, code, userID string, score int) error {
	return r.updatePlayer(ctx, code, userID, "score", score)
}

func (r *LobbyRepository) updatePlayer(ctx context.Context, code, userID, column string, value interface{}) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE lobby_players SET `+column+`=$3 WHERE lobby_code=$1 AND user_id=$2`,
		code, userID, value)
	if err != nil {
		return fmt.Errorf("update player %s %s/%s: %w", column, code, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotMember
	}
	return r.touch(ctx, code)
}

func (r *LobbyRepository) SetStatus(ctx context.Context, code string, status domain.LobbyStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE lobbies SET status=$2, updated_at=now() WHERE code=$1`, code, string(status))
	if err != nil {
		return fmt.Errorf("set status %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLobbyNotFound
	}
	return nil
}

func (r *LobbyRepository) ReassignCreator(ctx context.Context, code, userID, username string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE lobbies SET creator_id=$2, creator_username=$3, updated_at=now() WHERE code=$1`,
		code, userID, username)
	if err != nil {
		return fmt.Errorf("reassign creator %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLobbyNotFound
	}
	return nil
}

func (r *LobbyRepository) UpdateSettings(ctx context.Context, code string, s lobby.SettingsUpdate) error {
	sets := "updated_at=now()"
	args := []interface{}{code}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if s.Categories != nil {
		raw, err := json.Marshal(s.Categories)
		if err != nil {
			return fmt.Errorf("encode categories: %w", err)
		}
		sets += ", categories=" + arg(raw)
	}
	if s.Difficulty != nil {
		sets += ", difficulty=" + arg(*s.Difficulty)
	}
	if s.QuestionTimer != nil {
		sets += ", question_timer=" + arg(*s.QuestionTimer)
	}
	if s.MaxPlayers != nil {
		sets += ", max_players=" + arg(*s.MaxPlayers)
	}
	if s.QuestionList != nil {
		raw, err := json.Marshal(s.QuestionList)
		if err != nil {
			return fmt.Errorf("encode question list: %w", err)
		}
		sets += ", question_list=" + arg(raw)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE lobbies SET `+sets+` WHERE code=$1`, args...)
	if err != nil {
		return fmt.Errorf("update settings %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLobbyNotFound
	}
	return nil
}

func (r *LobbyRepository) Delete(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM lobbies WHERE code=$1`, code)
	if err != nil {
		return fmt.Errorf("delete lobby %s: %w", code, err)
	}
	return nil
}

func (r *LobbyRepository) ListActive(ctx context.Context, limit int) ([]domain.Lobby, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code FROM lobbies
		WHERE status=$1 AND expire_at > now()
		ORDER BY created_at DESC LIMIT $2`, string(domain.StatusWaiting), limit)
	if err != nil {
		return nil, fmt.Errorf("list active lobbies: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan lobby code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lobbies := make([]domain.Lobby, 0, len(codes))
	for _, code := range codes {
		l, err := r.GetByCode(ctx, code)
		if errors.Is(err, domain.ErrLobbyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		lobbies = append(lobbies, l)
	}
	return lobbies, nil
}

func (r *LobbyRepository) touch(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, `UPDATE lobbies SET updated_at=now() WHERE code=$1`, code)
	if err != nil {
		return fmt.Errorf("touch lobby %s: %w", code, err)
	}
	return nil
}

var _ lobby.Repository = (*LobbyRepository)(nil)
