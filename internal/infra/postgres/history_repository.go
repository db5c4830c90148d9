package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-arena-service/internal/domain"
)

// HistoryRepository records finished and in-flight game sessions for match
// history. Writes are best-effort from the engine's point of view.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) SaveSession(ctx context.Context, s domain.GameSession, playerIDs []string) error {
	players, err := json.Marshal(playerIDs)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO game_sessions (id, lobby_code, player_ids, question_count, question_timer, started_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.LobbyCode, players, len(s.Questions), s.QuestionTimer, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (r *HistoryRepository) FinishSession(ctx context.Context, sessionID string, scores map[string]int) error {
	raw, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE game_sessions SET final_scores=$2, finished_at=now() WHERE id=$1`,
		sessionID, raw)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	return nil
}
