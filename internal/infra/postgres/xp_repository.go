package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// XPRepository accumulates multiplayer XP per user. The xp_awards ledger is
// keyed on (session_id, user_id), so re-running a finalize never grants the
// same award twice.
type XPRepository struct {
	pool *pgxpool.Pool
}

func NewXPRepository(pool *pgxpool.Pool) *XPRepository {
	return &XPRepository{pool: pool}
}

func (r *XPRepository) AwardXP(ctx context.Context, sessionID, userID string, xp int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO xp_awards (session_id, user_id, xp, awarded_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (session_id, user_id) DO NOTHING`,
		sessionID, userID, xp)
	if err != nil {
		return false, fmt.Errorf("record award %s/%s: %w", sessionID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO multiplayer_xp (user_id, total_xp, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (user_id) DO UPDATE
		SET total_xp = multiplayer_xp.total_xp + EXCLUDED.total_xp, updated_at = now()`,
		userID, xp)
	if err != nil {
		return false, fmt.Errorf("apply xp %s: %w", userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit award %s/%s: %w", sessionID, userID, err)
	}
	return true, nil
}

func (r *XPRepository) TotalXP(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT total_xp FROM multiplayer_xp WHERE user_id=$1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total xp %s: %w", userID, err)
	}
	return total, nil
}
