package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_multiplayer.sql
var createMultiplayerSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createMultiplayerSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS xp_awards;
				DROP TABLE IF EXISTS multiplayer_xp;
				DROP TABLE IF EXISTS game_sessions;
				DROP TABLE IF EXISTS lobby_players;
				DROP TABLE IF EXISTS lobbies`)
			return err
		},
	)
}
