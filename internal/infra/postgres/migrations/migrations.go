package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_engine_tables.sql
var createEngineTablesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createEngineTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS answers;
				DROP TABLE IF EXISTS sessions;
				DROP TABLE IF EXISTS ledger_entries;
				DROP TABLE IF EXISTS group_members;
				DROP TABLE IF EXISTS assignments;
				DROP TABLE IF EXISTS templates;
				DROP TABLE IF EXISTS question_topics;
			`)
			return err
		},
	)
}
