// Package postgres implements the postgres persistence backend (spec.md
// §4.10/§6) for multi-node deployments needing a shared durable store.
// Migration wiring is grounded on vanducng-goclaw/cmd/migrate.go's
// golang-migrate usage; the query-per-store shape is grounded on
// vanducng-goclaw/internal/store/pg/sessions.go, adapted from
// database/sql to a pgxpool.Pool per SPEC_FULL.md's domain stack (pgx/v5
// exposes LISTEN/NOTIFY and a connection pool go-opencode's database/sql
// usage doesn't need, but is otherwise idiomatic for this backend).
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending up migration to the database at dsn.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
