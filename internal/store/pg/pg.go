// Package pg implements the store contracts on PostgreSQL through the
// pgx stdlib driver. Schema changes ship as embedded golang-migrate
// migrations.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flocklabs/flock/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the database named by a standard Postgres DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	return db, nil
}

// NewStores returns all sub-stores backed by one Postgres database.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	s := &store.Stores{
		Homes:           &homeStore{db: db},
		Transitions:     &transitionStore{db: db},
		Audit:           &auditStore{db: db},
		Tasks:           &taskStore{db: db},
		Channels:        &channelStore{db: db},
		ChannelMessages: &channelMessageStore{db: db},
		AgentLoop:       &agentLoopStore{db: db},
		Bridges:         &bridgeStore{db: db},
	}
	s.Migrate = func(ctx context.Context) error { return Migrate(db) }
	s.Close = db.Close
	return s, nil
}

// NewMigrator builds a migrator over the embedded migration set. The
// migrate CLI subcommands use it for down, force, and version.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("migrate init: %w", err)
	}
	return m, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(db *sql.DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// isUniqueViolation detects Postgres error class 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
