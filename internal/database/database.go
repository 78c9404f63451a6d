// Package database opens the Postgres handle used by migrations and checks schema state.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appmigrations "github.com/wolfman30/dealer-sms-agent/migrations"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

const (
	defaultPingAttempts = 5
	defaultPingInterval = 2 * time.Second
)

// ErrDirtySchema means a previous migration failed half way and needs a manual force.
var ErrDirtySchema = errors.New("database: schema is dirty")

type pinger interface {
	PingContext(ctx context.Context) error
}

// Open connects to databaseURL with the pgx stdlib driver and waits for it to answer.
func Open(ctx context.Context, databaseURL string, logger *logging.Logger) (*sql.DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, errors.New("database: DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if err := WaitForPing(ctx, db, defaultPingAttempts, defaultPingInterval, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// WaitForPing pings db up to attempts times, sleeping interval between failures.
func WaitForPing(ctx context.Context, db pinger, attempts int, interval time.Duration, logger *logging.Logger) error {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.Warn("database not ready", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("database: ping: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("database: ping after %d attempts: %w", attempts, err)
}

// Migrate applies every pending embedded migration and returns the resulting version.
func Migrate(db *sql.DB, logger *logging.Logger) (uint, error) {
	if logger == nil {
		logger = logging.Default()
	}
	m, err := newMigrator(db)
	if err != nil {
		return 0, err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("database: migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("database: read version: %w", err)
	}
	if dirty {
		return version, ErrDirtySchema
	}
	logger.Info("migrations applied", "version", version)
	return version, nil
}

// Force sets the recorded schema version without running migrations.
func Force(db *sql.DB, version int) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Force(version); err != nil {
		return fmt.Errorf("database: force version %d: %w", version, err)
	}
	return nil
}

// SchemaVersion reads the golang-migrate bookkeeping row. A database that was never
// migrated reports version 0.
func SchemaVersion(ctx context.Context, db *sql.DB) (uint, error) {
	var (
		version int64
		dirty   bool
	)
	err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("database: schema version: %w", err)
	}
	if dirty {
		return uint(version), ErrDirtySchema
	}
	return uint(version), nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("database: migrate driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("database: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("database: create migrator: %w", err)
	}
	return m, nil
}
