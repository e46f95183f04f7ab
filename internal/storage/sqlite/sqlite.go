// Package sqlite implements the incident and watermark stores on a single
// SQLite file for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create incidents",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS incidents (
					content_hash        TEXT PRIMARY KEY,
					feed_slug           TEXT NOT NULL,
					content             TEXT NOT NULL,
					category            TEXT NOT NULL DEFAULT '',
					severity            INTEGER NOT NULL CHECK (severity BETWEEN 1 AND 5),
					relevance_score     REAL NOT NULL CHECK (relevance_score BETWEEN 0 AND 1),
					source_published_at TEXT NOT NULL,
					created_at          TEXT NOT NULL,
					updated_at          TEXT NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_incidents_feed_published ON incidents (feed_slug, source_published_at);
				CREATE INDEX IF NOT EXISTS idx_incidents_category ON incidents (category);`)
			return err
		},
	},
	{
		Version:     2,
		Description: "create watermarks",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS watermarks (
					feed_slug    TEXT NOT NULL,
					language     TEXT NOT NULL,
					published_at TEXT NOT NULL,
					updated_at   TEXT NOT NULL,
					PRIMARY KEY (feed_slug, language)
				)`)
			return err
		},
	},
}

func latestVersion() int {
	return migrations[len(migrations)-1].Version
}

// Open creates or opens the database at path and brings its schema up to
// date. A single connection serializes writers.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var v int
	if err := db.GetContext(ctx, &v, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Migrate applies pending migrations tracked by PRAGMA user_version and
// returns how many ran.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (int, error) {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	if current >= latestVersion() {
		return 0, nil
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// user_version is set outside the transaction; the DDL is idempotent.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return applied, fmt.Errorf("set version %d: %w", m.Version, err)
		}
		applied++
	}

	return applied, nil
}
