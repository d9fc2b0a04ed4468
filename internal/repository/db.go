// Package repository owns the pipeline database: per-identifier state with
// compare-and-set transitions, and the published structured records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Open connects to the pipeline database. A postgres:// DSN selects pgx;
// anything else is treated as a sqlite file path. The schema is applied on
// open.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		logger.Info("connecting to database", "driver", "pgx")
		db, err = sql.Open("pgx", dsn)
	default:
		logger.Info("connecting to database", "driver", "sqlite", "path", dsn)
		db, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err == nil {
			// modernc sqlite serializes writes; avoid lock contention across conns
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("database ready")
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_state (
			ada        TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			in_flight  INTEGER NOT NULL DEFAULT 0,
			owner      TEXT NOT NULL DEFAULT '',
			attempts   INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_state_status ON pipeline_state (status)`,
		`CREATE TABLE IF NOT EXISTS structured_records (
			ada             TEXT PRIMARY KEY,
			doc_sha256      TEXT NOT NULL DEFAULT '',
			completeness    TEXT NOT NULL,
			issue_date      TEXT,
			subject         TEXT,
			organization_id TEXT,
			record_json     TEXT NOT NULL,
			normalized_at   TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
