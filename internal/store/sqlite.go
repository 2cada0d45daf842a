package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contractml/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	domain           TEXT NOT NULL,
	source_version   TEXT NOT NULL,
	target_version   TEXT NOT NULL,
	migrated         INTEGER NOT NULL DEFAULT 0,
	migration_status TEXT NOT NULL DEFAULT '',
	drift_detected   INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	error_kind       TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	duration_ms      REAL NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_executions_domain ON executions(domain);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordExecution inserts rec, assigning an id and timestamp when unset.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	stampRecord(rec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, domain, source_version, target_version, migrated, migration_status, drift_detected, status, error_kind, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Domain, rec.SourceVersion, rec.TargetVersion, rec.Migrated, string(rec.MigrationStatus),
		rec.DriftDetected, string(rec.Status), rec.ErrorKind, rec.Error, rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert execution %s", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: execution not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any

	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate executions")
}

const executionColumns = `id, domain, source_version, target_version, migrated, migration_status, drift_detected, status, error_kind, error, duration_ms, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanExecution(row scannable) (*model.ExecutionRecord, error) {
	var (
		rec             model.ExecutionRecord
		migrationStatus string
		status          string
	)
	if err := row.Scan(
		&rec.ID, &rec.Domain, &rec.SourceVersion, &rec.TargetVersion, &rec.Migrated, &migrationStatus,
		&rec.DriftDetected, &status, &rec.ErrorKind, &rec.Error, &rec.DurationMs, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.MigrationStatus = model.MigrationStatus(migrationStatus)
	rec.Status = model.ExecutionStatus(status)
	return &rec, nil
}

func stampRecord(rec *model.ExecutionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}
