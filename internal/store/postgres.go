package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contractml/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_execution": `INSERT INTO executions (` + executionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"get_execution":    `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	domain           TEXT NOT NULL,
	source_version   TEXT NOT NULL,
	target_version   TEXT NOT NULL,
	migrated         BOOLEAN NOT NULL DEFAULT false,
	migration_status TEXT NOT NULL DEFAULT '',
	drift_detected   BOOLEAN NOT NULL DEFAULT false,
	status           TEXT NOT NULL,
	error_kind       TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	duration_ms      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_executions_domain ON executions(domain);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	stampRecord(rec)
	_, err := s.pool.Exec(ctx, preparedStatements["insert_execution"],
		rec.ID, rec.Domain, rec.SourceVersion, rec.TargetVersion, rec.Migrated, string(rec.MigrationStatus),
		rec.DriftDetected, string(rec.Status), rec.ErrorKind, rec.Error, rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert execution %s", rec.ID)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	rec, err := scanExecution(s.pool.QueryRow(ctx, preparedStatements["get_execution"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: execution not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Domain != "" {
		query += fmt.Sprintf(` AND domain = $%d`, argIdx)
		args = append(args, filter.Domain)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate executions")
}
