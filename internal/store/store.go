// Package store persists login outcomes to PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS login_outcomes (
    run_id        TEXT PRIMARY KEY,
    user_type     TEXT NOT NULL,
    kind          TEXT NOT NULL,
    success       BOOLEAN NOT NULL,
    rba_triggered BOOLEAN NOT NULL,
    furthest_step TEXT NOT NULL,
    details       JSONB NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS login_outcome_details (
    run_id   TEXT NOT NULL REFERENCES login_outcomes (run_id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    key      TEXT NOT NULL,
    value    JSONB NOT NULL,
    PRIMARY KEY (run_id, position)
);`

const insertOutcomeSQL = `
INSERT INTO login_outcomes (run_id, user_type, kind, success, rba_triggered, furthest_step, details, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

const recentOutcomesSQL = `
SELECT run_id, user_type, kind, success, rba_triggered, furthest_step, details, started_at, finished_at
FROM login_outcomes
ORDER BY started_at DESC
LIMIT $1;`

var detailColumns = []string{"run_id", "position", "key", "value"}

// Store implements schemas.ResultSink on PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ResultSink = (*Store)(nil)

// Connect opens a pool for dsn and returns a ready Store with its schema in place.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the outcome tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Record inserts the outcome and its detail entries in one transaction.
func (s *Store) Record(ctx context.Context, userType schemas.UserType, o schemas.LoginOutcome) error {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details for run %s: %w", o.RunID, err)
	}
	if string(details) == "null" {
		details = []byte("{}")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertOutcomeSQL,
		o.RunID, string(userType), string(o.Kind), o.Success, o.RbaTriggered, string(o.FurthestStep),
		details, o.StartedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome %s: %w", o.RunID, err)
	}

	if o.Details.Len() > 0 {
		if err := s.persistDetails(ctx, tx, o.RunID, o.Details); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Outcome stored.", zap.String("run_id", o.RunID), zap.String("kind", string(o.Kind)))
	return nil
}

func (s *Store) persistDetails(ctx context.Context, tx pgx.Tx, runID string, d *schemas.Details) error {
	keys := d.Keys()
	rows := make([][]interface{}, len(keys))
	for i, k := range keys {
		v, _ := d.Get(k)
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode detail %q: %w", k, err)
		}
		rows[i] = []interface{}{runID, i, k, encoded}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"login_outcome_details"}, detailColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy details: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied details count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// Recent returns the newest outcomes, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]schemas.LoginOutcome, error) {
	rows, err := s.pool.Query(ctx, recentOutcomesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []schemas.LoginOutcome
	for rows.Next() {
		var (
			o                     schemas.LoginOutcome
			userType, kind, step  string
			details               []byte
			startedAt, finishedAt time.Time
		)
		if err := rows.Scan(&o.RunID, &userType, &kind, &o.Success, &o.RbaTriggered, &step, &details, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		o.UserType = schemas.UserType(userType)
		o.Kind = schemas.OutcomeKind(kind)
		o.FurthestStep = schemas.Step(step)
		o.StartedAt, o.FinishedAt = startedAt, finishedAt
		o.Details = schemas.NewDetails()
		if err := json.Unmarshal(details, o.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details of run %s: %w", o.RunID, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
