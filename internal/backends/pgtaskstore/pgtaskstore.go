// Package pgtaskstore implements ports.TaskStore on Postgres via pgx's
// pooled driver, for deployments that want job/task records to survive a
// process restart. The core engine never depends on this package directly;
// it is wired in by a consumer that owns both the engine and the pool.
package pgtaskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kamojiro/weaver/internal/ids"
	"github.com/kamojiro/weaver/internal/weaver"
)

// Store is a Postgres-backed ports.TaskStore.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using connString and returns a ready Store.
// The caller is expected to have already applied the schema in Schema().
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Schema returns the DDL a deployment must apply before using Store.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS weaver_jobs (
	job_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	spec JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS weaver_tasks (
	task_id TEXT PRIMARY KEY,
	job_id TEXT,
	state TEXT NOT NULL,
	record JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS weaver_attempts (
	attempt_id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	record JSONB NOT NULL,
	ended_at TIMESTAMPTZ
);
`
}

func (s *Store) PutJob(ctx context.Context, job weaver.JobRecord) error {
	data, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("marshal job spec: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO weaver_jobs (job_id, state, spec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET state = $2, updated_at = $5
	`, job.ID.String(), string(job.State), data, job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *Store) PutTask(ctx context.Context, task weaver.TaskRecord) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	var jobID string
	if task.HasJob {
		jobID = task.JobID.String()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO weaver_tasks (task_id, job_id, state, record, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE SET state = $3, record = $4, updated_at = $5
	`, task.ID.String(), jobID, string(task.State), data, task.UpdatedAt)
	return err
}

func (s *Store) PutAttempt(ctx context.Context, attempt weaver.AttemptRecord) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO weaver_attempts (attempt_id, task_id, record, ended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (attempt_id) DO UPDATE SET record = $3, ended_at = $4
	`, attempt.ID.String(), attempt.TaskID.String(), data, attempt.EndedAt)
	return err
}

func (s *Store) GetJob(ctx context.Context, id ids.JobID) (weaver.JobRecord, error) {
	var state string
	var spec json.RawMessage
	var createdAt, updatedAt time.Time
	row := s.pool.QueryRow(ctx, `SELECT state, spec, created_at, updated_at FROM weaver_jobs WHERE job_id = $1`, id.String())
	if err := row.Scan(&state, &spec, &createdAt, &updatedAt); err != nil {
		return weaver.JobRecord{}, fmt.Errorf("scan job row: %w", err)
	}
	var jobSpec weaver.JobSpec
	if err := json.Unmarshal(spec, &jobSpec); err != nil {
		return weaver.JobRecord{}, fmt.Errorf("unmarshal job spec: %w", err)
	}
	return weaver.JobRecord{
		ID:        id,
		Spec:      jobSpec,
		State:     weaver.JobState(state),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
