package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/datamachine/engine/pkg/models"
)

// PostgresConfig holds connection pool settings for a Postgres-backed store.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns the default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store on Postgres. Suited to deployments where
// several engine processes share one job table.
type PostgresStore struct {
	db *sql.DB
}

const postgresJobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	flow_step_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	result JSONB,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// NewPostgresStore opens a Postgres-backed job store.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresJobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases database resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores a job.
func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	resultJSON, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tool_name, tool_call_id, flow_step_id, status, created_at, started_at, finished_at, result, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		job.ID,
		job.ToolName,
		job.ToolCallID,
		job.FlowStepID,
		string(job.Status),
		job.CreatedAt,
		pgNullTime(job.StartedAt),
		pgNullTime(job.FinishedAt),
		resultJSON,
		job.Error,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Update rewrites a job record.
func (s *PostgresStore) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	resultJSON, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET tool_name = $2,
			tool_call_id = $3,
			flow_step_id = $4,
			status = $5,
			started_at = $6,
			finished_at = $7,
			result = $8,
			error = $9
		WHERE id = $1
	`,
		job.ID,
		job.ToolName,
		job.ToolCallID,
		job.FlowStepID,
		string(job.Status),
		pgNullTime(job.StartedAt),
		pgNullTime(job.FinishedAt),
		resultJSON,
		job.Error,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Get returns a job by id, or nil when absent.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_name, tool_call_id, flow_step_id, status, created_at, started_at, finished_at, result, error
		FROM jobs WHERE id = $1
	`, id)
	job, err := scanPostgresJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Recent returns up to limit jobs, most recently created first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_name, tool_call_id, flow_step_id, status, created_at, started_at, finished_at, result, error
		FROM jobs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Prune deletes jobs older than the given duration.
func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanPostgresJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		status     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		result     sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.ToolName,
		&job.ToolCallID,
		&job.FlowStepID,
		&status,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&result,
		&job.Error,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	if result.Valid && result.String != "" {
		var tr models.ToolResult
		if err := json.Unmarshal([]byte(result.String), &tr); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &tr
	}
	return &job, nil
}

func encodeResult(result *models.ToolResult) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode job result: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func pgNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
