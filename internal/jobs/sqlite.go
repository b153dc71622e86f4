package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datamachine/engine/pkg/models"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	flow_step_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	finished_at TIMESTAMP,
	result TEXT,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// NewSQLiteStore opens (or creates) a SQLite-backed job store at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(jobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores a job.
func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	result, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tool_name, tool_call_id, flow_step_id, status, created_at, started_at, finished_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ToolName, job.ToolCallID, job.FlowStepID, string(job.Status),
		job.CreatedAt, nullableTime(job.StartedAt), nullableTime(job.FinishedAt), result, job.Error,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update rewrites a job record.
func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	result, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, finished_at = ?, result = ?, error = ?
		WHERE id = ?`,
		string(job.Status), nullableTime(job.StartedAt), nullableTime(job.FinishedAt), result, job.Error, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Get returns a job by id, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_name, tool_call_id, flow_step_id, status, created_at, started_at, finished_at, result, error
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// Recent returns up to limit jobs, most recently created first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_name, tool_call_id, flow_step_id, status, created_at, started_at, finished_at, result, error
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Prune removes jobs older than the given duration.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status string
	var startedAt, finishedAt sql.NullTime
	var result sql.NullString
	if err := row.Scan(&job.ID, &job.ToolName, &job.ToolCallID, &job.FlowStepID, &status,
		&job.CreatedAt, &startedAt, &finishedAt, &result, &job.Error); err != nil {
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

func marshalResult(result *models.ToolResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode job result: %w", err)
	}
	return string(data), nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
