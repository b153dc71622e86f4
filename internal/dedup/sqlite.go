package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const dedupSchema = `
CREATE TABLE IF NOT EXISTS processed_items (
	flow_step_id TEXT NOT NULL,
	source_type TEXT NOT NULL,
	item_id TEXT NOT NULL,
	processed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (flow_step_id, source_type, item_id)
);
CREATE INDEX IF NOT EXISTS idx_processed_items_at ON processed_items(processed_at);
`

// NewSQLiteStore opens (or creates) a SQLite-backed dedup store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(dedupSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create dedup schema: %w", err)
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

// MarkProcessed records an item as processed. Re-marking an item refreshes
// its timestamp.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, flowStepID, sourceType, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO processed_items (flow_step_id, source_type, item_id, processed_at)
		 VALUES (?, ?, ?, ?)`,
		flowStepID, sourceType, itemID, time.Now())
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether an item was already processed.
func (s *SQLiteStore) IsProcessed(ctx context.Context, flowStepID, sourceType, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_items WHERE flow_step_id = ? AND source_type = ? AND item_id = ?`,
		flowStepID, sourceType, itemID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed: %w", err)
	}
	return true, nil
}

// ClearStep forgets all processed items for a flow step.
func (s *SQLiteStore) ClearStep(ctx context.Context, flowStepID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_items WHERE flow_step_id = ?`, flowStepID)
	if err != nil {
		return fmt.Errorf("clear step: %w", err)
	}
	return nil
}

// Prune removes records older than the given duration.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_items WHERE processed_at < ?`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune processed items: %w", err)
	}
	return res.RowsAffected()
}
