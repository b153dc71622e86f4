// Package selection persists the tool selection: per-step disables, the
// global opt-out list, and per-tool configuration state. Definitions are
// never stored here; providers contribute those fresh at discovery time.
package selection

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the availability selection store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const selectionSchema = `
CREATE TABLE IF NOT EXISTS step_tool_disables (
	flow_step_id TEXT NOT NULL,
	tool_id TEXT NOT NULL,
	PRIMARY KEY (flow_step_id, tool_id)
);
CREATE TABLE IF NOT EXISTS global_tool_selection (
	tool_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tool_config_state (
	tool_id TEXT PRIMARY KEY,
	configured INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS selection_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) a selection store at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(selectionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create selection schema: %w", err)
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

// DisabledTools returns the tool ids disabled for the given flow step.
func (s *SQLiteStore) DisabledTools(ctx context.Context, flowStepID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_id FROM step_tool_disables WHERE flow_step_id = ? ORDER BY tool_id`,
		flowStepID)
	if err != nil {
		return nil, fmt.Errorf("query step disables: %w", err)
	}
	defer rows.Close()

	var disabled []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan step disable: %w", err)
		}
		disabled = append(disabled, id)
	}
	return disabled, rows.Err()
}

// SetDisabledTools replaces the disable list for a flow step.
func (s *SQLiteStore) SetDisabledTools(ctx context.Context, flowStepID string, toolIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM step_tool_disables WHERE flow_step_id = ?`, flowStepID); err != nil {
		return fmt.Errorf("clear step disables: %w", err)
	}
	for _, id := range toolIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO step_tool_disables (flow_step_id, tool_id) VALUES (?, ?)`,
			flowStepID, id); err != nil {
			return fmt.Errorf("insert step disable: %w", err)
		}
	}
	return tx.Commit()
}

// GlobalSelection returns the saved enable overrides and whether a selection
// has ever been saved. An uninitialized store means fresh install: the gate
// then admits every configured general tool.
func (s *SQLiteStore) GlobalSelection(ctx context.Context) (map[string]bool, bool, error) {
	var marker string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM selection_meta WHERE key = 'global_initialized'`).Scan(&marker)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query selection meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tool_id, enabled FROM global_tool_selection`)
	if err != nil {
		return nil, false, fmt.Errorf("query global selection: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled int
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, false, fmt.Errorf("scan global selection: %w", err)
		}
		overrides[id] = enabled != 0
	}
	return overrides, true, rows.Err()
}

// SetGlobalSelection replaces the global enable overrides and marks the store
// initialized.
func (s *SQLiteStore) SetGlobalSelection(ctx context.Context, overrides map[string]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM global_tool_selection`); err != nil {
		return fmt.Errorf("clear global selection: %w", err)
	}
	for id, enabled := range overrides {
		val := 0
		if enabled {
			val = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO global_tool_selection (tool_id, enabled) VALUES (?, ?)`,
			id, val); err != nil {
			return fmt.Errorf("insert global selection: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO selection_meta (key, value) VALUES ('global_initialized', '1')`); err != nil {
		return fmt.Errorf("mark initialized: %w", err)
	}
	return tx.Commit()
}

// Configured reports whether a tool's configuration state is saved as ready.
// Unknown tools report unconfigured.
func (s *SQLiteStore) Configured(ctx context.Context, toolID string) (bool, error) {
	var configured int
	err := s.db.QueryRowContext(ctx,
		`SELECT configured FROM tool_config_state WHERE tool_id = ?`, toolID).Scan(&configured)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query tool config state: %w", err)
	}
	return configured != 0, nil
}

// SetConfigured records a tool's configuration state.
func (s *SQLiteStore) SetConfigured(ctx context.Context, toolID string, configured bool) error {
	val := 0
	if configured {
		val = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tool_config_state (tool_id, configured) VALUES (?, ?)`,
		toolID, val)
	if err != nil {
		return fmt.Errorf("save tool config state: %w", err)
	}
	return nil
}
