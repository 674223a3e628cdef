package trace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS llm_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	model TEXT NOT NULL,
	stop_reason TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_session ON llm_calls(session_id);

CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	call_id TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	stages_completed INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id);
`

// Store is the on-disk run archive: every model call and tool call of a
// session, queryable after the fact.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init trace store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// LLMCallRow is one archived model call.
type LLMCallRow struct {
	ID           int64
	SessionID    string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	CreatedAt    time.Time
}

// ToolCallRow is one archived tool call.
type ToolCallRow struct {
	ID              int64
	SessionID       string
	CallID          string
	ToolName        string
	Success         bool
	Error           string
	StagesCompleted int
	Duration        time.Duration
	CreatedAt       time.Time
}

func (s *Store) InsertLLMCall(ctx context.Context, row LLMCallRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls (session_id, model, stop_reason, input_tokens, output_tokens, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.Model, row.StopReason,
		row.InputTokens, row.OutputTokens, row.Duration.Milliseconds(),
		row.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

func (s *Store) InsertToolCall(ctx context.Context, row ToolCallRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (session_id, call_id, tool_name, success, error, stages_completed, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.CallID, row.ToolName, boolToInt(row.Success), row.Error,
		row.StagesCompleted, row.Duration.Milliseconds(),
		row.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// RecentLLMCalls lists the latest archived model calls, newest first.
func (s *Store) RecentLLMCalls(ctx context.Context, limit int) ([]LLMCallRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, model, stop_reason, input_tokens, output_tokens, duration_ms, created_at
		 FROM llm_calls ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list llm calls: %w", err)
	}
	defer rows.Close()

	var out []LLMCallRow
	for rows.Next() {
		var r LLMCallRow
		var durMS int64
		var created string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Model, &r.StopReason,
			&r.InputTokens, &r.OutputTokens, &durMS, &created); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionToolCalls lists the tool calls of one session, oldest first.
func (s *Store) SessionToolCalls(ctx context.Context, sessionID string) ([]ToolCallRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, call_id, tool_name, success, error, stages_completed, duration_ms, created_at
		 FROM tool_calls WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCallRow
	for rows.Next() {
		var r ToolCallRow
		var success int
		var durMS int64
		var created string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.CallID, &r.ToolName,
			&success, &r.Error, &r.StagesCompleted, &durMS, &created); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		r.Success = success != 0
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
