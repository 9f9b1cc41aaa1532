package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// ToolRun is one audited tool execution. Output is stored as a capped
// excerpt plus a full-output hash so the audit row stays bounded while
// remaining verifiable.
type ToolRun struct {
	ID            int64  `json:"id"`
	ChatRef       string `json:"chat_ref,omitempty"`
	MessageRef    string `json:"message_ref,omitempty"`
	ToolName      string `json:"tool_name"`
	ArgsJSON      string `json:"args_json"`
	OK            bool   `json:"ok"`
	DurationMS    int64  `json:"duration_ms"`
	OutputExcerpt string `json:"output_excerpt"`
	OutputSHA256  string `json:"output_sha256"`
	MetaJSON      string `json:"meta_json,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

// ToolStore is the append-only audit log for tool executions.
type ToolStore struct {
	db         *sql.DB
	excerptCap int
	log        *zap.Logger
}

// NewToolStore opens the audit database at path. excerptCap bounds the
// stored output excerpt in characters.
func NewToolStore(path string, excerptCap int, log *zap.Logger) (*ToolStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if excerptCap <= 0 {
		excerptCap = 12000
	}
	s := &ToolStore{db: db, excerptCap: excerptCap, log: log.Named("toolstore")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ToolStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tool_runs (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  chat_ref TEXT,
	  message_ref TEXT,
	  tool_name TEXT NOT NULL,
	  args_json TEXT NOT NULL,
	  ok INTEGER NOT NULL,
	  duration_ms INTEGER NOT NULL,
	  output_excerpt TEXT,
	  output_sha256 TEXT,
	  meta_json TEXT,
	  created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_runs_chat ON tool_runs(chat_ref, created_at);
	CREATE INDEX IF NOT EXISTS idx_tool_runs_name ON tool_runs(tool_name, created_at);
	`)
	if err != nil {
		return fmt.Errorf("init toolstore schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *ToolStore) Close() error {
	return s.db.Close()
}

// Record writes one audit row. output is the full tool output; the row
// stores only its capped excerpt and sha256 digest.
func (s *ToolStore) Record(ctx context.Context, run ToolRun, output string) (int64, error) {
	excerpt := output
	if len(excerpt) > s.excerptCap {
		excerpt = excerpt[:s.excerptCap]
	}
	meta := run.MetaJSON
	if meta == "" {
		meta = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
	  INSERT INTO tool_runs(chat_ref, message_ref, tool_name, args_json, ok, duration_ms,
	                        output_excerpt, output_sha256, meta_json, created_at)
	  VALUES(?,?,?,?,?,?,?,?,?,?)`,
		run.ChatRef, run.MessageRef, run.ToolName, run.ArgsJSON, run.OK, run.DurationMS,
		excerpt, hashText(output), meta, now())
	if err != nil {
		return 0, fmt.Errorf("record tool run: %w", err)
	}
	return res.LastInsertId()
}

// List returns recent audit rows, newest first, optionally filtered by
// tool name.
func (s *ToolStore) List(ctx context.Context, toolName string, limit int) ([]ToolRun, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	query := `
	  SELECT id, COALESCE(chat_ref,''), COALESCE(message_ref,''), tool_name, args_json,
	         ok, duration_ms, COALESCE(output_excerpt,''), COALESCE(output_sha256,''),
	         COALESCE(meta_json,'{}'), created_at
	    FROM tool_runs`
	args := []any{}
	if toolName != "" {
		query += " WHERE tool_name=?"
		args = append(args, toolName)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool runs: %w", err)
	}
	defer rows.Close()

	var out []ToolRun
	for rows.Next() {
		var r ToolRun
		if err := rows.Scan(&r.ID, &r.ChatRef, &r.MessageRef, &r.ToolName, &r.ArgsJSON,
			&r.OK, &r.DurationMS, &r.OutputExcerpt, &r.OutputSHA256, &r.MetaJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tool run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
