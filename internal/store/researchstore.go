package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Run statuses. A run's status is monotonic: running → done|error.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusError   = "error"
)

// Claim statuses.
const (
	ClaimSupported = "supported"
	ClaimUnclear   = "unclear"
	ClaimRefuted   = "refuted"
)

// RunSettings is the typed shape persisted into settings_json. Persisted
// metadata is never handled as an untyped blob outside this file.
type RunSettings struct {
	UseDocs         bool     `json:"use_docs"`
	UseWeb          bool     `json:"use_web"`
	UseKiwix        bool     `json:"use_kiwix"`
	Rounds          int      `json:"rounds"`
	PagesPerRound   int      `json:"pages_per_round"`
	DocTopK         int      `json:"doc_top_k"`
	WebTopK         int      `json:"web_top_k"`
	DomainWhitelist []string `json:"domain_whitelist,omitempty"`
	EmbedModel      string   `json:"embed_model,omitempty"`
	SupportedTarget int      `json:"supported_target,omitempty"`
}

// Run is one persisted research run.
type Run struct {
	ID          string      `db:"id" json:"id"`
	ChatRef     string      `db:"chat_ref" json:"chat_ref,omitempty"`
	Query       string      `db:"query" json:"query"`
	Mode        string      `db:"mode" json:"mode"`
	CreatedAt   int64       `db:"created_at" json:"created_at"`
	Status      string      `db:"status" json:"status"`
	SettingsRaw string      `db:"settings_json" json:"-"`
	FinalAnswer string      `db:"final_answer" json:"final_answer,omitempty"`
	Error       string      `db:"error" json:"error,omitempty"`
	Settings    RunSettings `db:"-" json:"settings"`
}

// TraceEntry is one append-only orchestrator transition record.
type TraceEntry struct {
	ID        int64  `db:"id" json:"id"`
	RunID     string `db:"run_id" json:"run_id"`
	Step      string `db:"step" json:"step"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	Payload   string `db:"payload_json" json:"payload,omitempty"`
}

// Source is one evidence source surfaced into a run's context.
type Source struct {
	ID         int64   `db:"id" json:"id"`
	RunID      string  `db:"run_id" json:"run_id"`
	SourceType string  `db:"source_type" json:"source_type"`
	RefID      string  `db:"ref_id" json:"ref_id"`
	Title      string  `db:"title" json:"title,omitempty"`
	URL        string  `db:"url" json:"url,omitempty"`
	Domain     string  `db:"domain" json:"domain,omitempty"`
	Score      float64 `db:"score" json:"score"`
	Snippet    string  `db:"snippet" json:"snippet,omitempty"`
	Pinned     bool    `db:"pinned" json:"pinned"`
	Excluded   bool    `db:"excluded" json:"excluded"`
	MetaRaw    string  `db:"meta_json" json:"-"`
	Citation   string  `db:"-" json:"citation,omitempty"`
}

// Claim is one verified factual assertion with its citations.
type Claim struct {
	ID           int64    `db:"id" json:"id"`
	RunID        string   `db:"run_id" json:"run_id"`
	Claim        string   `db:"claim" json:"claim"`
	Status       string   `db:"status" json:"status"`
	CitationsRaw string   `db:"citations_json" json:"-"`
	Notes        string   `db:"notes" json:"notes,omitempty"`
	Citations    []string `db:"-" json:"citations"`
}

// ResearchStore persists runs, traces, sources and claims. Sources and
// claims are replaced wholesale each round ("current belief"); the trace
// is append-only ("history").
type ResearchStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewResearchStore opens the research database at path.
func NewResearchStore(path string, log *zap.Logger) (*ResearchStore, error) {
	raw, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	s := &ResearchStore{db: sqlx.NewDb(raw, "sqlite3"), log: log.Named("researchstore")}
	if err := s.initSchema(); err != nil {
		raw.Close()
		return nil, err
	}
	return s, nil
}

func (s *ResearchStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS research_runs (
	  id TEXT PRIMARY KEY,
	  chat_ref TEXT,
	  query TEXT NOT NULL,
	  mode TEXT NOT NULL,
	  created_at INTEGER NOT NULL,
	  status TEXT NOT NULL,
	  settings_json TEXT,
	  final_answer TEXT,
	  error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_chat ON research_runs(chat_ref, created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON research_runs(status, created_at);

	CREATE TABLE IF NOT EXISTS research_trace (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  run_id TEXT NOT NULL,
	  step TEXT NOT NULL,
	  created_at INTEGER NOT NULL,
	  payload_json TEXT,
	  FOREIGN KEY(run_id) REFERENCES research_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_trace_run ON research_trace(run_id, id);

	CREATE TABLE IF NOT EXISTS research_sources (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  run_id TEXT NOT NULL,
	  source_type TEXT NOT NULL,
	  ref_id TEXT NOT NULL,
	  title TEXT,
	  url TEXT,
	  domain TEXT,
	  score REAL,
	  snippet TEXT,
	  pinned INTEGER NOT NULL DEFAULT 0,
	  excluded INTEGER NOT NULL DEFAULT 0,
	  meta_json TEXT,
	  FOREIGN KEY(run_id) REFERENCES research_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_run ON research_sources(run_id, id);
	CREATE INDEX IF NOT EXISTS idx_sources_pin ON research_sources(run_id, pinned, excluded);

	CREATE TABLE IF NOT EXISTS research_claims (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  run_id TEXT NOT NULL,
	  claim TEXT NOT NULL,
	  status TEXT NOT NULL,
	  citations_json TEXT,
	  notes TEXT,
	  FOREIGN KEY(run_id) REFERENCES research_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_claims_run ON research_claims(run_id, id);
	`)
	if err != nil {
		return fmt.Errorf("init researchstore schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *ResearchStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new running run and returns its id.
func (s *ResearchStore) CreateRun(ctx context.Context, chatRef, query, mode string, settings RunSettings) (string, error) {
	runID := uuid.NewString()
	raw, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal run settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	  INSERT INTO research_runs(id, chat_ref, query, mode, created_at, status, settings_json)
	  VALUES(?,?,?,?,?,?,?)`,
		runID, chatRef, query, mode, now(), RunStatusRunning, string(raw))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// SetRunDone marks a running run done with its final answer. Terminal
// runs are never rewritten.
func (s *ResearchStore) SetRunDone(ctx context.Context, runID, finalAnswer string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE research_runs SET status=?, final_answer=? WHERE id=? AND status=?`,
		RunStatusDone, finalAnswer, runID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("set run done: %w", err)
	}
	return nil
}

// SetRunError marks a running run failed with a diagnostic.
func (s *ResearchStore) SetRunError(ctx context.Context, runID, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE research_runs SET status=?, error=? WHERE id=? AND status=?`,
		RunStatusError, errText, runID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("set run error: %w", err)
	}
	return nil
}

// AddTrace appends one trace entry. payload may be any JSON-serializable
// value; nil stores a null payload.
func (s *ResearchStore) AddTrace(ctx context.Context, runID, step string, payload any) error {
	var raw any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal trace payload: %w", err)
		}
		raw = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_trace(run_id, step, created_at, payload_json) VALUES(?,?,?,?)`,
		runID, step, now(), raw)
	if err != nil {
		return fmt.Errorf("add trace: %w", err)
	}
	return nil
}

// ReplaceSources clears a run's sources and inserts the new set in one
// transaction. Snippets are capped at 600 characters.
func (s *ResearchStore) ReplaceSources(ctx context.Context, runID string, sources []Source) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace sources: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM research_sources WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("clear sources: %w", err)
	}
	for _, src := range sources {
		snippet := src.Snippet
		if len(snippet) > 600 {
			snippet = snippet[:600]
		}
		meta := src.MetaRaw
		if meta == "" {
			meta = "{}"
		}
		if _, err := tx.Exec(`
		  INSERT INTO research_sources(run_id,source_type,ref_id,title,url,domain,score,snippet,pinned,excluded,meta_json)
		  VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			runID, src.SourceType, src.RefID, src.Title, src.URL, src.Domain,
			src.Score, snippet, src.Pinned, src.Excluded, meta); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
	}
	return tx.Commit()
}

// SetSourceFlag toggles the pinned/excluded flags on one source.
func (s *ResearchStore) SetSourceFlag(ctx context.Context, runID string, sourceID int64, pinned, excluded *bool) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if pinned != nil {
		sets = append(sets, "pinned=?")
		args = append(args, *pinned)
	}
	if excluded != nil {
		sets = append(sets, "excluded=?")
		args = append(args, *excluded)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, runID, sourceID)
	_, err := s.db.ExecContext(ctx,
		"UPDATE research_sources SET "+joinSets(sets)+" WHERE run_id=? AND id=?", args...)
	if err != nil {
		return fmt.Errorf("set source flag: %w", err)
	}
	return nil
}

// ReplaceClaims clears a run's claims and inserts the new snapshot.
// Claims are capped (claim 1800, notes 2000) and default to unclear.
func (s *ResearchStore) ReplaceClaims(ctx context.Context, runID string, claims []Claim) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace claims: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM research_claims WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("clear claims: %w", err)
	}
	for _, c := range claims {
		claim := c.Claim
		if len(claim) > 1800 {
			claim = claim[:1800]
		}
		notes := c.Notes
		if len(notes) > 2000 {
			notes = notes[:2000]
		}
		status := c.Status
		switch status {
		case ClaimSupported, ClaimUnclear, ClaimRefuted:
		default:
			status = ClaimUnclear
		}
		citations, err := json.Marshal(c.Citations)
		if err != nil {
			return fmt.Errorf("marshal citations: %w", err)
		}
		if _, err := tx.Exec(`
		  INSERT INTO research_claims(run_id, claim, status, citations_json, notes)
		  VALUES(?,?,?,?,?)`,
			runID, claim, status, string(citations), notes); err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
	}
	return tx.Commit()
}

// GetRun returns one run with decoded settings.
func (s *ResearchStore) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `
	  SELECT id, COALESCE(chat_ref,'') AS chat_ref, query, mode, created_at, status,
	         COALESCE(settings_json,'{}') AS settings_json,
	         COALESCE(final_answer,'') AS final_answer,
	         COALESCE(error,'') AS error
	    FROM research_runs WHERE id=?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal([]byte(r.SettingsRaw), &r.Settings); err != nil {
		s.log.Warn("undecodable run settings", zap.String("run_id", runID), zap.Error(err))
	}
	return r, nil
}

// ListRuns returns run summaries, newest first, optionally scoped to a
// chat reference.
func (s *ResearchStore) ListRuns(ctx context.Context, chatRef string, limit, offset int) ([]Run, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	query := `
	  SELECT id, COALESCE(chat_ref,'') AS chat_ref, query, mode, created_at, status,
	         COALESCE(settings_json,'{}') AS settings_json,
	         COALESCE(final_answer,'') AS final_answer,
	         COALESCE(error,'') AS error
	    FROM research_runs`
	args := []any{}
	if chatRef != "" {
		query += " WHERE chat_ref=?"
		args = append(args, chatRef)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i := range runs {
		_ = json.Unmarshal([]byte(runs[i].SettingsRaw), &runs[i].Settings)
	}
	return runs, nil
}

// GetTrace returns a run's trace entries in insertion order.
func (s *ResearchStore) GetTrace(ctx context.Context, runID string, limit, offset int) ([]TraceEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	var out []TraceEntry
	err := s.db.SelectContext(ctx, &out, `
	  SELECT id, run_id, step, created_at, COALESCE(payload_json,'') AS payload_json
	    FROM research_trace
	   WHERE run_id=?
	   ORDER BY id ASC LIMIT ? OFFSET ?`, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	return out, nil
}

// GetSources returns a run's sources: pinned first, excluded last,
// then by descending score.
func (s *ResearchStore) GetSources(ctx context.Context, runID string) ([]Source, error) {
	var out []Source
	err := s.db.SelectContext(ctx, &out, `
	  SELECT id, run_id, source_type, ref_id,
	         COALESCE(title,'') AS title, COALESCE(url,'') AS url,
	         COALESCE(domain,'') AS domain, COALESCE(score,0) AS score,
	         COALESCE(snippet,'') AS snippet, pinned, excluded,
	         COALESCE(meta_json,'{}') AS meta_json
	    FROM research_sources
	   WHERE run_id=?
	   ORDER BY pinned DESC, excluded ASC, score DESC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("get sources: %w", err)
	}
	return out, nil
}

// GetClaims returns a run's current claim snapshot.
func (s *ResearchStore) GetClaims(ctx context.Context, runID string) ([]Claim, error) {
	var out []Claim
	err := s.db.SelectContext(ctx, &out, `
	  SELECT id, run_id, claim, status,
	         COALESCE(citations_json,'[]') AS citations_json,
	         COALESCE(notes,'') AS notes
	    FROM research_claims
	   WHERE run_id=?
	   ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("get claims: %w", err)
	}
	for i := range out {
		_ = json.Unmarshal([]byte(out[i].CitationsRaw), &out[i].Citations)
	}
	return out, nil
}
