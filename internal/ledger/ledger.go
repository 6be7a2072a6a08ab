package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// CursorKey stores the name of the last auditor processed by a run.
const CursorKey = "auditor_cursor"

// Store persists run history in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Run is one audit loop invocation.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string
	SummaryJSON string
}

// PlanOutcome records what a single auditor turn produced.
type PlanOutcome struct {
	RunID     string
	Auditor   string
	Status    string
	Reason    string
	Steps     int
	Commit    string
	CreatedAt time.Time
}

// CommittedPlan is a plan whose changes landed in a commit.
type CommittedPlan struct {
	RunID     string
	Auditor   string
	Name      string
	Commit    string
	Files     []string
	CreatedAt time.Time
}

// Open opens or creates the ledger database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{
		DBPath: absPath,
		db:     db,
	}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	summary_json TEXT
);

CREATE TABLE IF NOT EXISTS plan_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	auditor TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	steps INTEGER NOT NULL DEFAULT 0,
	commit_hash TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run ON plan_outcomes(run_id);

CREATE TABLE IF NOT EXISTS committed_plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	auditor TEXT NOT NULL,
	name TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	files_json TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// StartRun inserts a running run record.
func (s *Store) StartRun(id string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status)
		VALUES (?, ?, 'running')
	`, id, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with the given status and summary.
func (s *Store) FinishRun(id, status string, summary any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE runs
		SET status = ?,
		    finished_at = ?,
		    summary_json = ?
		WHERE id = ?
	`, status, formatTime(time.Now()), string(summaryJSON), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt, summary sql.NullString
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, status, summary_json
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &startedAt, &finishedAt, &run.Status, &summary)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	if summary.Valid {
		run.SummaryJSON = summary.String
	}
	return &run, nil
}

// RecordOutcome appends one auditor turn to the ledger.
func (s *Store) RecordOutcome(o PlanOutcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO plan_outcomes (run_id, auditor, status, reason, steps, commit_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.RunID, o.Auditor, o.Status, o.Reason, o.Steps, o.Commit, formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert plan outcome: %w", err)
	}
	return nil
}

// Outcomes lists the outcomes of a run in insertion order.
func (s *Store) Outcomes(runID string) ([]PlanOutcome, error) {
	rows, err := s.db.Query(`
		SELECT run_id, auditor, status, reason, steps, commit_hash, created_at
		FROM plan_outcomes
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query plan outcomes: %w", err)
	}
	defer rows.Close()

	var out []PlanOutcome
	for rows.Next() {
		var o PlanOutcome
		var reason, commit sql.NullString
		var createdAt string
		if err := rows.Scan(&o.RunID, &o.Auditor, &o.Status, &reason, &o.Steps, &commit, &createdAt); err != nil {
			return nil, fmt.Errorf("scan plan outcome: %w", err)
		}
		o.Reason = reason.String
		o.Commit = commit.String
		o.CreatedAt = parseTime(createdAt)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan outcomes: %w", err)
	}
	return out, nil
}

// RecordCommit stores a committed plan summary.
func (s *Store) RecordCommit(p CommittedPlan) error {
	if strings.TrimSpace(p.Commit) == "" {
		return fmt.Errorf("committed plan requires a commit hash")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	files, err := json.Marshal(p.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO committed_plans (run_id, auditor, name, commit_hash, files_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.RunID, p.Auditor, p.Name, p.Commit, string(files), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert committed plan: %w", err)
	}
	return nil
}

// CommittedPlans returns committed plans, newest first. An empty runID lists
// every run; limit <= 0 means no limit.
func (s *Store) CommittedPlans(runID string, limit int) ([]CommittedPlan, error) {
	query := `
		SELECT run_id, auditor, name, commit_hash, files_json, created_at
		FROM committed_plans`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query committed plans: %w", err)
	}
	defer rows.Close()

	var out []CommittedPlan
	for rows.Next() {
		var p CommittedPlan
		var files sql.NullString
		var createdAt string
		if err := rows.Scan(&p.RunID, &p.Auditor, &p.Name, &p.Commit, &files, &createdAt); err != nil {
			return nil, fmt.Errorf("scan committed plan: %w", err)
		}
		if files.Valid && files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &p.Files); err != nil {
				return nil, fmt.Errorf("decode files for %s: %w", p.Commit, err)
			}
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate committed plans: %w", err)
	}
	return out, nil
}

// GetKV retrieves a value from the key-value store.
func (s *Store) GetKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV sets a value in the key-value store.
func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO kv (key, value)
		VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}

// Cursor returns the last processed auditor, or "" when none was recorded.
func (s *Store) Cursor() (string, error) {
	return s.GetKV(CursorKey)
}

// SetCursor records the last processed auditor.
func (s *Store) SetCursor(auditor string) error {
	return s.SetKV(CursorKey, auditor)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
