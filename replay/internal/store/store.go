// Package store persists replay runs and per-selection resolution
// outcomes in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xASHx26/testflow-sub001/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    page_url   TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS resolutions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    event_id   TEXT NOT NULL,
    matched    INTEGER NOT NULL,
    strategy   TEXT NOT NULL DEFAULT '',
    fallback   INTEGER NOT NULL DEFAULT 0,
    similarity REAL NOT NULL DEFAULT 0,
    failures   TEXT NOT NULL DEFAULT '[]',
    at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_run ON resolutions(run_id);
`

// Resolution is one persisted replay outcome.
type Resolution struct {
	EventID    string
	Matched    bool
	Strategy   string
	Fallback   bool
	Similarity float64
	Failures   []string
	At         int64
}

// Summary aggregates a run.
type Summary struct {
	Total         int     `json:"total"`
	Matched       int     `json:"matched"`
	Fallbacks     int     `json:"fallbacks"`
	AvgSimilarity float64 `json:"avg_similarity"`
}

// Store wraps the replay log database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the replay log at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open database, applying the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginRun records the start of a replay run.
func (s *Store) BeginRun(ctx context.Context, id, pageURL, source string, startedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, page_url, source) VALUES (?, ?, ?, ?)`,
		id, startedAt, pageURL, source)
	if err != nil {
		return fmt.Errorf("store: begin run: %w", err)
	}
	return nil
}

// LogResolution appends one resolution outcome to a run.
func (s *Store) LogResolution(ctx context.Context, runID string, r Resolution) error {
	if r.Failures == nil {
		r.Failures = []string{}
	}
	failures, err := json.Marshal(r.Failures)
	if err != nil {
		return fmt.Errorf("store: encode failures: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolutions (run_id, event_id, matched, strategy, fallback, similarity, failures, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.EventID, boolInt(r.Matched), r.Strategy, boolInt(r.Fallback), r.Similarity, string(failures), r.At)
	if err != nil {
		return fmt.Errorf("store: log resolution: %w", err)
	}
	return nil
}

// RunSummary aggregates the outcomes of one run.
func (s *Store) RunSummary(ctx context.Context, runID string) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(matched), 0),
		        COALESCE(SUM(fallback), 0),
		        COALESCE(AVG(CASE WHEN matched = 1 THEN similarity END), 0)
		   FROM resolutions WHERE run_id = ?`, runID)

	var sum Summary
	if err := row.Scan(&sum.Total, &sum.Matched, &sum.Fallbacks, &sum.AvgSimilarity); err != nil {
		return Summary{}, fmt.Errorf("store: run summary: %w", err)
	}
	return sum, nil
}

// Resolutions returns a run's outcomes in insertion order.
func (s *Store) Resolutions(ctx context.Context, runID string) ([]Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, matched, strategy, fallback, similarity, failures, at
		   FROM resolutions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: resolutions: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		var r Resolution
		var matched, fallback int
		var failures string
		if err := rows.Scan(&r.EventID, &matched, &r.Strategy, &fallback, &r.Similarity, &failures, &r.At); err != nil {
			return nil, fmt.Errorf("store: scan resolution: %w", err)
		}
		r.Matched = matched != 0
		r.Fallback = fallback != 0
		if err := json.Unmarshal([]byte(failures), &r.Failures); err != nil {
			return nil, fmt.Errorf("store: decode failures: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
