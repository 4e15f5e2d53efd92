// Package store persists completed run summaries to SQLite so operators can
// follow reconciliation quality over time. Read-only history; nothing here
// feeds back into the pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"divrecon/internal/logging"
	"divrecon/internal/types"
)

// RunRecord is one persisted run summary row.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	Fingerprint    string    `json:"fingerprint"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	TotalRows      int       `json:"total_rows"`
	AverageScore   float64   `json:"average_score"`
	Health         string    `json:"health"`
	DegradedBreaks int       `json:"degraded_breaks"`
	ExcludedRows   int       `json:"excluded_rows"`

	Summary types.PortfolioSummary `json:"summary"`
}

// Store wraps the run-history database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	fingerprint     TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT NOT NULL,
	total_rows      INTEGER NOT NULL,
	average_score   REAL NOT NULL,
	health          TEXT NOT NULL,
	degraded_breaks INTEGER NOT NULL,
	excluded_rows   INTEGER NOT NULL,
	summary_json    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying run store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun persists one completed run. Callers must not pass failed runs.
func (s *Store) SaveRun(ctx context.Context, result *types.AnalysisResult) error {
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(run_id, fingerprint, started_at, completed_at, total_rows,
		 average_score, health, degraded_breaks, excluded_rows, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Fingerprint,
		result.StartedAt.Format(time.RFC3339Nano),
		result.CompletedAt.Format(time.RFC3339Nano),
		result.Summary.TotalRows,
		result.Summary.AverageScore,
		result.Summary.Health,
		result.Summary.DegradedBreaks,
		result.Summary.ExcludedRows,
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", result.RunID, err)
	}
	logging.Get(logging.CategoryStore).Infow("run saved", "run_id", result.RunID)
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, fingerprint, started_at, completed_at, total_rows,
		       average_score, health, degraded_breaks, excluded_rows, summary_json
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, completed, summaryJSON string
		if err := rows.Scan(&rec.RunID, &rec.Fingerprint, &started, &completed,
			&rec.TotalRows, &rec.AverageScore, &rec.Health,
			&rec.DegradedBreaks, &rec.ExcludedRows, &summaryJSON); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		if err := json.Unmarshal([]byte(summaryJSON), &rec.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary for %s: %w", rec.RunID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
