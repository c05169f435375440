package bench

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/expbench/expbench/pkg/types"
)

// RunRecord is one remembered benchmark run.
type RunRecord struct {
	RunID                string
	Engine               string
	StartedAt            time.Time
	SpeedupAnalysisOnly  float64
	ValidationFailures   int
	QueryCount           int
	PipelineTotalSeconds float64
}

// History is the run-history catalog: every completed run is recorded in
// a local SQLite database so speedups can be tracked across engine and
// corpus changes. Full reports are stored snappy-compressed.
type History struct {
	db *sql.DB

	insertStmt *sql.Stmt
}

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    engine TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    speedup_analysis_only REAL NOT NULL,
    validation_failures INTEGER NOT NULL,
    query_count INTEGER NOT NULL,
    pipeline_total_seconds REAL NOT NULL,
    report_snappy BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_engine_started ON runs(engine, started_at);
`

// OpenHistory opens or creates the run-history database.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to create schema: %w", err)
	}

	insertStmt, err := db.Prepare(`INSERT INTO runs
        (run_id, engine, started_at, speedup_analysis_only, validation_failures,
         query_count, pipeline_total_seconds, report_snappy)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to prepare insert: %w", err)
	}

	return &History{db: db, insertStmt: insertStmt}, nil
}

// Record stores one completed run with its full compressed report.
func (h *History) Record(ctx context.Context, report *types.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("history: failed to encode report: %w", err)
	}
	compressed := snappy.Encode(nil, payload)

	failures := 0
	if report.Validation != nil {
		failures = report.Validation.Failed
	}

	_, err = h.insertStmt.ExecContext(ctx,
		report.RunID,
		report.Engine,
		report.StartedAt.Unix(),
		report.Summary.SpeedupAnalysisOnly,
		failures,
		len(report.Queries),
		report.Summary.PipelineTotalSeconds,
		compressed,
	)
	if err != nil {
		return fmt.Errorf("history: failed to record run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs for an engine, newest first.
// An empty engine matches all engines.
func (h *History) Recent(ctx context.Context, engine string, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, engine, started_at, speedup_analysis_only,
        validation_failures, query_count, pipeline_total_seconds
        FROM runs`
	args := []interface{}{}
	if engine != "" {
		query += " WHERE engine = ?"
		args = append(args, engine)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started int64
		if err := rows.Scan(&r.RunID, &r.Engine, &started, &r.SpeedupAnalysisOnly,
			&r.ValidationFailures, &r.QueryCount, &r.PipelineTotalSeconds); err != nil {
			return nil, fmt.Errorf("history: failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Report decompresses and decodes the full report of a remembered run.
func (h *History) Report(ctx context.Context, runID string) (*types.Report, error) {
	var compressed []byte
	err := h.db.QueryRowContext(ctx,
		"SELECT report_snappy FROM runs WHERE run_id = ?", runID).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("history: run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("history: failed to load run: %w", err)
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("history: failed to decompress report: %w", err)
	}
	var report types.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("history: failed to decode report: %w", err)
	}
	return &report, nil
}

// Close releases the history database.
func (h *History) Close() error {
	if h.insertStmt != nil {
		h.insertStmt.Close()
	}
	return h.db.Close()
}
