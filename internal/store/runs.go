package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunOK     = "ok"
	RunFailed = "failed"
)

// Run is one row of the run ledger. Report holds the pipeline report as JSON.
type Run struct {
	ID              int64           `json:"id"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	Status          string          `json:"status"`
	Error           string          `json:"error,omitempty"`
	SnapshotVersion int             `json:"snapshotVersion"`
	Report          json.RawMessage `json:"report"`
}

func InsertRun(ctx context.Context, db *sql.DB, r Run) (int64, error) {
	report := string(r.Report)
	if report == "" {
		report = "{}"
	}
	res, err := db.ExecContext(ctx, `
INSERT INTO runs (started_at, finished_at, status, error, snapshot_version, report)
VALUES (?, ?, ?, ?, ?, ?);`,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Status, r.Error, r.SnapshotVersion, report,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, started_at, finished_at, status, error, snapshot_version, report
FROM runs
ORDER BY id DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished, report string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Error, &r.SnapshotVersion, &report); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		r.Report = json.RawMessage(report)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastRun returns the newest run; ok is false on an empty ledger.
func LastRun(ctx context.Context, db *sql.DB) (r Run, ok bool, err error) {
	runs, err := ListRuns(ctx, db, 1)
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[0], true, nil
}
