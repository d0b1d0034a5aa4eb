package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pvhistory/internal/history/application"
)

const defaultRunTable = "pv_history_runs"

// RunRepository keeps one row per backfill run.
type RunRepository struct {
	db    *sql.DB
	table string
}

// NewRunRepository constructs a run repository.
func NewRunRepository(db *sql.DB) *RunRepository {
	if db == nil {
		return nil
	}
	return &RunRepository{db: db, table: defaultRunTable}
}

// RunRow is a stored run.
type RunRow struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Records       int
	Incomplete    int
	Failed        bool
	Error         string
	Summary       json.RawMessage
	PayloadDigest string
}

type jobDocument struct {
	Name       string `json:"name"`
	Windows    int    `json:"windows"`
	Incomplete int    `json:"incomplete"`
	Issues     int    `json:"issues"`
	Records    int    `json:"records"`
	Error      string `json:"error,omitempty"`
}

// EnsureSchema creates the run table when missing.
func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("run repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	records INTEGER NOT NULL,
	incomplete_windows INTEGER NOT NULL,
	failed BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	summary JSONB NOT NULL,
	payload_digest TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, r.table))
	return err
}

// Save writes the run summary. Saving the same run twice overwrites it.
func (r *RunRepository) Save(ctx context.Context, summary application.RunSummary) error {
	if r == nil || r.db == nil {
		return errors.New("run repo: nil db")
	}
	if summary.RunID == "" {
		return errors.New("run repo: empty run id")
	}

	jobs := make([]jobDocument, 0, len(summary.Jobs))
	var firstErr string
	for _, job := range summary.Jobs {
		doc := jobDocument{
			Name:       job.Name,
			Windows:    len(job.Windows),
			Incomplete: len(job.Incomplete()),
			Issues:     job.IssueCount(),
			Records:    job.Records,
		}
		if job.Err != nil {
			doc.Error = job.Err.Error()
			if firstErr == "" {
				firstErr = job.Name + ": " + doc.Error
			}
		}
		jobs = append(jobs, doc)
	}
	payload, err := json.Marshal(jobs)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)

	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	run_id, started_at, finished_at, records, incomplete_windows, failed, error, summary, payload_digest
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	records = EXCLUDED.records,
	incomplete_windows = EXCLUDED.incomplete_windows,
	failed = EXCLUDED.failed,
	error = EXCLUDED.error,
	summary = EXCLUDED.summary,
	payload_digest = EXCLUDED.payload_digest`, r.table),
		summary.RunID, summary.Started.UTC(), summary.Finished.UTC(), summary.Records(), len(summary.Incomplete()),
		summary.Failed(), firstErr, string(payload), hex.EncodeToString(sum[:]))
	return err
}

// Get loads a stored run.
func (r *RunRepository) Get(ctx context.Context, runID string) (RunRow, error) {
	if r == nil || r.db == nil {
		return RunRow{}, errors.New("run repo: nil db")
	}
	var (
		row     RunRow
		summary []byte
	)
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT run_id, started_at, finished_at, records, incomplete_windows, failed, error, summary, payload_digest
FROM %s WHERE run_id = $1`, r.table), runID).Scan(
		&row.RunID, &row.StartedAt, &row.FinishedAt, &row.Records, &row.Incomplete,
		&row.Failed, &row.Error, &summary, &row.PayloadDigest)
	if err != nil {
		return RunRow{}, err
	}
	row.Summary = summary
	return row, nil
}
