// CLAUDE:SUMMARY Persistent run log: one row per analysis run plus its scoped failure records.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/denicheur/idgen"
)

// RunFailure is one counted failure inside a run: which scope broke
// (a listing id or a neighborhood), what went wrong, and when.
type RunFailure struct {
	Scope      string `json:"scope"`
	Error      string `json:"error"`
	OccurredAt int64  `json:"occurred_at"` // unix millis
}

// RunRecord is the persisted summary of one run. Nothing in a run fails
// silently: every skip, update, fetch and failure lands in a counter or
// a RunFailure row.
type RunRecord struct {
	RunID         string       `json:"run_id"`
	Mode          string       `json:"mode"`        // "run" or "purge"
	StartedAt     int64        `json:"started_at"`  // unix millis
	FinishedAt    int64        `json:"finished_at"` // unix millis
	Neighborhoods int          `json:"neighborhoods"`
	SkippedFresh  int          `json:"skipped_fresh"`
	PriceUpdated  int          `json:"price_updated"`
	DetailFetched int          `json:"detail_fetched"`
	Analyzed      int          `json:"analyzed"`
	Undervalued   int          `json:"undervalued"`
	FetchFailures int          `json:"fetch_failures"`
	SoldMarked    int          `json:"sold_marked"`
	Failures      []RunFailure `json:"failures,omitempty"`
}

// RunLog persists run summaries and their failure records.
type RunLog struct {
	db    *sql.DB
	newID idgen.Generator
}

// RunLogOption configures a RunLog.
type RunLogOption func(*RunLog)

// WithRunIDGenerator sets a custom ID generator for run IDs.
func WithRunIDGenerator(gen idgen.Generator) RunLogOption {
	return func(l *RunLog) { l.newID = gen }
}

// NewRunLog creates a run log backed by the given observability database.
func NewRunLog(db *sql.DB, opts ...RunLogOption) *RunLog {
	l := &RunLog{
		db:    db,
		newID: idgen.Prefixed("run_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewRunID mints an id for a run about to start.
func (l *RunLog) NewRunID() string {
	return l.newID()
}

// Record persists a completed run and its failures in one transaction.
// A record with an empty RunID gets one assigned.
func (l *RunLog) Record(ctx context.Context, rec *RunRecord) error {
	if rec.RunID == "" {
		rec.RunID = l.newID()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("run log: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, mode, started_at, finished_at,
			neighborhoods, skipped_fresh, price_updated, detail_fetched,
			analyzed, undervalued, fetch_failures, sold_marked, failure_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.Mode, rec.StartedAt, rec.FinishedAt,
		rec.Neighborhoods, rec.SkippedFresh, rec.PriceUpdated, rec.DetailFetched,
		rec.Analyzed, rec.Undervalued, rec.FetchFailures, rec.SoldMarked,
		len(rec.Failures)); err != nil {
		return fmt.Errorf("run log: insert run: %w", err)
	}

	for _, f := range rec.Failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, scope, error, occurred_at)
			VALUES (?,?,?,?)`,
			rec.RunID, f.Scope, f.Error, f.OccurredAt); err != nil {
			return fmt.Errorf("run log: insert failure: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("run log: commit: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without their
// failure details.
func (l *RunLog) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, mode, started_at, finished_at, neighborhoods,
			skipped_fresh, price_updated, detail_fetched, analyzed,
			undervalued, fetch_failures, sold_marked
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("run log: list: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &r.FinishedAt,
			&r.Neighborhoods, &r.SkippedFresh, &r.PriceUpdated, &r.DetailFetched,
			&r.Analyzed, &r.Undervalued, &r.FetchFailures, &r.SoldMarked); err != nil {
			return nil, fmt.Errorf("run log: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Failures returns the failure records for one run, oldest first.
func (l *RunLog) Failures(ctx context.Context, runID string) ([]RunFailure, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT scope, error, occurred_at FROM run_failures
		WHERE run_id = ? ORDER BY occurred_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("run log: failures: %w", err)
	}
	defer rows.Close()

	var out []RunFailure
	for rows.Next() {
		var f RunFailure
		if err := rows.Scan(&f.Scope, &f.Error, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("run log: scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CleanupRuns deletes runs older than retentionDays; failure rows cascade.
func CleanupRuns(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	result, err := db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup runs: %w", err)
	}
	return result.RowsAffected()
}
