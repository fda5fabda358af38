package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/petroverify/internal/diagnostics"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/harness"
)

// RunSummary is one ledger row without its steps, trace or diagnostics.
type RunSummary struct {
	RunID           string       `json:"run_id"`
	BatchID         string       `json:"batch_id"`
	ScenarioID      string       `json:"scenario_id"`
	Passed          bool         `json:"passed"`
	FailedStepIndex *int         `json:"failed_step_index,omitempty"`
	Kind            failure.Kind `json:"kind,omitempty"`
	Message         string       `json:"message,omitempty"`
	Attempts        int          `json:"attempts"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r RunSummary) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows ListRuns. Zero fields match everything.
type Filter struct {
	BatchID    string
	ScenarioID string
	FailedOnly bool

	// Limit keeps the most recent runs. Zero means no limit.
	Limit int
}

// ListRuns returns the runs matching f, oldest first.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]RunSummary, error) {
	var where []string
	var args []any
	if f.BatchID != "" {
		where = append(where, "r.batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.ScenarioID != "" {
		where = append(where, "r.scenario_id = ?")
		args = append(args, f.ScenarioID)
	}
	if f.FailedOnly {
		where = append(where, "r.passed = 0")
	}

	q := `
		SELECT r.run_id, r.batch_id, r.scenario_id, r.passed, r.failed_step_index, r.kind, r.message,
		       r.started_at, r.finished_at,
		       COALESCE((SELECT SUM(attempts) FROM step_results sr WHERE sr.run_id = r.run_id), 0)
		FROM runs r`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		// newest N, re-sorted oldest first
		q = `SELECT * FROM (` + q + ` ORDER BY r.started_at DESC, r.run_id COLLATE BINARY DESC LIMIT ?)
		     ORDER BY started_at ASC, run_id COLLATE BINARY ASC`
		args = append(args, f.Limit)
	} else {
		q += " ORDER BY r.started_at ASC, r.run_id COLLATE BINARY ASC"
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			rs              RunSummary
			passed          int
			failed          sql.NullInt64
			kind            string
			started, finish string
		)
		if err := rows.Scan(&rs.RunID, &rs.BatchID, &rs.ScenarioID, &passed, &failed, &kind, &rs.Message,
			&started, &finish, &rs.Attempts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.Passed = passed == 1
		rs.Kind = failure.Kind(kind)
		if failed.Valid {
			i := int(failed.Int64)
			rs.FailedStepIndex = &i
		}
		if rs.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if rs.FinishedAt, err = parseTime(finish); err != nil {
			return nil, err
		}
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestBatch returns the batch id of the most recently started run.
func (s *Store) LatestBatch(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT batch_id FROM runs
		ORDER BY started_at DESC, run_id COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query latest batch: %w", err)
	}
	return id, nil
}

// ReadRun rebuilds the full result of a recorded run.
func (s *Store) ReadRun(ctx context.Context, runID string) (*harness.Result, error) {
	var (
		passed          int
		failed          sql.NullInt64
		kind            string
		started, finish string
		trace, vars     string
	)
	r := &harness.Result{RunID: runID}
	err := s.db.QueryRowContext(ctx, `
		SELECT scenario_id, passed, failed_step_index, kind, message, started_at, finished_at, trace, vars
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.ScenarioID, &passed, &failed, &kind, &r.Message, &started, &finish, &trace, &vars)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	r.Passed = passed == 1
	r.Kind = failure.Kind(kind)
	if failed.Valid {
		i := int(failed.Int64)
		r.FailedStepIndex = &i
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finish); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(trace, &r.Trace); err != nil {
		return nil, fmt.Errorf("run %s trace: %w", runID, err)
	}
	if vars != "{}" {
		if err := unmarshalJSON(vars, &r.Vars); err != nil {
			return nil, fmt.Errorf("run %s vars: %w", runID, err)
		}
	}

	if r.Steps, err = s.readSteps(ctx, runID); err != nil {
		return nil, err
	}

	var bundle string
	err = s.db.QueryRowContext(ctx, `SELECT bundle FROM diagnostics WHERE run_id = ?`, runID).Scan(&bundle)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("query diagnostics: %w", err)
	default:
		var b diagnostics.Bundle
		if err := unmarshalJSON(bundle, &b); err != nil {
			return nil, fmt.Errorf("run %s diagnostics: %w", runID, err)
		}
		r.Diagnostics = &b
	}

	return r, nil
}

func (s *Store) readSteps(ctx context.Context, runID string) ([]harness.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, name, passed, attempts, duration_ns, message
		FROM step_results
		WHERE run_id = ?
		ORDER BY step_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []harness.StepResult{}
	for rows.Next() {
		var (
			st     harness.StepResult
			passed int
			dur    int64
		)
		if err := rows.Scan(&st.Index, &st.Name, &passed, &st.Attempts, &dur, &st.Message); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Passed = passed == 1
		st.Duration = time.Duration(dur)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}
