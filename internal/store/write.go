package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/petroverify/internal/harness"
)

// WriteResult records a finished run under batchID, the id shared by every
// run of one invocation of the tool. The run, its steps and its
// diagnostics are written in one transaction. A run id already in the
// ledger is left untouched.
func (s *Store) WriteResult(ctx context.Context, batchID string, r *harness.Result) (err error) {
	trace, err := marshalJSON(r.Trace)
	if err != nil {
		return fmt.Errorf("write result: marshal trace: %w", err)
	}
	vars := "{}"
	if len(r.Vars) > 0 {
		if vars, err = marshalJSON(r.Vars); err != nil {
			return fmt.Errorf("write result: marshal vars: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write result: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var failed sql.NullInt64
	if r.FailedStepIndex != nil {
		failed = sql.NullInt64{Int64: int64(*r.FailedStepIndex), Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, batch_id, scenario_id, passed, failed_step_index, kind, message, started_at, finished_at, trace, vars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		r.RunID,
		batchID,
		r.ScenarioID,
		boolInt(r.Passed),
		failed,
		string(r.Kind),
		r.Message,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		trace,
		vars,
	)
	if err != nil {
		return fmt.Errorf("write result: insert run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if n == 0 {
		return tx.Commit()
	}

	for _, st := range r.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_results (run_id, step_index, name, passed, attempts, duration_ns, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, st.Index, st.Name, boolInt(st.Passed), st.Attempts, int64(st.Duration), st.Message)
		if err != nil {
			return fmt.Errorf("write result: insert step %d: %w", st.Index, err)
		}
	}

	if r.Diagnostics != nil {
		bundle, err := marshalJSON(r.Diagnostics)
		if err != nil {
			return fmt.Errorf("write result: marshal diagnostics: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO diagnostics (run_id, step_index, bundle) VALUES (?, ?, ?)
		`, r.RunID, r.Diagnostics.StepIndex, bundle)
		if err != nil {
			return fmt.Errorf("write result: insert diagnostics: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("write result: commit: %w", err)
	}
	return nil
}
