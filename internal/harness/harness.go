package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/diagnostics"
	"github.com/roach88/petroverify/internal/failure"
	"github.com/roach88/petroverify/internal/poll"
	"github.com/roach88/petroverify/internal/session"
)

// DefaultStepTimeout bounds a step when neither the step nor the executor
// sets a timeout.
const DefaultStepTimeout = 30 * time.Second

// captureTimeout bounds diagnostics capture after a failure.
const captureTimeout = 10 * time.Second

// Options configures an Executor.
type Options struct {
	Logger *slog.Logger

	// IDs mints run IDs. Defaults to UUIDv7Generator.
	IDs IDGenerator

	// Now is the wall clock for StartedAt/FinishedAt. Defaults to time.Now.
	Now func() time.Time

	// DefaultTimeout applies to steps without their own timeout.
	DefaultTimeout time.Duration

	// DefaultRetry applies to steps without their own retry policy. Nil
	// evaluates such assertions once.
	DefaultRetry *poll.Policy
}

// Executor runs scenarios. It holds no per-run state and may run several
// scenarios concurrently, each against its own session.
type Executor struct {
	logger         *slog.Logger
	ids            IDGenerator
	now            func() time.Time
	defaultTimeout time.Duration
	defaultRetry   *poll.Policy
}

// NewExecutor creates an executor.
func NewExecutor(opts Options) *Executor {
	e := &Executor{
		logger:         opts.Logger,
		ids:            opts.IDs,
		now:            opts.Now,
		defaultTimeout: opts.DefaultTimeout,
		defaultRetry:   opts.DefaultRetry,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.ids == nil {
		e.ids = UUIDv7Generator{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = DefaultStepTimeout
	}
	return e
}

// Run executes sc's steps in order against sess and returns the result.
//
// Execution flow for each step:
//  1. Perform the action
//  2. Evaluate the assertion, re-observing under the step's retry policy
//  3. Store extracted values into the Context
//
// The first failing step halts the run: diagnostics for it are captured from
// coll (which may be nil) before Run returns, and later steps never execute.
//
// Cancelling ctx does not interrupt a running step; a step always runs to
// completion or to its own timeout, and ctx is checked before the next one.
func (e *Executor) Run(ctx context.Context, sc *Scenario, sess *session.Session, coll *diagnostics.Collector) *Result {
	result := NewResult(e.ids.Generate(), sc.ID)
	result.StartedAt = e.now()
	logger := e.logger.With("scenario", sc.ID, "run_id", result.RunID)

	defer func() {
		result.FinishedAt = e.now()
	}()

	if err := sc.Validate(); err != nil {
		result.Passed = false
		result.Kind = failure.ActionFailure
		result.Message = fmt.Sprintf("invalid scenario: %v", err)
		logger.Error("scenario rejected", "error", err)
		return result
	}

	vars := NewContext()
	env := &Env{Session: sess, Vars: vars, Logger: logger}
	tr := &tracer{result: result}

	for i, step := range sc.Steps {
		if cerr := ctx.Err(); cerr != nil {
			// no step failed, so no step index and nothing to capture
			err := failure.Wrap(failure.ActionFailure, fmt.Sprintf("run cancelled before step %d", i), cerr)
			result.Passed = false
			result.Kind = failure.KindOf(err)
			result.Message = err.Error()
			logger.Warn("run cancelled", "before_step", i)
			break
		}

		sr, err := e.runStep(ctx, i, step, env, tr)
		result.Steps = append(result.Steps, sr)
		if err != nil {
			result.Fail(i, failure.KindOf(err), err.Error())
			logger.Warn("step failed", "step", i, "name", step.Label(), "kind", result.Kind, "error", err)
			e.capture(ctx, coll, i, result, logger)
			break
		}
		logger.Info("step passed", "step", i, "name", step.Label())
	}

	result.Vars = vars.Snapshot()
	if result.Passed {
		logger.Info("scenario passed", "steps", len(sc.Steps))
	}
	return result
}

func (e *Executor) capture(ctx context.Context, coll *diagnostics.Collector, step int, result *Result, logger *slog.Logger) {
	if coll == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()
	b, err := coll.Capture(cctx, step)
	if err != nil {
		logger.Warn("diagnostics incomplete", "step", step, "error", err)
	}
	result.Diagnostics = b
}

func (e *Executor) runStep(ctx context.Context, i int, step Step, env *Env, tr *tracer) (StepResult, error) {
	sr := StepResult{Index: i, Name: step.Label()}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		sr.Duration = time.Since(start)
	}()

	// 1. Perform the action exactly once
	tr.add(TraceAction, i, 0, step.Action.Describe(), nil)
	obs, err := step.Action.Perform(stepCtx, env)
	if err != nil {
		sr.Message = err.Error()
		return sr, &ActionError{Step: i, Action: step.Action.Describe(), Err: err}
	}

	// 2. Judge the observation
	if step.Assertion != nil {
		observe := step.Observe
		if observe == nil {
			if o, ok := step.Action.(Observer); ok {
				observe = o.Observe
			}
		}
		policy := e.policyFor(step, timeout, observe != nil)

		var lastDiff string
		var observeErr error
		desc := step.Assertion.Describe()

		final, err := poll.Until(stepCtx, policy, func(pctx context.Context) (assertion.Observation, error) {
			sr.Attempts++
			if sr.Attempts > 1 {
				tr.add(TraceObserve, i, sr.Attempts, "", nil)
				o, err := observe(pctx, env)
				if err != nil {
					observeErr = err
					return assertion.Observation{}, err
				}
				obs = o
			}
			observeErr = nil

			obs.Vars = env.Vars.Snapshot()
			out := step.Assertion.Check(obs)
			tr.add(TraceAssert, i, sr.Attempts, desc, boolPtr(out.Pass))
			if !out.Pass {
				lastDiff = out.Diff
				return obs, errors.New(out.Diff)
			}
			return obs, nil
		})
		if err != nil {
			sr.Message = err.Error()
			if observeErr != nil {
				return sr, &ActionError{Step: i, Action: "observe after " + step.Action.Describe(), Err: observeErr}
			}
			if lastDiff == "" && !poll.IsTimeout(err) {
				return sr, &ActionError{Step: i, Action: step.Action.Describe(), Err: err}
			}
			return sr, &AssertionError{Step: i, Assertion: desc, Diff: lastDiff, Attempts: sr.Attempts}
		}
		obs = final
	}

	// 3. Propagate extracted values
	for _, ex := range step.Extract {
		v, err := ex.From(obs)
		if err == nil {
			err = env.Vars.Set(ex.Key, v)
		}
		if err != nil {
			sr.Message = err.Error()
			return sr, &ExtractError{Step: i, Key: ex.Key, Err: err}
		}
		tr.add(TraceExtract, i, 0, fmt.Sprintf("%s=%v", ex.Key, v), nil)
	}

	sr.Passed = true
	return sr, nil
}

// policyFor picks the retry policy for a step. Actions that cannot be
// re-observed are judged once.
func (e *Executor) policyFor(step Step, timeout time.Duration, canObserve bool) poll.Policy {
	p := step.Retry
	if p == nil {
		p = e.defaultRetry
	}
	if p == nil {
		return poll.Once()
	}
	if !canObserve {
		e.logger.Debug("assertion evaluated once, action cannot be re-observed", "action", step.Action.Describe())
		return poll.Once()
	}
	policy := *p
	if policy.Timeout == 0 || policy.Timeout > timeout {
		policy.Timeout = timeout
	}
	return policy
}
