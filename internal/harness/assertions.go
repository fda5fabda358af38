package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/petroverify/internal/failure"
)

// AssertionError is returned when a step's assertion never passed within its
// retry budget. It carries the last diff to help debug the failure.
type AssertionError struct {
	Step      int
	Assertion string // description of the assertion
	Diff      string // diff from the last evaluation
	Attempts  int
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s (after %d attempt(s))", e.Assertion, e.Attempts)
	if e.Diff != "" {
		for _, line := range strings.Split(strings.TrimRight(e.Diff, "\n"), "\n") {
			fmt.Fprintf(&buf, "\n  %s", line)
		}
	}
	return buf.String()
}

// FailureKind implements failure.Kinded.
func (e *AssertionError) FailureKind() failure.Kind {
	return failure.AssertionFailure
}

// ActionError is returned when a step's action could not be performed.
type ActionError struct {
	Step   int
	Action string
	Err    error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// FailureKind reports the kind of the underlying error when it has one
// (e.g. an invalid workflow transition), and ActionFailure otherwise.
func (e *ActionError) FailureKind() failure.Kind {
	if e.Err == nil {
		return failure.ActionFailure
	}
	return failure.KindOf(e.Err)
}

// ExtractError is returned when a value could not be extracted or stored.
type ExtractError struct {
	Step int
	Key  string
	Err  error
}

// Error implements the error interface.
func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %q failed: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractError) Unwrap() error {
	return e.Err
}

// FailureKind implements failure.Kinded.
func (e *ExtractError) FailureKind() failure.Kind {
	return failure.ActionFailure
}
