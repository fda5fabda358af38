// Package failure defines the error kinds a scenario run can end with.
//
// Every fatal error that reaches the scenario executor is classified into one
// of these kinds so the caller (and the exit code) can tell a readiness
// timeout from a broken assertion without parsing messages.
package failure

import "errors"

// Kind categorizes a scenario failure.
type Kind string

const (
	// ReadinessTimeout means the target never became reachable within the
	// configured attempts. Recoverable by retrying the whole run later.
	ReadinessTimeout Kind = "READINESS_TIMEOUT"

	// AuthenticationFailure means the access gate was present but could not
	// be satisfied. Fatal to the run.
	AuthenticationFailure Kind = "AUTHENTICATION_FAILURE"

	// ActionFailure means the requested call or interaction could not be
	// performed. Fatal to the step.
	ActionFailure Kind = "ACTION_FAILURE"

	// AssertionFailure means the observed state never matched the expectation
	// within the retry budget. Fatal to the step.
	AssertionFailure Kind = "ASSERTION_FAILURE"

	// InvalidTransition means a workflow precondition was violated. The
	// workflow instance is left unchanged.
	InvalidTransition Kind = "INVALID_TRANSITION"
)

// Kinded is implemented by errors that know their own failure kind.
type Kinded interface {
	FailureKind() Kind
}

// KindOf returns the kind of the first error in err's chain that implements
// Kinded. Errors without a kind are action failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.FailureKind()
	}
	return ActionFailure
}

// Error is a generic classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// FailureKind implements Kinded.
func (e *Error) FailureKind() Kind {
	return e.Kind
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
