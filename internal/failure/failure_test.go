package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type gateErr struct{}

func (gateErr) Error() string     { return "gate" }
func (gateErr) FailureKind() Kind { return AuthenticationFailure }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), ActionFailure},
		{"classified", New(AssertionFailure, "mismatch"), AssertionFailure},
		{"wrapped classified", fmt.Errorf("step 2: %w", New(InvalidTransition, "skip")), InvalidTransition},
		{"custom kinded", fmt.Errorf("auth: %w", gateErr{}), AuthenticationFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ReadinessTimeout, "target not ready", cause)

	assert.Equal(t, "READINESS_TIMEOUT: target not ready: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, ReadinessTimeout))
	assert.False(t, Is(err, ActionFailure))
	assert.Equal(t, "ASSERTION_FAILURE: x", New(AssertionFailure, "x").Error())
}
