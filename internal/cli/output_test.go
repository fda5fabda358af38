package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"batch_id": "b-1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONFailedKeepsData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Failed(map[string]int{"failed": 2}, ErrCodeScenarioFailed, "2 of 10 scenario(s) failed"))

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]int `json:"data"`
		Error  CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, 2, resp.Data["failed"])
	assert.Equal(t, ErrCodeScenarioFailed, resp.Error.Code)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeStore, "failed to open database", map[string]string{"path": "x.db"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeStore, resp.Error.Code)
	assert.Equal(t, "failed to open database", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("E202", "driver must be html or chrome", "driver: safari"))
			assert.Contains(t, buf.String(), "Error [E202]: driver must be html or chrome")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: driver: safari")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("Validating %s", "feed.yaml")

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Validating feed.yaml")

	formatter.Verbose = false
	errOut.Reset()
	formatter.VerboseLog("hidden")
	assert.Empty(t, errOut.String())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"failure", NewExitError(ExitFailure, "scenario failed"), ExitFailure},
		{"wrapped", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "bad config", errors.New("E202"))), ExitCommandError},
		{"plain", errors.New("unknown flag: --nope"), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad config", NewExitError(ExitCommandError, "bad config").Error())

	cause := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to load config", cause)
	assert.Equal(t, "failed to load config: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
}
