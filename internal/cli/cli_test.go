package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/sutfake"
)

// envMap returns a LookupEnv over vars only, keeping the process
// environment out of tests.
func envMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// fastReadiness keeps probes of unreachable targets short.
var fastReadiness = map[string]string{
	"PETROVERIFY_READINESS_INTERVAL": "10ms",
	"PETROVERIFY_READINESS_ATTEMPTS": "3",
	"PETROVERIFY_STEP_TIMEOUT":       "5s",
}

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, env map[string]string, args ...string) result {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{LookupEnv: envMap(env)})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

// envelope decodes the JSON response with data left raw.
func envelope(t *testing.T, out string) (string, json.RawMessage, *CLIError) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.Status, resp.Data, resp.Error
}

func startFakeServer(t *testing.T, opts sutfake.Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(sutfake.New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}
