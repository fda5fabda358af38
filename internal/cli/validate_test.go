package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	res := execute(t, nil, "validate", "../scenarios/testdata/extra")
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "✓ Config valid, 1 scenario file(s) valid")
}

func TestValidate_DefaultsToScenarioDir(t *testing.T) {
	env := map[string]string{"PETROVERIFY_SCENARIO_DIR": "../scenarios/testdata/extra"}

	res := execute(t, env, "validate", "--format", "json")
	require.NoError(t, res.err, res.stdout)

	_, data, _ := envelope(t, res.stdout)
	var vr ValidationResult
	require.NoError(t, json.Unmarshal(data, &vr))
	assert.True(t, vr.Valid)
	assert.Equal(t, []string{"gis-layers-listed"}, vr.Scenarios)
}

func TestValidate_ClashWithBuiltin(t *testing.T) {
	res := execute(t, nil, "validate", "../scenarios/testdata/clash")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "✗ Validation failed")
	assert.Contains(t, res.stdout, `scenario id "gis-basin-layer" declared by both <builtin>`)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-broken.yaml"), []byte("id: [unclosed\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-unknown.yaml"), []byte("id: x\nname: x\nbogus: 1\nsteps: []\n"), 0644))
	good, err := os.ReadFile("../scenarios/testdata/extra/gis-layers.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c-good.yaml"), good, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d-dup.yaml"), good, 0644))

	res := execute(t, nil, "validate", "--format", "json", dir)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	status, data, _ := envelope(t, res.stdout)
	assert.Equal(t, "failed", status)
	var vr ValidationResult
	require.NoError(t, json.Unmarshal(data, &vr))
	assert.False(t, vr.Valid)
	assert.Equal(t, 4, vr.Files)
	assert.Equal(t, []string{"gis-layers-listed"}, vr.Scenarios)
	require.Len(t, vr.Errors, 3)
	assert.Equal(t, ErrCodeScenarioLoad, vr.Errors[0].Code)
	assert.Equal(t, ErrCodeScenarioLoad, vr.Errors[1].Code)
	assert.Equal(t, ErrCodeSelection, vr.Errors[2].Code)
}

func TestValidate_MissingPath(t *testing.T) {
	res := execute(t, nil, "validate", "/nonexistent/scenarios")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error [E005]")
}
