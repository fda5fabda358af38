package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/assertion"
)

func TestLoadScenario_HTTP(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/feed.yaml")
	require.NoError(t, err)

	assert.Equal(t, "feed-after-update", sc.ID)
	assert.Equal(t, "Feed after update", sc.Name)
	assert.False(t, sc.UI)
	assert.True(t, sc.HasTag("risk"))
	require.Len(t, sc.Steps, 3)

	assert.Equal(t, "status == 201", sc.Steps[0].Assertion.Describe())
	require.Len(t, sc.Steps[0].Extract, 1)
	assert.Equal(t, "regulation_id", sc.Steps[0].Extract[0].Key)

	assert.Equal(t, "data.id == ${regulation_id}", sc.Steps[1].Assertion.Describe())

	require.NotNil(t, sc.Steps[2].Retry)
	assert.Equal(t, 5*time.Millisecond, sc.Steps[2].Retry.Interval)
	assert.Equal(t, 2*time.Second, sc.Steps[2].Retry.Timeout)
	assert.Equal(t, 5*time.Second, sc.Steps[2].Timeout)
}

func TestLoadScenario_RunsAgainstAPI(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/feed.yaml")
	require.NoError(t, err)

	r := &riskAPI{visibleAt: 2}
	sess := newAPISession(t, r.handler())

	res := newExecutor().Run(context.Background(), sc, sess, nil)
	require.True(t, res.Passed, res.Message)
	assert.Equal(t, "reg-1", res.Vars["regulation_id"])
	assert.Equal(t, int32(1), r.posts.Load())
	assert.Equal(t, 2, res.Steps[2].Attempts)
}

func TestLoadScenario_UI(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/ui.yaml")
	require.NoError(t, err)

	assert.True(t, sc.UI)
	assert.Equal(t, "control-center-ui", sc.Name, "name defaults to the id")
	require.Len(t, sc.Steps, 3)

	assert.Equal(t, "navigate /control-center", sc.Steps[0].Label())
	assert.Equal(t,
		`text "Control Center Dashboard" present && visible(text=Total Assets) && count(css=.card) == 1`,
		sc.Steps[0].Assertion.Describe())

	_, isDialog := sc.Steps[1].Action.(dialogAction)
	_, isObserved := sc.Steps[1].Action.(observedDialogAction)
	assert.True(t, isDialog || isObserved, "accept_dialogs wraps the click")
	assert.Nil(t, sc.Steps[1].Assertion)

	require.Len(t, sc.Steps[2].Extract, 1)
	assert.Equal(t, "heading", sc.Steps[2].Extract[0].Key)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	_, err := LoadScenario("testdata/invalid/typo.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "expcet")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing description",
			yaml: "id: a\nsteps:\n  - http: { path: /x }\n",
			want: "description is required",
		},
		{
			name: "missing id",
			yaml: "description: d\nsteps:\n  - http: { path: /x }\n",
			want: "id is required",
		},
		{
			name: "no steps",
			yaml: "id: a\ndescription: d\n",
			want: "steps list is required and must be non-empty",
		},
		{
			name: "http and ui",
			yaml: "id: a\ndescription: d\nsteps:\n  - http: { path: /x }\n    ui: { inspect: true }\n",
			want: "steps[0]: http and ui are mutually exclusive",
		},
		{
			name: "neither http nor ui",
			yaml: "id: a\ndescription: d\nsteps:\n  - expect: { status: 200 }\n",
			want: "steps[0]: http or ui is required",
		},
		{
			name: "http without path",
			yaml: "id: a\ndescription: d\nsteps:\n  - http: { method: GET }\n",
			want: "http.path is required",
		},
		{
			name: "two ui actions",
			yaml: "id: a\ndescription: d\nsteps:\n  - ui: { navigate: /, inspect: true }\n",
			want: "exactly one of navigate, fill, click, inspect is required",
		},
		{
			name: "empty expect",
			yaml: "id: a\ndescription: d\nsteps:\n  - http: { path: /x }\n    expect: {}\n",
			want: "at least one check is required",
		},
		{
			name: "contains without fields",
			yaml: "id: a\ndescription: d\nsteps:\n  - http: { path: /x }\n    expect:\n      json_contains: [{ path: data }]\n",
			want: "json_contains[0]: fields is required",
		},
		{
			name: "bad id",
			yaml: "id: Bad_ID\ndescription: d\nsteps:\n  - http: { path: /x }\n",
			want: "Bad_ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRefs(t *testing.T) {
	got := refs(map[string]any{
		"id":    "${workflow_id}",
		"label": "wf ${workflow_id}",
		"list":  []any{"${a}", 1},
	})
	assert.Equal(t, map[string]any{
		"id":    assertion.Ref("workflow_id"),
		"label": "wf ${workflow_id}",
		"list":  []any{assertion.Ref("a"), 1},
	}, got)
}

func TestLoadDir(t *testing.T) {
	scs, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scs, 2)
	assert.Equal(t, "feed-after-update", scs[0].ID)
	assert.Equal(t, "control-center-ui", scs[1].ID)
}

func TestLoadDir_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	doc := "id: dup\ndescription: d\nsteps:\n  - http: { path: /x }\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	_, err := LoadDir(dir)
	var dup *DuplicateScenarioError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "dup", dup.ID)
	assert.Equal(t, filepath.Join(dir, "a.yaml"), dup.First)
}

func TestDescribe(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/feed.yaml")
	require.NoError(t, err)
	out := Describe(sc)
	assert.Contains(t, out, " 0. create regulation => status == 201\n")
	assert.Contains(t, out, " 2. feed shows update => data contains ")
}
