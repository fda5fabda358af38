package assertion

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/browser"
)

func response(status int, body string) Observation {
	return Observation{Response: &api.Response{Method: "GET", URL: "http://sut/api", Status: status, Body: []byte(body)}}
}

func page(t *testing.T, doc string) Observation {
	t.Helper()
	s, err := browser.ParseSnapshot("http://sut/ui", strings.NewReader(doc))
	require.NoError(t, err)
	return Observation{Page: s}
}

const versions = `{"data":[
  {"version":1,"changes_summary":"Initial creation"},
  {"version":2,"changes_summary":"title updated; status updated"}
]}`

const feed = `{"data":[
  {"type":"NEW_REGULATION","regulation_id":"reg-1","summary":"New"},
  {"type":"REGULATION_UPDATE","regulation_id":"reg-1","summary":"Updated"},
  {"type":"REGULATION_UPDATE","regulation_id":"reg-9","summary":"Other"}
]}`

func TestStatusCodeEquals(t *testing.T) {
	a := StatusCodeEquals(201)
	assert.Equal(t, "status == 201", a.Describe())
	assert.True(t, a.Check(response(201, `{}`)).Pass)

	out := a.Check(response(400, `{}`))
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "expected status 201, got 400")

	out = a.Check(Observation{})
	assert.False(t, out.Pass)
	assert.Equal(t, "no HTTP response observed", out.Diff)
}

func TestJSONFieldEquals(t *testing.T) {
	obs := response(201, `{"data":{"id":"as-1","score":60,"status":"WARNING"}}`)

	assert.True(t, JSONFieldEquals("data.score", 60).Check(obs).Pass)
	assert.True(t, JSONFieldEquals("data.status", "WARNING").Check(obs).Pass)

	out := JSONFieldEquals("data.score", 100).Check(obs)
	assert.False(t, out.Pass)
	assert.Equal(t, "data.score: expected 100, got 60", out.Diff)

	out = JSONFieldEquals("data.missing", 1).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "path not found")
}

func TestJSONFieldEquals_Reference(t *testing.T) {
	obs := response(200, `{"data":{"regulation_id":"reg-42"}}`)
	obs.Vars = map[string]any{"regulation_id": "reg-42"}

	a := JSONFieldEquals("data.regulation_id", Ref("regulation_id"))
	assert.Equal(t, "data.regulation_id == ${regulation_id}", a.Describe())
	assert.True(t, a.Check(obs).Pass)

	obs.Vars = map[string]any{}
	out := a.Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, `context has no value for "regulation_id"`)
}

func TestJSONFieldEquals_StructuredDiff(t *testing.T) {
	obs := response(200, `{"data":{"filters":{"keywords":["test"],"jurisdiction_ids":["j-1"]}}}`)
	out := JSONFieldEquals("data.filters", map[string]any{"keywords": []string{"test"}, "jurisdiction_ids": []string{"j-2"}}).Check(obs)

	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "--- expected")
	assert.Contains(t, out.Diff, "+++ actual")
	assert.Contains(t, out.Diff, `-    "j-2"`)
	assert.Contains(t, out.Diff, `+    "j-1"`)
}

func TestJSONFieldNonEmpty(t *testing.T) {
	obs := response(200, versions)
	assert.True(t, JSONFieldNonEmpty("data[1].changes_summary").Check(obs).Pass)

	for _, body := range []string{`{"v":""}`, `{"v":null}`, `{"v":[]}`, `{"v":{}}`, `{"v":"  "}`} {
		assert.False(t, JSONFieldNonEmpty("v").Check(response(200, body)).Pass, body)
	}
}

func TestJSONFieldAtLeast(t *testing.T) {
	obs := response(200, `{"activeAlerts":2,"label":"two"}`)

	assert.True(t, JSONFieldAtLeast("activeAlerts", 1).Check(obs).Pass)
	assert.True(t, JSONFieldAtLeast("activeAlerts", 2).Check(obs).Pass)
	assert.Equal(t, "activeAlerts >= 1", JSONFieldAtLeast("activeAlerts", 1).Describe())

	out := JSONFieldAtLeast("activeAlerts", 3).Check(obs)
	assert.False(t, out.Pass)
	assert.Equal(t, "activeAlerts: expected at least 3, got 2", out.Diff)

	out = JSONFieldAtLeast("label", 1).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "expected a number")
}

func TestJSONArrayLengths(t *testing.T) {
	obs := response(200, versions)

	assert.True(t, JSONArrayLength("data", 2).Check(obs).Pass)
	assert.True(t, JSONArrayMinLength("data", 1).Check(obs).Pass)

	out := JSONArrayMinLength("data", 3).Check(obs)
	assert.False(t, out.Pass)
	assert.Equal(t, "len(data): expected at least 3, got 2", out.Diff)

	out = JSONArrayLength("data[0]", 1).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "expected array")
}

func TestJSONArrayContainsAndCount(t *testing.T) {
	obs := response(200, feed)
	obs.Vars = map[string]any{"regulation_id": "reg-1"}

	fields := map[string]any{"type": "REGULATION_UPDATE", "regulation_id": Ref("regulation_id")}
	assert.True(t, JSONArrayContains("data", fields).Check(obs).Pass)
	assert.True(t, JSONArrayCount("data", fields, 1).Check(obs).Pass)
	assert.True(t, JSONArrayCount("data", map[string]any{"type": "REGULATION_UPDATE"}, 2).Check(obs).Pass)

	out := JSONArrayContains("data", map[string]any{"regulation_id": "reg-404"}).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "none of 3 element(s) matched")

	out = JSONArrayCount("data", map[string]any{"regulation_id": "reg-1"}, 1).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "got 2 of 3")
}

const dashboard = `<html><body>
<h1>Control Center   Dashboard</h1>
<div class="card">Total Assets</div>
<div class="card" style="display:none">Hidden</div>
<canvas id="map"></canvas>
<p>Cafe&#769; Well</p>
</body></html>`

func TestElementAssertions(t *testing.T) {
	obs := page(t, dashboard)

	assert.True(t, ElementVisible(browser.CSS("canvas")).Check(obs).Pass)
	assert.True(t, ElementVisible(browser.Text("Total Assets")).Check(obs).Pass)
	assert.True(t, ElementCount(browser.CSS(".card"), 1).Check(obs).Pass)

	out := ElementVisible(browser.Text("Hidden")).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "none visible")

	out = ElementVisible(browser.CSS("#nope")).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "no matching element")

	out = ElementCount(browser.CSS(".card"), 2).Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, "expected 2 visible element(s), got 1")

	assert.False(t, ElementVisible(browser.CSS("canvas")).Check(Observation{}).Pass)
}

func TestTextPresent(t *testing.T) {
	obs := page(t, dashboard)

	assert.True(t, TextPresent("Control Center Dashboard").Check(obs).Pass)
	assert.True(t, TextPresent("Control  Center\nDashboard").Check(obs).Pass)
	// decomposed e + combining acute in the page equals precomposed in the expectation
	assert.True(t, TextPresent("Café Well").Check(obs).Pass)

	out := TextPresent("Hidden").Check(obs)
	assert.False(t, out.Pass)
	assert.Contains(t, out.Diff, `text "Hidden" not found`)
}

func TestValueEquals(t *testing.T) {
	assert.True(t, ValueEquals(60).Check(Observation{Value: float64(60)}).Pass)
	assert.True(t, ValueEquals("COMMITTED").Check(Observation{Value: "COMMITTED"}).Pass)

	out := ValueEquals(60).Check(Observation{Value: 100})
	assert.False(t, out.Pass)
	assert.Equal(t, "expected 60, got 100", out.Diff)

	obs := Observation{Value: "wf-1", Vars: map[string]any{"workflow_id": "wf-1"}}
	assert.True(t, ValueEquals(Ref("workflow_id")).Check(obs).Pass)
}

func TestAll(t *testing.T) {
	obs := response(201, `{"data":{"score":60}}`)
	a := All(StatusCodeEquals(201), JSONFieldEquals("data.score", 60))
	assert.Equal(t, "status == 201 && data.score == 60", a.Describe())
	assert.True(t, a.Check(obs).Pass)

	out := All(StatusCodeEquals(201), JSONFieldEquals("data.score", 70)).Check(obs)
	assert.False(t, out.Pass)
	assert.Equal(t, "data.score == 70: data.score: expected 70, got 60", out.Diff)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(2, float64(2)))
	assert.True(t, Equal(int64(2), 2))
	assert.True(t, Equal([]string{"a"}, []any{"a"}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal("2", 2))
	assert.False(t, Equal(map[string]any{"a": 1}, map[string]any{"a": 2}))
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))

	// "é" is two bytes; a cut at 3 would split the second one
	got := truncate("éééé", 3)
	assert.True(t, utf8.ValidString(got), got)
	assert.Equal(t, "é...", got)
}

func TestTextPresent_LongNonASCIIDiffIsValidUTF8(t *testing.T) {
	obs := page(t, "<html><body><p>"+strings.Repeat("Zuständigkeit ", 40)+"</p></body></html>")

	out := TextPresent("Überwachung").Check(obs)
	require.False(t, out.Pass)
	assert.True(t, utf8.ValidString(out.Diff))
}
