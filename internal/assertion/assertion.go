// Package assertion provides the predicates a scenario step judges its
// observation with.
//
// Assertions are pure: Check reads the observation and never touches the
// session, so the executor can re-run them under a retry policy. A failing
// check returns a human-readable diff.
package assertion

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/jsonpath"
)

// Observation is what a step's action produced.
type Observation struct {
	Response *api.Response
	Page     *browser.Snapshot
	Value    any

	// Vars is a read-only view of the scenario context, used to resolve Ref
	// expectations.
	Vars map[string]any
}

// Outcome is the result of one check.
type Outcome struct {
	Pass bool
	Diff string
}

// Assertion is a pure predicate over an observation.
type Assertion interface {
	Describe() string
	Check(obs Observation) Outcome
}

// Reference is an expected value taken from the scenario context at check
// time.
type Reference struct {
	Key string
}

// Ref refers to the context value stored under key.
func Ref(key string) Reference {
	return Reference{Key: key}
}

func (r Reference) String() string {
	return "${" + r.Key + "}"
}

// MarshalText renders the reference in descriptions and diffs.
func (r Reference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Func adapts a function into an Assertion.
func Func(desc string, fn func(obs Observation) Outcome) Assertion {
	return check{desc: desc, fn: fn}
}

type check struct {
	desc string
	fn   func(Observation) Outcome
}

func (c check) Describe() string             { return c.desc }
func (c check) Check(obs Observation) Outcome { return c.fn(obs) }

// Pass is the passing outcome.
func Pass() Outcome {
	return Outcome{Pass: true}
}

// Failf builds a failing outcome.
func Failf(format string, args ...any) Outcome {
	return Outcome{Diff: fmt.Sprintf(format, args...)}
}

// StatusCodeEquals checks the HTTP status of the observed response.
func StatusCodeEquals(code int) Assertion {
	return Func(fmt.Sprintf("status == %d", code), func(obs Observation) Outcome {
		if obs.Response == nil {
			return Failf("no HTTP response observed")
		}
		if obs.Response.Status != code {
			return Failf("expected status %d, got %d (%s %s)", code, obs.Response.Status, obs.Response.Method, obs.Response.URL)
		}
		return Pass()
	})
}

// JSONFieldEquals checks the value at a JSON path of the response body.
// want may be a Reference.
func JSONFieldEquals(path string, want any) Assertion {
	return Func(fmt.Sprintf("%s == %s", displayPath(path), show(want)), func(obs Observation) Outcome {
		got, out, ok := field(obs, path)
		if !ok {
			return out
		}
		expected, err := resolve(want, obs)
		if err != nil {
			return Failf("%v", err)
		}
		if !Equal(expected, got) {
			return Failf("%s: %s", displayPath(path), Diff(expected, got))
		}
		return Pass()
	})
}

// JSONFieldNonEmpty checks that the value at path is present and not null,
// an empty string, an empty array or an empty object.
func JSONFieldNonEmpty(path string) Assertion {
	return Func(fmt.Sprintf("%s is non-empty", displayPath(path)), func(obs Observation) Outcome {
		got, out, ok := field(obs, path)
		if !ok {
			return out
		}
		if isEmpty(got) {
			return Failf("%s: expected non-empty value, got %s", displayPath(path), show(got))
		}
		return Pass()
	})
}

// JSONFieldAtLeast checks that the value at path is a number no smaller
// than min.
func JSONFieldAtLeast(path string, min float64) Assertion {
	return Func(fmt.Sprintf("%s >= %v", displayPath(path), min), func(obs Observation) Outcome {
		got, out, ok := field(obs, path)
		if !ok {
			return out
		}
		n, isNum := got.(float64)
		if !isNum {
			return Failf("%s: expected a number, got %s", displayPath(path), show(got))
		}
		if n < min {
			return Failf("%s: expected at least %v, got %v", displayPath(path), min, n)
		}
		return Pass()
	})
}

// JSONArrayMinLength checks that the array at path has at least n elements.
func JSONArrayMinLength(path string, n int) Assertion {
	return Func(fmt.Sprintf("len(%s) >= %d", displayPath(path), n), func(obs Observation) Outcome {
		got, out, ok := arrayLen(obs, path)
		if !ok {
			return out
		}
		if got < n {
			return Failf("len(%s): expected at least %d, got %d", displayPath(path), n, got)
		}
		return Pass()
	})
}

// JSONArrayLength checks that the array at path has exactly n elements.
func JSONArrayLength(path string, n int) Assertion {
	return Func(fmt.Sprintf("len(%s) == %d", displayPath(path), n), func(obs Observation) Outcome {
		got, out, ok := arrayLen(obs, path)
		if !ok {
			return out
		}
		if got != n {
			return Failf("len(%s): expected %d, got %d", displayPath(path), n, got)
		}
		return Pass()
	})
}

// JSONArrayContains checks that some element of the array at path matches
// every field in fields. Field keys are paths relative to the element;
// values may be References.
func JSONArrayContains(path string, fields map[string]any) Assertion {
	return Func(fmt.Sprintf("%s contains %s", displayPath(path), show(fields)), func(obs Observation) Outcome {
		matched, total, out, ok := countMatches(obs, path, fields)
		if !ok {
			return out
		}
		if matched == 0 {
			return Failf("%s: none of %d element(s) matched %s", displayPath(path), total, show(fields))
		}
		return Pass()
	})
}

// JSONArrayCount checks that exactly n elements of the array at path match
// every field in fields.
func JSONArrayCount(path string, fields map[string]any, n int) Assertion {
	return Func(fmt.Sprintf("count(%s where %s) == %d", displayPath(path), show(fields), n), func(obs Observation) Outcome {
		matched, total, out, ok := countMatches(obs, path, fields)
		if !ok {
			return out
		}
		if matched != n {
			return Failf("%s: expected %d element(s) matching %s, got %d of %d", displayPath(path), n, show(fields), matched, total)
		}
		return Pass()
	})
}

// ElementVisible checks that at least one element matching l is visible.
func ElementVisible(l browser.Locator) Assertion {
	return Func(fmt.Sprintf("visible(%s)", l), func(obs Observation) Outcome {
		if obs.Page == nil {
			return Failf("no page observed")
		}
		n, err := obs.Page.CountVisible(l)
		if err != nil {
			return Failf("%v", err)
		}
		if n == 0 {
			all, _ := obs.Page.Find(l)
			if len(all) > 0 {
				return Failf("%s: %d matching element(s), none visible", l, len(all))
			}
			return Failf("%s: no matching element on %s", l, obs.Page.URL)
		}
		return Pass()
	})
}

// ElementCount checks that exactly n visible elements match l.
func ElementCount(l browser.Locator, n int) Assertion {
	return Func(fmt.Sprintf("count(%s) == %d", l, n), func(obs Observation) Outcome {
		if obs.Page == nil {
			return Failf("no page observed")
		}
		got, err := obs.Page.CountVisible(l)
		if err != nil {
			return Failf("%v", err)
		}
		if got != n {
			return Failf("%s: expected %d visible element(s), got %d", l, n, got)
		}
		return Pass()
	})
}

// TextPresent checks that the page's visible text contains text. Both sides
// are NFC-normalized and whitespace-collapsed before comparison.
func TextPresent(text string) Assertion {
	want := normalizeText(text)
	return Func(fmt.Sprintf("text %q present", text), func(obs Observation) Outcome {
		if obs.Page == nil {
			return Failf("no page observed")
		}
		got := normalizeText(obs.Page.Text())
		if !strings.Contains(got, want) {
			return Failf("text %q not found on %s; visible text: %s", text, obs.Page.URL, truncate(got, 300))
		}
		return Pass()
	})
}

// ValueEquals checks the observation's Value. It pins deterministic oracles
// such as a fixed score for a fixed input.
func ValueEquals(want any) Assertion {
	return Func(fmt.Sprintf("value == %s", show(want)), func(obs Observation) Outcome {
		expected, err := resolve(want, obs)
		if err != nil {
			return Failf("%v", err)
		}
		if !Equal(expected, obs.Value) {
			return Failf("%s", Diff(expected, obs.Value))
		}
		return Pass()
	})
}

// All passes when every assertion passes and reports the first failure.
func All(as ...Assertion) Assertion {
	descs := make([]string, len(as))
	for i, a := range as {
		descs[i] = a.Describe()
	}
	return Func(strings.Join(descs, " && "), func(obs Observation) Outcome {
		for _, a := range as {
			if out := a.Check(obs); !out.Pass {
				return Failf("%s: %s", a.Describe(), out.Diff)
			}
		}
		return Pass()
	})
}

// Equal compares two values the way JSON sees them: 60, int64(60) and
// 60.0 are equal, as are structs and the maps they marshal to.
func Equal(want, got any) bool {
	w, err := jsonpath.Normalize(want)
	if err != nil {
		return reflect.DeepEqual(want, got)
	}
	g, err := jsonpath.Normalize(got)
	if err != nil {
		return reflect.DeepEqual(want, got)
	}
	return reflect.DeepEqual(w, g)
}

// Diff describes the difference between want and got. Scalars render as
// "expected X, got Y"; structured values as a unified diff.
func Diff(want, got any) string {
	if scalar(want) && scalar(got) {
		return fmt.Sprintf("expected %s, got %s", show(want), show(got))
	}
	a, _ := json.MarshalIndent(want, "", "  ")
	b, _ := json.MarshalIndent(got, "", "  ")
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil || text == "" {
		return fmt.Sprintf("expected %s, got %s", show(want), show(got))
	}
	return "\n" + text
}

func field(obs Observation, path string) (any, Outcome, bool) {
	if obs.Response == nil {
		return nil, Failf("no HTTP response observed"), false
	}
	got, err := jsonpath.Get(obs.Response.Body, path)
	if err != nil {
		return nil, Failf("%v (status %d, body %s)", err, obs.Response.Status, truncate(string(obs.Response.Body), 200)), false
	}
	return got, Outcome{}, true
}

func arrayLen(obs Observation, path string) (int, Outcome, bool) {
	if obs.Response == nil {
		return 0, Failf("no HTTP response observed"), false
	}
	n, err := jsonpath.Len(obs.Response.Body, path)
	if err != nil {
		return 0, Failf("%v (status %d)", err, obs.Response.Status), false
	}
	return n, Outcome{}, true
}

func countMatches(obs Observation, path string, fields map[string]any) (matched, total int, out Outcome, ok bool) {
	if obs.Response == nil {
		return 0, 0, Failf("no HTTP response observed"), false
	}
	els, err := jsonpath.Elements(obs.Response.Body, path)
	if err != nil {
		return 0, 0, Failf("%v (status %d)", err, obs.Response.Status), false
	}
	expected := make(map[string]any, len(fields))
	for k, v := range fields {
		r, err := resolve(v, obs)
		if err != nil {
			return 0, 0, Failf("%v", err), false
		}
		expected[k] = r
	}
	for _, el := range els {
		if elementMatches(el, expected) {
			matched++
		}
	}
	return matched, len(els), Outcome{}, true
}

func elementMatches(el []byte, fields map[string]any) bool {
	for p, want := range fields {
		got, err := jsonpath.Get(el, p)
		if err != nil || !Equal(want, got) {
			return false
		}
	}
	return true
}

func resolve(v any, obs Observation) (any, error) {
	ref, ok := v.(Reference)
	if !ok {
		return v, nil
	}
	val, ok := obs.Vars[ref.Key]
	if !ok {
		return nil, fmt.Errorf("context has no value for %q", ref.Key)
	}
	return val, nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func scalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	if v == nil {
		return true
	}
	k := reflect.TypeOf(v).Kind()
	return k != reflect.Map && k != reflect.Slice && k != reflect.Struct && k != reflect.Array
}

func show(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case Reference:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func displayPath(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
