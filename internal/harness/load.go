package harness

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/poll"
)

// File is the YAML form of a scenario.
type File struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Tags        []string   `yaml:"tags,omitempty"`
	Steps       []StepFile `yaml:"steps"`
}

// StepFile is the YAML form of a step. Exactly one of HTTP and UI is set.
type StepFile struct {
	Name    string            `yaml:"name,omitempty"`
	HTTP    *api.Call         `yaml:"http,omitempty"`
	UI      *UIFile           `yaml:"ui,omitempty"`
	Expect  *ExpectFile       `yaml:"expect,omitempty"`
	Extract map[string]string `yaml:"extract,omitempty"`
	Retry   *poll.Policy      `yaml:"retry,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// UIFile is one page interaction. Exactly one of Navigate, Fill, Click and
// Inspect is set.
type UIFile struct {
	Navigate      string    `yaml:"navigate,omitempty"`
	Fill          *FillFile `yaml:"fill,omitempty"`
	Click         string    `yaml:"click,omitempty"`
	Inspect       bool      `yaml:"inspect,omitempty"`
	AcceptDialogs *bool     `yaml:"accept_dialogs,omitempty"`
}

// FillFile types a value into a form control.
type FillFile struct {
	Locator string `yaml:"locator"`
	Value   string `yaml:"value"`
}

// ExpectFile lists the checks a step must pass. All listed checks must hold.
type ExpectFile struct {
	Status        int            `yaml:"status,omitempty"`
	JSON          map[string]any `yaml:"json,omitempty"`
	JSONNonEmpty  []string       `yaml:"json_non_empty,omitempty"`
	JSONMinLength map[string]int `yaml:"json_min_length,omitempty"`
	JSONLength    map[string]int `yaml:"json_length,omitempty"`
	JSONContains  []ContainsFile `yaml:"json_contains,omitempty"`
	Visible       []string       `yaml:"visible,omitempty"`
	Count         map[string]int `yaml:"count,omitempty"`
	Text          []string       `yaml:"text,omitempty"`
}

// ContainsFile expects an array element matching fields. With Count set,
// exactly that many elements must match.
type ContainsFile struct {
	Path   string         `yaml:"path"`
	Fields map[string]any `yaml:"fields"`
	Count  *int           `yaml:"count,omitempty"`
}

// LoadScenario reads and compiles a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(bytes.NewReader(data))
}

// ParseScenario decodes and compiles a scenario from r.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var f File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	sc, err := f.Compile()
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return sc, nil
}

// Compile turns the YAML form into an executable scenario.
func (f *File) Compile() (*Scenario, error) {
	if f.Description == "" {
		return nil, fmt.Errorf("description is required")
	}
	sc := &Scenario{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Tags:        f.Tags,
	}
	if sc.Name == "" {
		sc.Name = f.ID
	}

	for i, sf := range f.Steps {
		step, ui, err := sf.compile()
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		sc.UI = sc.UI || ui
		sc.Steps = append(sc.Steps, step)
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sf StepFile) compile() (Step, bool, error) {
	step := Step{Name: sf.Name, Retry: sf.Retry, Timeout: sf.Timeout}

	switch {
	case sf.HTTP != nil && sf.UI != nil:
		return step, false, fmt.Errorf("http and ui are mutually exclusive")
	case sf.HTTP != nil:
		if sf.HTTP.Path == "" {
			return step, false, fmt.Errorf("http.path is required")
		}
		step.Action = HTTP(*sf.HTTP)
	case sf.UI != nil:
		a, err := sf.UI.compile()
		if err != nil {
			return step, false, fmt.Errorf("ui: %w", err)
		}
		step.Action = a
	default:
		return step, false, fmt.Errorf("http or ui is required")
	}

	if sf.Expect != nil {
		a, err := sf.Expect.compile()
		if err != nil {
			return step, false, fmt.Errorf("expect: %w", err)
		}
		step.Assertion = a
	}

	for _, key := range sortedKeys(sf.Extract) {
		src := sf.Extract[key]
		if sf.UI != nil {
			l, err := browser.ParseLocator(src)
			if err != nil {
				return step, false, fmt.Errorf("extract %s: %w", key, err)
			}
			step.Extract = append(step.Extract, ExtractText(key, l))
			continue
		}
		step.Extract = append(step.Extract, ExtractJSON(key, src))
	}
	return step, sf.UI != nil, nil
}

func (u *UIFile) compile() (Action, error) {
	var actions []Action
	if u.Navigate != "" {
		actions = append(actions, Navigate(u.Navigate))
	}
	if u.Fill != nil {
		l, err := browser.ParseLocator(u.Fill.Locator)
		if err != nil {
			return nil, fmt.Errorf("fill: %w", err)
		}
		actions = append(actions, Fill(l, u.Fill.Value))
	}
	if u.Click != "" {
		l, err := browser.ParseLocator(u.Click)
		if err != nil {
			return nil, fmt.Errorf("click: %w", err)
		}
		actions = append(actions, Click(l))
	}
	if u.Inspect {
		actions = append(actions, Inspect())
	}
	if len(actions) != 1 {
		return nil, fmt.Errorf("exactly one of navigate, fill, click, inspect is required")
	}

	a := actions[0]
	if u.AcceptDialogs != nil {
		r := browser.DismissDialogs
		if *u.AcceptDialogs {
			r = browser.AcceptDialogs
		}
		a = WithDialogs(r, a)
	}
	return a, nil
}

func (e *ExpectFile) compile() (assertion.Assertion, error) {
	var as []assertion.Assertion

	if e.Status != 0 {
		as = append(as, assertion.StatusCodeEquals(e.Status))
	}
	for _, path := range sortedKeys(e.JSON) {
		as = append(as, assertion.JSONFieldEquals(path, refs(e.JSON[path])))
	}
	for _, path := range e.JSONNonEmpty {
		as = append(as, assertion.JSONFieldNonEmpty(path))
	}
	for _, path := range sortedKeys(e.JSONMinLength) {
		as = append(as, assertion.JSONArrayMinLength(path, e.JSONMinLength[path]))
	}
	for _, path := range sortedKeys(e.JSONLength) {
		as = append(as, assertion.JSONArrayLength(path, e.JSONLength[path]))
	}
	for i, c := range e.JSONContains {
		if c.Path == "" {
			return nil, fmt.Errorf("json_contains[%d]: path is required", i)
		}
		if len(c.Fields) == 0 {
			return nil, fmt.Errorf("json_contains[%d]: fields is required", i)
		}
		fields := refs(c.Fields).(map[string]any)
		if c.Count != nil {
			as = append(as, assertion.JSONArrayCount(c.Path, fields, *c.Count))
		} else {
			as = append(as, assertion.JSONArrayContains(c.Path, fields))
		}
	}
	// page checks: text, then visible, then count
	for _, text := range e.Text {
		as = append(as, assertion.TextPresent(text))
	}
	for _, s := range e.Visible {
		l, err := browser.ParseLocator(s)
		if err != nil {
			return nil, fmt.Errorf("visible: %w", err)
		}
		as = append(as, assertion.ElementVisible(l))
	}
	for _, s := range sortedKeys(e.Count) {
		l, err := browser.ParseLocator(s)
		if err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
		as = append(as, assertion.ElementCount(l, e.Count[s]))
	}

	switch len(as) {
	case 0:
		return nil, fmt.Errorf("at least one check is required")
	case 1:
		return as[0], nil
	}
	return assertion.All(as...), nil
}

// refs turns "${key}" strings into context references, recursively.
func refs(v any) any {
	switch t := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(t); m != nil && m[0] == t {
			return assertion.Ref(m[1])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = refs(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = refs(e)
		}
		return out
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Describe renders the steps of sc, one per line, for listings.
func Describe(sc *Scenario) string {
	var b strings.Builder
	for i, s := range sc.Steps {
		fmt.Fprintf(&b, "%2d. %s", i, s.Label())
		if s.Assertion != nil {
			fmt.Fprintf(&b, " => %s", s.Assertion.Describe())
		}
		b.WriteByte('\n')
	}
	return b.String()
}
