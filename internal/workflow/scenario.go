package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/poll"
)

// Module is the API module serving alerts, workflows and the audit trail.
const Module = "control-center"

// PagePrefix is the route prefix of the control-center pages.
const PagePrefix = "/modules/control-center"

// AuditWindow bounds how long a commit may take to show up in the audit
// trail.
const AuditWindow = 2 * time.Second

// Model mirrors, in process, the workflow a scenario drives through the
// control center. Each run opens a fresh Instance, so a scenario holding a
// Model must not run concurrently with itself.
type Model struct {
	Actor  string
	Now    func() time.Time
	Logger *slog.Logger

	mu   sync.Mutex
	inst *Instance
}

// NewModel creates a model recording transitions as actor.
func NewModel(actor string) *Model {
	return &Model{Actor: actor}
}

// Instance returns the workflow opened by the latest run, or nil.
func (m *Model) Instance() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inst
}

func (m *Model) open(a Alert) *Instance {
	var opts []Option
	if m.Now != nil {
		opts = append(opts, WithClock(m.Now))
	}
	if m.Logger != nil {
		opts = append(opts, WithLogger(m.Logger))
	}
	inst := New(a, opts...)
	m.mu.Lock()
	m.inst = inst
	m.mu.Unlock()
	return inst
}

func (m *Model) current() (*Instance, error) {
	if inst := m.Instance(); inst != nil {
		return inst, nil
	}
	return nil, errors.New("no workflow opened")
}

// RemediationScenario remediates an active alert through the control-center
// API. Every transition the control center reports is replayed on the Model,
// so an out-of-order response surfaces as INVALID_TRANSITION.
func RemediationScenario(m *Model) *harness.Scenario {
	steps := openAndDraft(m)
	steps = append(steps,
		harness.Step{
			Name: "simulate workflow",
			Action: harness.HTTP(api.Call{
				Module: Module,
				Method: "POST",
				Path:   "/workflows/${workflow_id}/simulate",
				Body:   map[string]any{"requested_by": m.Actor},
			}),
			Assertion: assertion.All(
				assertion.StatusCodeEquals(200),
				assertion.JSONFieldEquals("data.state", string(Simulated)),
				assertion.JSONFieldNonEmpty("data.impact.summary"),
			),
			Extract: []harness.Extractor{harness.ExtractJSON("impact", "data.impact")},
		},
		m.step("simulate", Simulated, func(ctx context.Context, env *harness.Env, inst *Instance) error {
			raw, _ := env.Vars.Get("impact")
			impact, err := decodeImpact(raw)
			if err != nil {
				return err
			}
			return inst.Simulate(ctx, impact, m.Actor)
		}),
		harness.Step{
			Name: "commit workflow",
			Action: harness.HTTP(api.Call{
				Module: Module,
				Method: "POST",
				Path:   "/workflows/${workflow_id}/commit",
				Body:   map[string]any{"committed_by": m.Actor},
			}),
			Assertion: assertion.All(
				assertion.StatusCodeEquals(200),
				assertion.JSONFieldEquals("data.state", string(Committed)),
			),
		},
		m.step("commit", Committed, func(ctx context.Context, _ *harness.Env, inst *Instance) error {
			return inst.Commit(ctx, m.Actor)
		}),
		harness.Step{
			Name: "audit trail shows commit",
			Action: harness.HTTP(api.Call{
				Module: Module,
				Path:   "/audit",
				Query:  url.Values{"workflow_id": {"${workflow_id}"}},
			}),
			Assertion: assertion.JSONArrayCount("data", map[string]any{
				"action":      ActionCommit,
				"workflow_id": assertion.Ref("workflow_id"),
			}, 1),
			Retry: retry(200*time.Millisecond, AuditWindow),
		},
		m.auditStep(),
	)

	return &harness.Scenario{
		ID:          "control-center-remediation",
		Name:        "Alert remediation workflow",
		Description: "An active alert is drafted, simulated and committed; the audit trail shows exactly one COMMIT_WORKFLOW",
		Tags:        []string{"api", "control-center", "workflow"},
		Steps:       steps,
	}
}

// CommitRequiresSimulationScenario commits a drafted workflow without
// simulating it. The control center must refuse and the Model must refuse
// the same transition, leaving both in DRAFT.
func CommitRequiresSimulationScenario(m *Model) *harness.Scenario {
	steps := openAndDraft(m)
	steps = append(steps,
		harness.Step{
			Name: "commit without simulation",
			Action: harness.HTTP(api.Call{
				Module: Module,
				Method: "POST",
				Path:   "/workflows/${workflow_id}/commit",
				Body:   map[string]any{"committed_by": m.Actor},
			}),
			Assertion: assertion.StatusCodeEquals(409),
		},
		harness.Step{
			Name: "model: commit refused",
			Action: harness.Func("model: commit refused", func(ctx context.Context, _ *harness.Env) (assertion.Observation, error) {
				inst, err := m.current()
				if err != nil {
					return assertion.Observation{}, err
				}
				err = inst.Commit(ctx, m.Actor)
				if err == nil {
					return assertion.Observation{}, fmt.Errorf("model accepted commit of workflow %s from %s", inst.ID(), Draft)
				}
				if !IsInvalidTransition(err) {
					return assertion.Observation{}, err
				}
				return assertion.Observation{Value: string(inst.State())}, nil
			}),
			Assertion: assertion.ValueEquals(string(Draft)),
		},
	)

	return &harness.Scenario{
		ID:          "control-center-commit-requires-simulation",
		Name:        "Commit requires simulation",
		Description: "Committing a DRAFT workflow is refused and the workflow stays in DRAFT",
		Tags:        []string{"api", "control-center", "workflow"},
		Steps:       steps,
	}
}

func openAndDraft(m *Model) []harness.Step {
	return []harness.Step{
		{
			Name: "list active alerts",
			Action: harness.HTTP(api.Call{
				Module: Module,
				Path:   "/alerts",
				Query:  url.Values{"status": {"ACTIVE"}},
			}),
			Assertion: assertion.All(
				assertion.StatusCodeEquals(200),
				assertion.JSONArrayMinLength("data", 1),
			),
			Extract: []harness.Extractor{
				harness.ExtractJSON("alert_id", "data[0].id"),
				harness.ExtractJSON("alert_status", "data[0].status"),
			},
		},
		m.openFromAPI(),
		{
			Name: "draft workflow",
			Action: harness.HTTP(api.Call{
				Module: Module,
				Method: "POST",
				Path:   "/workflows/drafts",
				Body: map[string]any{
					"alert_id":   "${alert_id}",
					"title":      "Fix: ${alert_id}",
					"created_by": m.Actor,
				},
			}),
			Assertion: assertion.All(
				assertion.StatusCodeEquals(200),
				assertion.JSONFieldEquals("data.state", string(Draft)),
				assertion.JSONFieldEquals("data.alert_id", assertion.Ref("alert_id")),
			),
			Extract: []harness.Extractor{harness.ExtractJSON("workflow_id", "data.id")},
		},
		m.step("draft", Draft, func(ctx context.Context, env *harness.Env, inst *Instance) error {
			id, err := varString(env, "workflow_id")
			if err != nil {
				return err
			}
			return inst.Draft(ctx, id, m.Actor)
		}),
	}
}

// RemediationUIScenario performs the remediation through the control-center
// pages: Create Workflow, Simulate Workflow, Commit Workflow, then the audit
// trail.
func RemediationUIScenario(m *Model) *harness.Scenario {
	wait := retry(200*time.Millisecond, 10*time.Second)
	steps := []harness.Step{
		{
			Action: harness.Navigate(PagePrefix + "/alerts"),
			Assertion: assertion.All(
				assertion.TextPresent("Alerts Center"),
				assertion.ElementVisible(browser.Text("Create Workflow")),
			),
			Retry:   wait,
			Extract: []harness.Extractor{harness.ExtractAttr("alert_id", browser.CSS("[data-alert-id]"), "data-alert-id")},
		},
		m.openFromPage(),
		{
			Action:    harness.Click(browser.Text("Create Workflow")),
			Assertion: assertion.TextPresent("New Workflow"),
			Retry:     wait,
			Extract:   []harness.Extractor{harness.ExtractAttr("workflow_id", browser.CSS("[data-workflow-id]"), "data-workflow-id")},
		},
		m.step("draft", Draft, func(ctx context.Context, env *harness.Env, inst *Instance) error {
			id, err := varString(env, "workflow_id")
			if err != nil {
				return err
			}
			return inst.Draft(ctx, id, m.Actor)
		}),
		{
			Action: harness.Fill(browser.CSS(`input[value*="Fix:"]`), "Fix: Automated Fix"),
		},
		{
			Action: harness.Click(browser.Text("Simulate Workflow")),
			Assertion: assertion.All(
				assertion.TextPresent("Review Workflow"),
				assertion.TextPresent("Impact Analysis"),
			),
			Retry:   retry(200*time.Millisecond, 5*time.Second),
			Extract: []harness.Extractor{harness.ExtractText("impact_summary", browser.CSS("[data-impact-summary]"))},
		},
		m.step("simulate", Simulated, func(ctx context.Context, env *harness.Env, inst *Instance) error {
			summary, err := varString(env, "impact_summary")
			if err != nil {
				return err
			}
			return inst.Simulate(ctx, Impact{Summary: summary}, m.Actor)
		}),
		{
			Action:    harness.WithDialogs(browser.AcceptDialogs, harness.Click(browser.Text("Commit Workflow"))),
			Assertion: assertion.TextPresent("Workflow Committed"),
			Retry:     retry(200*time.Millisecond, 5*time.Second),
		},
		m.step("commit", Committed, func(ctx context.Context, _ *harness.Env, inst *Instance) error {
			return inst.Commit(ctx, m.Actor)
		}),
		{
			Action: harness.Navigate(PagePrefix + "/audit"),
			Assertion: assertion.All(
				assertion.TextPresent("Audit Trail"),
				assertion.TextPresent(ActionCommit),
			),
			Retry: retry(200*time.Millisecond, AuditWindow),
		},
		m.auditStep(),
	}

	return &harness.Scenario{
		ID:          "control-center-remediation-ui",
		Name:        "Alert remediation workflow (UI)",
		Description: "The remediation workflow driven through the control-center pages ends in the audit trail",
		Tags:        []string{"ui", "control-center", "workflow"},
		UI:          true,
		Steps:       steps,
	}
}

// step replays one transition on the Model and expects it to land in want.
func (m *Model) step(name string, want State, fn func(context.Context, *harness.Env, *Instance) error) harness.Step {
	label := "model: " + name
	return harness.Step{
		Name: label,
		Action: harness.Func(label, func(ctx context.Context, env *harness.Env) (assertion.Observation, error) {
			inst, err := m.current()
			if err != nil {
				return assertion.Observation{}, err
			}
			if err := fn(ctx, env, inst); err != nil {
				return assertion.Observation{}, err
			}
			return assertion.Observation{Value: string(inst.State())}, nil
		}),
		Assertion: assertion.ValueEquals(string(want)),
	}
}

func (m *Model) openFromAPI() harness.Step {
	return harness.Step{
		Name: "model: open",
		Action: harness.Func("model: open", func(_ context.Context, env *harness.Env) (assertion.Observation, error) {
			id, err := varString(env, "alert_id")
			if err != nil {
				return assertion.Observation{}, err
			}
			status, err := varString(env, "alert_status")
			if err != nil {
				return assertion.Observation{}, err
			}
			inst := m.open(Alert{ID: id, Status: status})
			return assertion.Observation{Value: string(inst.State())}, nil
		}),
		Assertion: assertion.ValueEquals(string(Open)),
	}
}

// openFromPage opens the model for the first alert offering Create Workflow; the
// page only offers it for active alerts.
func (m *Model) openFromPage() harness.Step {
	return harness.Step{
		Name: "model: open",
		Action: harness.Func("model: open", func(_ context.Context, env *harness.Env) (assertion.Observation, error) {
			id, err := varString(env, "alert_id")
			if err != nil {
				return assertion.Observation{}, err
			}
			inst := m.open(Alert{ID: id, Status: "ACTIVE"})
			return assertion.Observation{Value: string(inst.State())}, nil
		}),
		Assertion: assertion.ValueEquals(string(Open)),
	}
}

// auditStep checks the Model's own audit trail after the commit.
func (m *Model) auditStep() harness.Step {
	return harness.Step{
		Name: "model: audit trail",
		Action: harness.Func("model: audit trail", func(context.Context, *harness.Env) (assertion.Observation, error) {
			inst, err := m.current()
			if err != nil {
				return assertion.Observation{}, err
			}
			entries := inst.Audit()
			return assertion.Observation{Value: map[string]any{
				"commits": Count(entries, inst.ID(), ActionCommit),
				"entries": len(entries),
				"ordered": Ordered(entries),
			}}, nil
		}),
		Assertion: assertion.ValueEquals(map[string]any{"commits": 1, "entries": 3, "ordered": true}),
	}
}

func varString(env *harness.Env, key string) (string, error) {
	v, ok := env.Vars.Get(key)
	if !ok {
		return "", fmt.Errorf("unbound context key %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("context key %q is %v, want a non-empty string", key, v)
	}
	return s, nil
}

func decodeImpact(v any) (Impact, error) {
	var impact Impact
	data, err := json.Marshal(v)
	if err != nil {
		return impact, fmt.Errorf("impact: %w", err)
	}
	if err := json.Unmarshal(data, &impact); err != nil {
		return impact, fmt.Errorf("impact: %w", err)
	}
	return impact, nil
}

func retry(interval, timeout time.Duration) *poll.Policy {
	p := poll.Fixed(interval, timeout)
	return &p
}
