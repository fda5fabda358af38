package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/petroverify/internal/api"
	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/session"
)

// Env is what an action runs against: the scenario's session and context.
type Env struct {
	Session *session.Session
	Vars    *Context
	Logger  *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// Action is the side-effecting half of a step.
type Action interface {
	Describe() string
	Perform(ctx context.Context, env *Env) (assertion.Observation, error)
}

// Observer is implemented by actions whose result can be observed again
// without repeating their side effects. The executor re-observes, never
// re-performs, while an assertion is retried.
type Observer interface {
	Observe(ctx context.Context, env *Env) (assertion.Observation, error)
}

// ObserveFunc observes the session without side effects.
type ObserveFunc func(ctx context.Context, env *Env) (assertion.Observation, error)

// HTTP performs an API call. Path, query values and body may contain
// ${key} placeholders. GET and HEAD calls are re-issued while an assertion
// is retried; other methods are performed exactly once.
func HTTP(call api.Call) Action {
	a := httpAction{call: call}
	switch strings.ToUpper(call.Method) {
	case "", http.MethodGet, http.MethodHead:
		return readAction{a}
	}
	return a
}

type httpAction struct {
	call api.Call
}

func (a httpAction) Describe() string {
	return a.call.String()
}

func (a httpAction) Perform(ctx context.Context, env *Env) (assertion.Observation, error) {
	call, err := a.expand(env.Vars)
	if err != nil {
		return assertion.Observation{}, err
	}
	resp, err := env.Session.Do(ctx, call)
	if err != nil {
		return assertion.Observation{}, err
	}
	env.logger().Debug("api call", "call", call.String(), "status", resp.Status, "duration", resp.Duration)
	return assertion.Observation{Response: resp}, nil
}

func (a httpAction) expand(vars *Context) (api.Call, error) {
	call := a.call
	if vars == nil {
		return call, nil
	}
	path, err := vars.Expand(call.Path)
	if err != nil {
		return call, fmt.Errorf("path: %w", err)
	}
	call.Path = path

	if call.Query != nil {
		q := make(url.Values, len(call.Query))
		for k, vs := range call.Query {
			for _, v := range vs {
				x, err := vars.Expand(v)
				if err != nil {
					return call, fmt.Errorf("query %s: %w", k, err)
				}
				q.Add(k, x)
			}
		}
		call.Query = q
	}

	if call.Body != nil {
		body, err := vars.ExpandValue(call.Body)
		if err != nil {
			return call, fmt.Errorf("body: %w", err)
		}
		call.Body = body
	}
	return call, nil
}

type readAction struct {
	httpAction
}

func (a readAction) Observe(ctx context.Context, env *Env) (assertion.Observation, error) {
	return a.Perform(ctx, env)
}

// Navigate loads target (placeholders expanded) in the session's page.
// Loading a page is a GET, so while an assertion is retried the page is
// loaded again rather than only snapshotted.
func Navigate(target string) Action {
	return reloadAction{pageAction{
		desc: "navigate " + target,
		do: func(ctx context.Context, env *Env, page browser.Page) error {
			t, err := expand(env, target)
			if err != nil {
				return err
			}
			return page.Navigate(ctx, t)
		},
	}}
}

type reloadAction struct {
	pageAction
}

func (a reloadAction) Observe(ctx context.Context, env *Env) (assertion.Observation, error) {
	return a.Perform(ctx, env)
}

// Fill types value (placeholders expanded) into the element at l.
func Fill(l browser.Locator, value string) Action {
	return pageAction{
		desc: fmt.Sprintf("fill %s", l),
		do: func(ctx context.Context, env *Env, page browser.Page) error {
			v, err := expand(env, value)
			if err != nil {
				return err
			}
			return page.Fill(ctx, l, v)
		},
	}
}

// Click activates the element at l.
func Click(l browser.Locator) Action {
	return pageAction{
		desc: fmt.Sprintf("click %s", l),
		do: func(ctx context.Context, env *Env, page browser.Page) error {
			return page.Click(ctx, l)
		},
	}
}

// Inspect only snapshots the page.
func Inspect() Action {
	return pageAction{desc: "inspect"}
}

// WithDialogs registers r on the page for the duration of the wrapped
// action, then restores the default responder.
func WithDialogs(r browser.DialogResponder, a Action) Action {
	d := dialogAction{Action: a, responder: r}
	if o, ok := a.(Observer); ok {
		return observedDialogAction{dialogAction: d, observer: o}
	}
	return d
}

type dialogAction struct {
	Action
	responder browser.DialogResponder
}

func (a dialogAction) Perform(ctx context.Context, env *Env) (assertion.Observation, error) {
	page, err := env.Session.RequirePage()
	if err != nil {
		return assertion.Observation{}, err
	}
	page.SetDialogResponder(a.responder)
	defer page.SetDialogResponder(nil)
	return a.Action.Perform(ctx, env)
}

type observedDialogAction struct {
	dialogAction
	observer Observer
}

func (a observedDialogAction) Observe(ctx context.Context, env *Env) (assertion.Observation, error) {
	return a.observer.Observe(ctx, env)
}

type pageAction struct {
	desc string
	do   func(ctx context.Context, env *Env, page browser.Page) error
}

func (a pageAction) Describe() string {
	return a.desc
}

func (a pageAction) Perform(ctx context.Context, env *Env) (assertion.Observation, error) {
	page, err := env.Session.RequirePage()
	if err != nil {
		return assertion.Observation{}, err
	}
	if a.do != nil {
		if err := a.do(ctx, env, page); err != nil {
			return assertion.Observation{}, err
		}
	}
	return snapshot(ctx, page)
}

func (a pageAction) Observe(ctx context.Context, env *Env) (assertion.Observation, error) {
	page, err := env.Session.RequirePage()
	if err != nil {
		return assertion.Observation{}, err
	}
	return snapshot(ctx, page)
}

func snapshot(ctx context.Context, page browser.Page) (assertion.Observation, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return assertion.Observation{}, fmt.Errorf("snapshot: %w", err)
	}
	return assertion.Observation{Page: snap}, nil
}

// Func wraps arbitrary code as an action. It is never re-performed.
func Func(name string, fn func(ctx context.Context, env *Env) (assertion.Observation, error)) Action {
	return funcAction{name: name, fn: fn}
}

type funcAction struct {
	name string
	fn   func(ctx context.Context, env *Env) (assertion.Observation, error)
}

func (a funcAction) Describe() string {
	return a.name
}

func (a funcAction) Perform(ctx context.Context, env *Env) (assertion.Observation, error) {
	return a.fn(ctx, env)
}

func expand(env *Env, s string) (string, error) {
	if env.Vars == nil {
		return s, nil
	}
	return env.Vars.Expand(s)
}
