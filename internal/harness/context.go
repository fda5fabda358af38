package harness

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/roach88/petroverify/internal/assertion"
)

// Context is the ScenarioContext: values extracted by earlier steps, visible
// to every later step of the same run.
//
// A key is bound at most once per run. Rebinding a key to the same value is a
// no-op; rebinding it to a different value is an error, so an identifier
// minted by one step can never be silently replaced before a dependent step
// uses it.
type Context struct {
	mu   sync.Mutex
	vars map[string]any
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{vars: make(map[string]any)}
}

// ConflictError is returned by Set when a key is already bound to a
// different value.
type ConflictError struct {
	Key      string
	Existing any
	Value    any
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("context key %q already bound to %v, refusing %v", e.Key, e.Existing, e.Value)
}

// Set binds key to value.
func (c *Context) Set(key string, value any) error {
	if key == "" {
		return errors.New("context key is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.vars[key]; ok {
		if assertion.Equal(existing, value) {
			return nil
		}
		return &ConflictError{Key: key, Existing: existing, Value: value}
	}
	c.vars[key] = value
	return nil
}

// Get returns the value bound to key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[key]
	return v, ok
}

// Keys returns the bound keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the bindings.
func (c *Context) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Expand substitutes ${key} placeholders in s. Referencing an unbound key is
// an error.
func (c *Context) Expand(s string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := c.Get(key)
		if !ok {
			missing = append(missing, key)
			return m
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unbound context key %q in %q", missing[0], s)
	}
	return out, nil
}

// ExpandValue expands placeholders inside strings, maps and slices. A string
// that consists of a single placeholder is replaced by the bound value itself,
// keeping its type.
func (c *Context) ExpandValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(t); m != nil && m[0] == t {
			bound, ok := c.Get(m[1])
			if !ok {
				return nil, fmt.Errorf("unbound context key %q", m[1])
			}
			return bound, nil
		}
		return c.Expand(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			x, err := c.ExpandValue(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = x
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			x, err := c.ExpandValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = x
		}
		return out, nil
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			x, err := c.Expand(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = x
		}
		return out, nil
	default:
		return v, nil
	}
}
