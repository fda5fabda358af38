package harness

import (
	"fmt"
	"regexp"
	"time"

	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/poll"
)

// Scenario is an ordered sequence of steps sharing one Context and one
// session.
type Scenario struct {
	// ID uniquely identifies the scenario; it names diagnostics artifacts.
	ID string `yaml:"id" json:"id"`

	// Name is a short human title.
	Name string `yaml:"name" json:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description" json:"description"`

	// Tags group scenarios for selection (e.g. "api", "ui", "risk").
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// UI marks scenarios that need a browser page in their session.
	UI bool `yaml:"ui,omitempty" json:"ui,omitempty"`

	Steps []Step `yaml:"-" json:"-"`
}

// Step is one action, judged by one assertion. Steps are immutable once the
// scenario starts.
type Step struct {
	Name string

	// Action produces the observation. Required.
	Action Action

	// Observe re-reads state while the assertion is retried. When nil, the
	// action's own Observer (if any) is used; otherwise the assertion is
	// evaluated once.
	Observe ObserveFunc

	// Assertion judges the observation. Nil always passes.
	Assertion assertion.Assertion

	// Timeout bounds the whole step, retries included. Zero uses the
	// executor default.
	Timeout time.Duration

	// Retry re-evaluates the assertion until it passes. Nil uses the
	// executor default.
	Retry *poll.Policy

	// Extract stores values from the passing observation into the Context.
	Extract []Extractor
}

// Label returns the step name, or its action description.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Action != nil {
		return s.Action.Describe()
	}
	return "unnamed"
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Validate checks that required fields are present and valid.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !validID.MatchString(s.ID) {
		return fmt.Errorf("id %q must be lowercase letters, digits and dashes", s.ID)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Action == nil {
			return fmt.Errorf("steps[%d]: action is required", i)
		}
		if step.Timeout < 0 {
			return fmt.Errorf("steps[%d]: timeout must be non-negative", i)
		}
		if step.Retry != nil {
			p := *step.Retry
			if p.Timeout == 0 && p.MaxAttempts == 0 {
				// bounded by the step timeout at run time
				p.Timeout = time.Second
			}
			if err := p.Validate(); err != nil {
				return fmt.Errorf("steps[%d].retry: %w", i, err)
			}
		}
		seen := make(map[string]bool)
		for j, ex := range step.Extract {
			if ex.Key == "" {
				return fmt.Errorf("steps[%d].extract[%d]: key is required", i, j)
			}
			if ex.From == nil {
				return fmt.Errorf("steps[%d].extract[%d]: source is required", i, j)
			}
			if seen[ex.Key] {
				return fmt.Errorf("steps[%d].extract[%d]: duplicate key %q", i, j, ex.Key)
			}
			seen[ex.Key] = true
		}
	}
	return nil
}
