// Package scenarios is the catalog of built-in verification scenarios.
//
// The catalog covers the risk, gis and control-center modules of the
// application. Scenarios loaded from YAML files can be merged in; ids stay
// unique across both sources.
package scenarios

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/petroverify/internal/harness"
	"github.com/roach88/petroverify/internal/poll"
	"github.com/roach88/petroverify/internal/workflow"
)

// builtinSource names the origin of built-in scenarios in duplicate errors.
const builtinSource = "<builtin>"

// Catalog is an ordered, id-unique set of scenarios.
type Catalog struct {
	scenarios []*harness.Scenario
	source    map[string]string
}

// Builtin returns the built-in scenarios. Workflow scenarios mirror their
// transitions as actor.
func Builtin(o Oracles, actor string) *Catalog {
	c := &Catalog{source: make(map[string]string)}
	for _, sc := range []*harness.Scenario{
		RegulationVersioning(),
		WatchlistFeed(),
		BasinLayer(),
		AssessmentScenario(o),
		ControlCenterCoreAPI(),
		workflow.RemediationScenario(workflow.NewModel(actor)),
		workflow.CommitRequiresSimulationScenario(workflow.NewModel(actor)),
		workflow.RemediationUIScenario(workflow.NewModel(actor)),
		LandingPageSmoke(),
		GISModuleSmoke(),
		RiskModuleSmoke(),
		ControlCenterSmoke(),
	} {
		// built-in ids are distinct
		_ = c.add(sc, builtinSource)
	}
	return c
}

// AddDir merges the YAML scenarios under dir.
func (c *Catalog) AddDir(dir string) error {
	paths, err := harness.Discover(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		sc, err := harness.LoadScenario(p)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if err := c.add(sc, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) add(sc *harness.Scenario, source string) error {
	if first, ok := c.source[sc.ID]; ok {
		return &harness.DuplicateScenarioError{ID: sc.ID, First: first, Again: source}
	}
	c.source[sc.ID] = source
	c.scenarios = append(c.scenarios, sc)
	return nil
}

// All returns every scenario in catalog order.
func (c *Catalog) All() []*harness.Scenario {
	return append([]*harness.Scenario(nil), c.scenarios...)
}

// Get returns the scenario with id.
func (c *Catalog) Get(id string) (*harness.Scenario, bool) {
	for _, sc := range c.scenarios {
		if sc.ID == id {
			return sc, true
		}
	}
	return nil, false
}

// Source returns where the scenario with id was declared.
func (c *Catalog) Source(id string) string {
	return c.source[id]
}

// Select returns the scenarios named by ids (any order, all must exist)
// that also carry every tag in tags. Scenario ids may be glob patterns.
// No ids selects the whole catalog.
func (c *Catalog) Select(ids, tags []string) ([]*harness.Scenario, error) {
	var picked []*harness.Scenario
	if len(ids) == 0 {
		picked = c.All()
	} else {
		seen := make(map[string]bool)
		for _, pattern := range ids {
			n := 0
			for _, sc := range c.scenarios {
				ok, err := filepath.Match(pattern, sc.ID)
				if err != nil {
					return nil, fmt.Errorf("invalid scenario pattern %q: %w", pattern, err)
				}
				if !ok {
					continue
				}
				n++
				if !seen[sc.ID] {
					seen[sc.ID] = true
					picked = append(picked, sc)
				}
			}
			if n == 0 {
				return nil, fmt.Errorf("no scenario matches %q", pattern)
			}
		}
	}

	if len(tags) == 0 {
		return picked, nil
	}
	out := picked[:0:0]
	for _, sc := range picked {
		if hasTags(sc, tags) {
			out = append(out, sc)
		}
	}
	return out, nil
}

// Tags returns every tag used in the catalog, sorted.
func (c *Catalog) Tags() []string {
	set := make(map[string]bool)
	for _, sc := range c.scenarios {
		for _, t := range sc.Tags {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func hasTags(sc *harness.Scenario, tags []string) bool {
	for _, want := range tags {
		found := false
		for _, t := range sc.Tags {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func retry(interval, timeout time.Duration) *poll.Policy {
	p := poll.Fixed(interval, timeout)
	return &p
}
