package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DuplicateScenarioError is returned when two scenario files declare the
// same id.
type DuplicateScenarioError struct {
	ID    string
	First string
	Again string
}

// Error implements the error interface.
func (e *DuplicateScenarioError) Error() string {
	return fmt.Sprintf("scenario id %q declared by both %s and %s", e.ID, e.First, e.Again)
}

// Discover returns the scenario files (*.yaml, *.yml) directly under dir in
// lexical order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadDir loads every scenario file under dir. Scenario ids must be unique.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string)
	var out []*Scenario
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if first, ok := seen[sc.ID]; ok {
			return nil, &DuplicateScenarioError{ID: sc.ID, First: first, Again: p}
		}
		seen[sc.ID] = p
		out = append(out, sc)
	}
	return out, nil
}
