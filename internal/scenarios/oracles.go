package scenarios

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed testdata/oracles.yaml
var defaultOracles []byte

// Oracles pins the expected values of scenarios whose outcome is decided by
// server-side rules rather than by the request.
type Oracles struct {
	Assessment    AssessmentOracle   `yaml:"assessment"`
	Jurisdictions JurisdictionOracle `yaml:"jurisdictions"`
}

// AssessmentOracle is the score a fresh assessment must receive.
type AssessmentOracle struct {
	AssetID       string `yaml:"asset_id"`
	Status        string `yaml:"status"`
	ExpectedScore int    `yaml:"expected_score"`
}

// JurisdictionOracle is the minimum reference data the risk module serves.
type JurisdictionOracle struct {
	MinCount      int      `yaml:"min_count"`
	RequiredCodes []string `yaml:"required_codes"`
}

// DefaultOracles returns the embedded oracle fixture.
func DefaultOracles() Oracles {
	o, err := ParseOracles(defaultOracles)
	if err != nil {
		panic(fmt.Sprintf("embedded oracles: %v", err))
	}
	return o
}

// LoadOracles reads an oracle file.
func LoadOracles(path string) (Oracles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Oracles{}, fmt.Errorf("failed to read oracle file: %w", err)
	}
	return ParseOracles(data)
}

// ParseOracles decodes oracle YAML, rejecting unknown fields.
func ParseOracles(data []byte) (Oracles, error) {
	var o Oracles
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return Oracles{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := o.Validate(); err != nil {
		return Oracles{}, fmt.Errorf("invalid oracles: %w", err)
	}
	return o, nil
}

// Validate checks the oracles are usable.
func (o Oracles) Validate() error {
	if o.Assessment.AssetID == "" || o.Assessment.Status == "" {
		return errors.New("assessment.asset_id and assessment.status are required")
	}
	if o.Assessment.ExpectedScore < 0 || o.Assessment.ExpectedScore > 100 {
		return fmt.Errorf("assessment.expected_score %d out of range 0..100", o.Assessment.ExpectedScore)
	}
	if o.Jurisdictions.MinCount < 0 {
		return errors.New("jurisdictions.min_count must not be negative")
	}
	return nil
}
