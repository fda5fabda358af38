// Package config assembles the run configuration.
//
// Sources apply in order, each overriding the previous one:
//  1. Built-in defaults
//  2. A config file, YAML (.yaml, .yml) or CUE (.cue), checked against the
//     embedded CUE schema
//  3. A .env file
//  4. PETROVERIFY_* environment variables
//
// Command-line flags are applied by the CLI on top of the result.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/petroverify/internal/auth"
	"github.com/roach88/petroverify/internal/poll"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PETROVERIFY_"

// Drivers.
const (
	DriverHTML   = "html"
	DriverChrome = "chrome"
)

// Config is everything a run needs. It is passed explicitly to the
// components that use it.
type Config struct {
	// BaseURL is the root of the application under test.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// HealthPath is polled until the application answers 2xx.
	HealthPath string `yaml:"health_path" json:"health_path"`

	// Modules maps API module names to base paths. Unlisted modules use
	// /api/<module>.
	Modules map[string]string `yaml:"modules,omitempty" json:"modules,omitempty"`

	// AccessKey satisfies the access gate.
	AccessKey string `yaml:"access_key" json:"-"`

	Gate      auth.GateConfig `yaml:"gate" json:"gate"`
	Readiness Readiness       `yaml:"readiness" json:"readiness"`

	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`
	Retry       poll.Policy   `yaml:"retry" json:"retry"`

	// ScenarioDir holds extra YAML scenarios merged into the catalog.
	ScenarioDir string `yaml:"scenario_dir,omitempty" json:"scenario_dir,omitempty"`

	// OracleFile overrides the embedded oracle fixture.
	OracleFile string `yaml:"oracle_file,omitempty" json:"oracle_file,omitempty"`

	OutputDir   string `yaml:"output_dir" json:"output_dir"`
	Database    string `yaml:"database" json:"database"`
	MetricsFile string `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`

	Driver   string `yaml:"driver" json:"driver"`
	Headless bool   `yaml:"headless" json:"headless"`

	// Actor is recorded as the author of workflow transitions.
	Actor string `yaml:"actor" json:"actor"`
}

// Readiness bounds the wait for the application to come up.
type Readiness struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:    "http://localhost:3000",
		HealthPath: "/api/risk/jurisdictions",
		AccessKey:  "PetroV0",
		Gate:       auth.DefaultGate(),
		Readiness: Readiness{
			Interval:    time.Second,
			MaxAttempts: 60,
		},
		StepTimeout: 30 * time.Second,
		Retry:       poll.Fixed(250*time.Millisecond, 10*time.Second),
		OutputDir:   "petroverify-out",
		Database:    "petroverify.db",
		Driver:      DriverHTML,
		Headless:    true,
		Actor:       "petroverify",
	}
}

// HealthURL returns the absolute readiness URL.
func (c Config) HealthURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.HealthPath
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL)
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		return fmt.Errorf("health_path %q must start with /", c.HealthPath)
	}
	if c.Readiness.Interval <= 0 || c.Readiness.MaxAttempts < 1 {
		return errors.New("readiness needs a positive interval and at least one attempt")
	}
	if c.StepTimeout <= 0 {
		return errors.New("step_timeout must be positive")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	switch c.Driver {
	case DriverHTML, DriverChrome:
	default:
		return fmt.Errorf("driver %q must be %s or %s", c.Driver, DriverHTML, DriverChrome)
	}
	return nil
}

// Sources names where Load reads from.
type Sources struct {
	// File is the config file. Empty skips it.
	File string

	// EnvFile is the dotenv file. Empty reads .env when it exists.
	EnvFile string

	// LookupEnv reads the environment. Nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from src.
func Load(src Sources) (Config, error) {
	cfg := Default()

	if src.File != "" {
		if err := cfg.mergeFile(src.File); err != nil {
			return Config{}, err
		}
	}

	dotenv, err := readDotenv(src.EnvFile)
	if err != nil {
		return Config{}, err
	}
	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return cfg, nil
}

func readDotenv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("env file: %v", err)}
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("env file %s: %v", path, err)}
	}
	return vars, nil
}

// mergeFile overlays the fields set in the config file at path.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("failed to read config file: %v", err)}
	}

	doc, err := Check(path, data)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("failed to decode config: %v", err)}
	}
	return nil
}

// Check validates a config document against the schema and returns it as
// JSON. The format follows the file extension.
func Check(path string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("schema: %v", err)}
	}

	var v cue.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(path))
	case ".yaml", ".yml":
		f, err := cueyaml.Extract(path, data)
		if err != nil {
			return nil, positioned(ErrCodeParse, path, err)
		}
		v = ctx.BuildFile(f)
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported config format %q", filepath.Ext(path))}
	}
	if err := v.Err(); err != nil {
		return nil, positioned(ErrCodeParse, path, err)
	}

	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, positioned(ErrCodeInvalid, path, err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return nil, positioned(ErrCodeInvalid, path, err)
	}
	return out, nil
}

// applyEnv overlays PETROVERIFY_* variables.
func (c *Config) applyEnv(env func(string) (string, bool)) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	vars := []struct {
		name string
		set  func(string) error
	}{
		{"BASE_URL", str(&c.BaseURL)},
		{"HEALTH_PATH", str(&c.HealthPath)},
		{"ACCESS_KEY", str(&c.AccessKey)},
		{"SCENARIO_DIR", str(&c.ScenarioDir)},
		{"ORACLE_FILE", str(&c.OracleFile)},
		{"OUTPUT_DIR", str(&c.OutputDir)},
		{"DATABASE", str(&c.Database)},
		{"METRICS_FILE", str(&c.MetricsFile)},
		{"DRIVER", str(&c.Driver)},
		{"ACTOR", str(&c.Actor)},
		{"STEP_TIMEOUT", dur(&c.StepTimeout)},
		{"READINESS_INTERVAL", dur(&c.Readiness.Interval)},
		{"READINESS_ATTEMPTS", func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.Readiness.MaxAttempts = n
			return nil
		}},
		{"HEADLESS", func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.Headless = b
			return nil
		}},
	}
	for _, ev := range vars {
		v, ok := env(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(v); err != nil {
			return &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s%s: %v", EnvPrefix, ev.name, err)}
		}
	}
	return nil
}

// LoadError is a configuration error, positioned when it came from CUE.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes.
const (
	ErrCodeNotFound = "E005" // file not found
	ErrCodeParse    = "E201" // malformed YAML, CUE or dotenv
	ErrCodeInvalid  = "E202" // schema or value check failed
	ErrCodeFormat   = "E203" // unknown file extension
	ErrCodeSchema   = "E204" // embedded schema broken
)

// positioned converts a CUE error. The position prefers a location in the
// checked document at path; disjunction failures report theirs only among
// the input positions.
func positioned(code, path string, err error) *LoadError {
	le := &LoadError{Code: code, Message: cueerrors.Details(err, nil)}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return le
	}
	le.Message = errs[0].Error()

	candidates := append([]token.Pos{errs[0].Position()}, errs[0].InputPositions()...)
	for _, p := range candidates {
		if p.IsValid() && p.Filename() == path {
			le.Pos = p
			return le
		}
	}
	for _, p := range candidates {
		if p.IsValid() {
			le.Pos = p
			return le
		}
	}
	return le
}
