// Package config holds the typed run configuration for tagquery. Values are
// layered: defaults, then an optional YAML file, then TAGQUERY_* environment
// variables, then command-line flags; Validate is called once on the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tagquery/internal/extract"
	"tagquery/internal/logging"
	"tagquery/internal/output"
	"tagquery/internal/query"
	"tagquery/internal/store"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that cannot be run.
var ErrInvalid = errors.New("invalid configuration")

// Config is everything one invocation needs.
type Config struct {
	// Input is the normalized file to read.
	Input string `yaml:"input"`
	// Output is the CSV destination; empty means standard output.
	Output string `yaml:"output"`

	Filters query.Filters `yaml:"filters"`

	// NoComments suppresses the provenance block and its .log file.
	NoComments bool `yaml:"no_comments"`
	Verbosity  int  `yaml:"verbosity"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver"`

	OnMalformed  string `yaml:"on_malformed"`    // abort, skip
	OnOutOfRange string `yaml:"on_out_of_range"` // error, clamp

	// Timeout bounds the whole run; empty means no limit.
	Timeout string `yaml:"timeout"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Format string `yaml:"format"` // console, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Verbosity:    1,
		Driver:       store.DriverSQLite,
		OnMalformed:  string(extract.AbortOnMalformed),
		OnOutOfRange: string(extract.ErrorOnOutOfRange),
		Logging: LoggingConfig{
			Format: logging.FormatConsole,
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults, then
// applies environment overrides. An empty path or a missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TAGQUERY_DB"); v != "" {
		c.Input = v
	}
	if v := os.Getenv("TAGQUERY_OUTFILE"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("TAGQUERY_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("TAGQUERY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration once, before anything is opened.
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("%w: input file is required", ErrInvalid)
	}
	for _, target := range output.Targets(c.Output, !c.NoComments) {
		if samePath(target, c.Input) {
			return fmt.Errorf("%w: output %s would overwrite the input via %s", ErrInvalid, c.Output, target)
		}
	}
	switch c.Driver {
	case store.DriverSQLite, store.DriverSQLite3:
	default:
		return fmt.Errorf("%w: unknown driver %q (want %s or %s)", ErrInvalid, c.Driver, store.DriverSQLite, store.DriverSQLite3)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Logging.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Logging.Format)
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: bad timeout %q", ErrInvalid, c.Timeout)
		}
	}
	return nil
}

// Policy returns the extraction policy.
func (c *Config) Policy() extract.Policy {
	return extract.Policy{
		OnMalformed:  extract.MalformedPolicy(c.OnMalformed),
		OnOutOfRange: extract.RangePolicy(c.OnOutOfRange),
	}
}

// GetTimeout returns the run timeout; zero means no limit.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// samePath reports whether a and b name the same file, by path or, when
// both exist, by identity.
func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
