// Package config loads the repair-loop configuration from mend.yaml and
// applies defaults and bounds so the orchestrator never sees a nonsensical
// setting.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when --config is not
// given.
const DefaultPath = "mend.yaml"

// Defaults for every tunable. MaxRounds bounds fix attempts per artifact;
// StallThreshold is how many consecutive non-productive rounds are tolerated
// before the breaker trips.
const (
	DefaultMaxRounds       = 3
	DefaultStallThreshold  = 1
	DefaultConfidenceFloor = 0.5
	DefaultInfraRetries    = 2
	DefaultGateTimeout     = 30 * time.Second
)

// GateConfig configures the subprocess validation gate.
type GateConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// UnmarshalYAML accepts the timeout as a duration string ("30s"), which
// yaml.v3 does not decode into time.Duration on its own.
func (g *GateConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
		Timeout string   `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	g.Command = raw.Command
	g.Args = raw.Args
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("gate timeout: %w", err)
		}
		g.Timeout = d
	}
	return nil
}

// Config is the full repair-loop configuration.
type Config struct {
	MaxRounds       int
	StallThreshold  int
	Concurrency     int
	ConfidenceFloor float64
	InfraRetries    int
	Deadline        time.Duration
	Gate            GateConfig
	StorePath       string
}

// UnmarshalYAML overlays only the fields present in the file onto the
// receiver, so a partial config keeps the remaining defaults.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRounds       *int        `yaml:"max_rounds"`
		StallThreshold  *int        `yaml:"stall_threshold"`
		Concurrency     *int        `yaml:"concurrency"`
		ConfidenceFloor *float64    `yaml:"confidence_floor"`
		InfraRetries    *int        `yaml:"infra_retries"`
		Deadline        string      `yaml:"deadline"`
		Gate            *GateConfig `yaml:"gate"`
		StorePath       string      `yaml:"store_path"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxRounds != nil {
		c.MaxRounds = *raw.MaxRounds
	}
	if raw.StallThreshold != nil {
		c.StallThreshold = *raw.StallThreshold
	}
	if raw.Concurrency != nil {
		c.Concurrency = *raw.Concurrency
	}
	if raw.ConfidenceFloor != nil {
		c.ConfidenceFloor = *raw.ConfidenceFloor
	}
	if raw.InfraRetries != nil {
		c.InfraRetries = *raw.InfraRetries
	}
	if raw.Deadline != "" {
		d, err := time.ParseDuration(raw.Deadline)
		if err != nil {
			return fmt.Errorf("deadline: %w", err)
		}
		c.Deadline = d
	}
	if raw.Gate != nil {
		c.Gate = *raw.Gate
	}
	if raw.StorePath != "" {
		c.StorePath = raw.StorePath
	}
	return nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		MaxRounds:       DefaultMaxRounds,
		StallThreshold:  DefaultStallThreshold,
		Concurrency:     runtime.NumCPU(),
		ConfidenceFloor: DefaultConfidenceFloor,
		InfraRetries:    DefaultInfraRetries,
		Gate:            GateConfig{Timeout: DefaultGateTimeout},
		StorePath:       ".mend/mend.db",
	}
}

// Load reads the file at path, falling back to defaults when it does not
// exist. Absent fields keep their defaults; present fields are validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRounds < 0 {
		return fmt.Errorf("max_rounds must be >= 0, got %d", c.MaxRounds)
	}
	if c.StallThreshold < 0 {
		return fmt.Errorf("stall_threshold must be >= 0, got %d", c.StallThreshold)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be in [0,1], got %v", c.ConfidenceFloor)
	}
	if c.Concurrency < 1 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.InfraRetries < 0 {
		return fmt.Errorf("infra_retries must be >= 0, got %d", c.InfraRetries)
	}
	if c.Gate.Timeout <= 0 {
		c.Gate.Timeout = DefaultGateTimeout
	}
	return nil
}
