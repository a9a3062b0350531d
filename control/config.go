// File: control/config.go
// Package control carries the server's configuration and runtime
// instrumentation.
// License: Apache-2.0

package control

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Balancing policy names accepted in configuration.
const (
	PolicyRoundRobin = "round_robin"
	PolicySourceHash = "source_hash"
)

// Config holds the server's tunables, loadable from YAML.
type Config struct {
	// Ports to listen on, started in order.
	Ports []int `yaml:"ports"`

	// Workers is the worker loop count; zero means in-line processing on
	// the acceptor loops.
	Workers int `yaml:"workers"`

	// Policy is round_robin or source_hash.
	Policy string `yaml:"policy"`
}

// DefaultConfig returns one worker loop per CPU and round-robin balancing.
func DefaultConfig() *Config {
	return &Config{
		Workers: runtime.NumCPU(),
		Policy:  PolicyRoundRobin,
	}
}

// Load reads a YAML config file over DefaultConfig and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enum values.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("config: port %d out of range", p)
		}
	}
	switch c.Policy {
	case PolicyRoundRobin, PolicySourceHash:
	default:
		return fmt.Errorf("config: unknown policy %q", c.Policy)
	}
	return nil
}
