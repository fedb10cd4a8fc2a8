// Package config loads the fixture file used by cmd/pgcoreinspect: a list
// of PostgreSQL targets and smoke queries to run against them. It has no
// bearing on the driver core itself, which only ever accepts a DSN string
// or a pgcore.ConnectConfig.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the top-level fixture file for the inspection CLI.
type Config struct {
	Targets []Target `yaml:"targets"`
}

// Target is a single PostgreSQL connection to probe.
type Target struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Queries []string `yaml:"queries"`
}

// Redacted returns a copy of the target with credentials stripped from URL
// before it is logged or rendered on the status page.
func (t Target) Redacted() Target {
	c := t
	c.URL = redactURLPattern.ReplaceAllString(c.URL, "$1***:***@")
	return c
}

var redactURLPattern = regexp.MustCompile(`(://)[^@/]+@`)

// Load reads and parses a YAML fixture file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t.Name == "" {
			return fmt.Errorf("target has no name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
		if t.URL == "" {
			return fmt.Errorf("target %q: url is required", t.Name)
		}
	}
	return nil
}
