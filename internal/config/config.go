// Package config loads and validates fixwise configuration.
// Configuration is one YAML document split into per-concern sections; every
// section has workable defaults so an empty file is a valid deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates all per-concern sections.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Session    SessionConfig    `yaml:"session"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Escalation EscalationConfig `yaml:"escalation"`
	Audit      AuditConfig      `yaml:"audit"`
	Retention  RetentionConfig  `yaml:"retention"`
	Verbose    bool             `yaml:"verbose"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a fully-populated configuration.
func DefaultConfig() *Config {
	return &Config{
		Database:   DatabaseConfig{Path: "fixwise.db"},
		Session:    DefaultSessionConfig(),
		Retrieval:  DefaultRetrievalConfig(),
		Escalation: DefaultEscalationConfig(),
		Audit:      DefaultAuditConfig(),
		Retention:  DefaultRetentionConfig(),
	}
}

// Load reads a YAML config file, layering it over defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Escalation.Validate(); err != nil {
		return fmt.Errorf("escalation: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	return nil
}

// =============================================================================
// DURATION - YAML-friendly time.Duration
// =============================================================================

// Duration wraps time.Duration so YAML can carry values like "30m" or "72h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
