package config

import (
	"fmt"
	"time"
)

// SessionConfig controls session TTL and the idle reaper.
type SessionConfig struct {
	// TTL is the sliding expiry window; every touch extends expires_at by
	// this much from now.
	TTL Duration `yaml:"ttl"`

	// IdleWindow is how long a session may sit active with no user activity
	// before the reaper marks it abandoned.
	IdleWindow Duration `yaml:"idle_window"`

	// SweepInterval is how often the idle reaper and the audit
	// reconciliation sweep run.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// DefaultSessionConfig returns production session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:           Duration(24 * time.Hour),
		IdleWindow:    Duration(30 * time.Minute),
		SweepInterval: Duration(5 * time.Minute),
	}
}

// Validate checks the section.
func (c SessionConfig) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.IdleWindow <= 0 {
		return fmt.Errorf("idle_window must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}
