package config

import (
	"fmt"
	"time"
)

// RetentionConfig controls retention windows and the purge sweep.
// Windows key off how the session closed: an escalated session keeps its
// trail longer because an expert may still need it.
type RetentionConfig struct {
	CompletedWindow Duration `yaml:"completed_window"`
	EscalatedWindow Duration `yaml:"escalated_window"`
	AbandonedWindow Duration `yaml:"abandoned_window"`

	// PurgeInterval is how often the retention purge sweep runs.
	PurgeInterval Duration `yaml:"purge_interval"`
}

// DefaultRetentionConfig returns compliance defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		CompletedWindow: Duration(90 * 24 * time.Hour),
		EscalatedWindow: Duration(365 * 24 * time.Hour),
		AbandonedWindow: Duration(30 * 24 * time.Hour),
		PurgeInterval:   Duration(time.Hour),
	}
}

// Validate checks the section.
func (c RetentionConfig) Validate() error {
	if c.CompletedWindow <= 0 || c.EscalatedWindow <= 0 || c.AbandonedWindow <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("purge_interval must be positive")
	}
	return nil
}

// WindowFor returns the retention window for a session closed with the given
// terminal status string. Unknown statuses get the shortest window.
func (c RetentionConfig) WindowFor(status string) time.Duration {
	switch status {
	case "completed":
		return c.CompletedWindow.Std()
	case "escalated":
		return c.EscalatedWindow.Std()
	case "abandoned":
		return c.AbandonedWindow.Std()
	}
	return c.AbandonedWindow.Std()
}
