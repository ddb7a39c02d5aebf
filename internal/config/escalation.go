package config

import (
	"fmt"
	"regexp"
)

var numberPrefixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// EscalationConfig controls ticket numbering and notification routing.
type EscalationConfig struct {
	// NumberPrefix leads every ticket number, e.g. "T" -> T-0000000042.
	// Restricted to uppercase alphanumerics so numbers match ^[A-Z0-9-]+$.
	NumberPrefix string `yaml:"number_prefix"`

	// Channel is the notification channel handed to the notifier port.
	Channel string `yaml:"channel"`

	// Recipients receive escalation notifications.
	Recipients []string `yaml:"recipients"`
}

// DefaultEscalationConfig returns escalation defaults.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		NumberPrefix: "T",
		Channel:      "email",
		Recipients:   nil,
	}
}

// Validate checks the section.
func (c EscalationConfig) Validate() error {
	if !numberPrefixPattern.MatchString(c.NumberPrefix) {
		return fmt.Errorf("number_prefix %q must match %s", c.NumberPrefix, numberPrefixPattern)
	}
	if c.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	return nil
}
