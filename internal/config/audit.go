package config

import (
	"fmt"
	"regexp"
	"time"
)

// AuditConfig controls the audit recorder's retry queue and the
// sensitive-content pattern set.
type AuditConfig struct {
	// SensitivePatterns are regular expressions matched against message
	// content at write time. Matching messages are stored encrypted-flagged
	// and never appear unredacted in audit details.
	SensitivePatterns []string `yaml:"sensitive_patterns"`

	// QueueSize bounds the in-memory retry queue for failed audit writes.
	QueueSize int `yaml:"queue_size"`

	// RetryBase and RetryMax bound the exponential backoff between retries.
	RetryBase Duration `yaml:"retry_base"`
	RetryMax  Duration `yaml:"retry_max"`
}

// DefaultAuditConfig returns audit defaults. The default pattern set covers
// the usual payment-card and credential shapes.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		SensitivePatterns: []string{
			`\b(?:\d[ -]?){13,16}\b`,              // payment card numbers
			`(?i)\bpassword\s*[:=]\s*\S+`,         // inline credentials
			`(?i)\b(?:api[_-]?key|secret)\s*[:=]`, // api keys / secrets
		},
		QueueSize: 1024,
		RetryBase: Duration(500 * time.Millisecond),
		RetryMax:  Duration(30 * time.Second),
	}
}

// Validate checks the section, compiling every pattern once.
func (c AuditConfig) Validate() error {
	for _, p := range c.SensitivePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid sensitive pattern %q: %w", p, err)
		}
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.RetryBase <= 0 || c.RetryMax < c.RetryBase {
		return fmt.Errorf("retry_base must be positive and retry_max >= retry_base")
	}
	return nil
}

// CompiledPatterns returns the compiled sensitive-pattern set. Validate must
// have accepted the config first.
func (c AuditConfig) CompiledPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(c.SensitivePatterns))
	for _, p := range c.SensitivePatterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
