package audit

import (
	"regexp"
	"unicode/utf8"

	"fixwise/internal/config"
	"fixwise/internal/types"
)

// contentDetailLimit caps how much plain message content is copied into an
// audit details payload.
const contentDetailLimit = 120

// =============================================================================
// SENSITIVE-CONTENT CLASSIFIER
// =============================================================================

// Classifier flags message content that matches the configured sensitive
// pattern set. Flagged messages are stored encryption-marked, and audit
// details carry only a reference to them, never the raw content.
type Classifier struct {
	patterns []*regexp.Regexp
}

// NewClassifier compiles the pattern set. The config must have passed
// Validate.
func NewClassifier(cfg config.AuditConfig) *Classifier {
	return &Classifier{patterns: cfg.CompiledPatterns()}
}

// Sensitive reports whether content matches any configured pattern.
func (c *Classifier) Sensitive(content string) bool {
	for _, p := range c.patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// MessageDetails builds the audit details payload for an appended message.
// Sensitive content is reduced to its message reference; only the metadata
// of a flagged message ever reaches the ledger.
func (c *Classifier) MessageDetails(msg *types.Message) map[string]any {
	details := map[string]any{
		"message_id": msg.ID,
		"sender":     string(msg.Sender),
		"type":       string(msg.Type),
	}
	if msg.IsEncrypted {
		details["encrypted"] = true
	} else if len(msg.Content) <= contentDetailLimit {
		details["content"] = msg.Content
	} else {
		// Back off to a rune boundary so truncation never emits invalid
		// UTF-8 into the ledger.
		cut := contentDetailLimit
		for cut > 0 && !utf8.RuneStart(msg.Content[cut]) {
			cut--
		}
		details["content"] = msg.Content[:cut]
	}
	return details
}
