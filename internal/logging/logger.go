// Package logging provides categorized structured logging for fixwise.
// Each subsystem logs under its own category so operators can filter the
// conversation path (session, retrieval) from the compliance path (audit,
// retention) in one stream. Backed by zap; a no-op logger is installed until
// Initialize is called, so library code can log unconditionally.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and configuration
	CategorySession    Category = "session"    // Session lifecycle and turns
	CategoryStore      Category = "store"      // SQLite store operations
	CategoryRetrieval  Category = "retrieval"  // Knowledge search and ranking
	CategoryEscalation Category = "escalation" // Ticket workflow
	CategoryAudit      Category = "audit"      // Audit recorder and retry queue
	CategorySweep      Category = "sweep"      // Background reaper/purge sweeps
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Initialize installs the process-wide logger. verbose switches the level
// to debug. Safe to call more than once; the last call wins.
func Initialize(verbose bool) error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the process logger. Test seam.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	root = l
	mu.Unlock()
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Get returns a sugared logger tagged with the category.
func Get(c Category) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Sugar().With("cat", string(c))
}

// WithSession returns a category logger correlated to one session token.
// Tokens are bearer credentials; only a short prefix is ever logged.
func WithSession(c Category, token string) *zap.SugaredLogger {
	return Get(c).With("session", tokenPrefix(token))
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures one operation and logs its duration at debug on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(c Category, op string) *Timer {
	return &Timer{category: c, op: op, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugw("op complete", "op", t.op, "dur_ms", elapsed.Milliseconds())
	return elapsed
}
