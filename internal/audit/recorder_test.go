package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fixwise/internal/config"
	"fixwise/internal/types"
)

// flakyLedger fails a fixed number of appends before accepting.
type flakyLedger struct {
	mu       sync.Mutex
	failures int
	err      error
	entries  []*types.AuditEntry
}

func (l *flakyLedger) AppendAudit(_ context.Context, entry *types.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return l.err
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *flakyLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func testAuditConfig() config.AuditConfig {
	cfg := config.DefaultAuditConfig()
	cfg.QueueSize = 4
	cfg.RetryBase = config.Duration(2 * time.Millisecond)
	cfg.RetryMax = config.Duration(10 * time.Millisecond)
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func sessionEvent(action string) types.AuditEvent {
	return types.AuditEvent{
		Subject:   types.SubjectSession,
		SubjectID: "sess:abc",
		Action:    action,
		Actor:     "state-machine",
	}
}

func TestRecorder_SynchronousFastPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger := &flakyLedger{}
	r := NewRecorder(ledger, testAuditConfig())
	defer r.Close()

	r.Record(context.Background(), sessionEvent("created"))

	require.Equal(t, 1, ledger.count())
	assert.NoError(t, r.Health())
	assert.NotEmpty(t, ledger.entries[0].ID)
	assert.False(t, ledger.entries[0].Timestamp.IsZero())
}

func TestRecorder_RetriesStorageFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger := &flakyLedger{failures: 3, err: types.StorageUnavailablef("ledger down")}
	r := NewRecorder(ledger, testAuditConfig())
	defer r.Close()

	r.Record(context.Background(), sessionEvent("status_completed"))

	// Degraded while the entry waits, healthy once it lands.
	assert.Error(t, r.Health())
	waitFor(t, func() bool { return ledger.count() == 1 })
	waitFor(t, func() bool { return r.Health() == nil })
}

func TestRecorder_ValidationFailuresAreNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger := &flakyLedger{failures: 1000, err: types.Validationf("bad entry")}
	r := NewRecorder(ledger, testAuditConfig())
	defer r.Close()

	r.Record(context.Background(), sessionEvent("created"))
	assert.NoError(t, r.Health(), "a permanently invalid entry does not degrade health")
	assert.Equal(t, 0, ledger.count())
}

func TestRecorder_QueueOverflowDegradesHealth(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testAuditConfig()
	cfg.QueueSize = 1
	cfg.RetryBase = config.Duration(time.Hour) // park the worker in backoff
	cfg.RetryMax = config.Duration(time.Hour)

	ledger := &flakyLedger{failures: 1 << 30, err: types.StorageUnavailablef("ledger down")}
	r := NewRecorder(ledger, cfg)

	for i := 0; i < 4; i++ {
		r.Record(context.Background(), sessionEvent("created"))
	}
	waitFor(t, func() bool {
		err := r.Health()
		return err != nil && types.IsRetryable(err) == false
	})
	assert.ErrorIs(t, r.Health(), types.ErrFatal)

	// Let the drain path finish against a recovered ledger.
	ledger.mu.Lock()
	ledger.failures = 0
	ledger.mu.Unlock()
	r.Close()
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger := &flakyLedger{failures: 1, err: types.StorageUnavailablef("blip")}
	cfg := testAuditConfig()
	cfg.RetryBase = config.Duration(time.Hour) // force delivery via drain, not retry
	cfg.RetryMax = config.Duration(time.Hour)
	r := NewRecorder(ledger, cfg)

	r.Record(context.Background(), sessionEvent("created"))
	r.Close()

	assert.Equal(t, 1, ledger.count())
}
