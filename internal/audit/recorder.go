// Package audit implements the compliance side of the core: the asynchronous
// audit recorder with its retry queue, sensitive-content classification, and
// the retention purge sweep.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fixwise/internal/config"
	"fixwise/internal/logging"
	"fixwise/internal/types"
)

// =============================================================================
// RECORDER - Fire-and-forget audit writes with a bounded retry queue
// =============================================================================

// Ledger is the durable sink for audit entries, implemented by the store.
type Ledger interface {
	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
}

// Recorder implements types.Recorder. Writes are attempted synchronously
// first; a failed write is queued and retried with exponential backoff by a
// background worker. A full queue or a persistently failing ledger degrades
// Health instead of failing the caller's turn. An entry is never silently
// dropped, and never blocks a user-visible operation.
type Recorder struct {
	ledger Ledger
	cfg    config.AuditConfig

	queue chan *types.AuditEntry
	stop  chan struct{}
	wg    sync.WaitGroup

	pending  atomic.Int64
	overflow atomic.Int64
}

// NewRecorder starts the retry worker.
func NewRecorder(ledger Ledger, cfg config.AuditConfig) *Recorder {
	r := &Recorder{
		ledger: ledger,
		cfg:    cfg,
		queue:  make(chan *types.AuditEntry, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.retryLoop()
	return r
}

// Record implements types.Recorder.
func (r *Recorder) Record(ctx context.Context, event types.AuditEvent) {
	entry := &types.AuditEntry{
		ID:           uuid.NewString(),
		Subject:      event.Subject,
		SubjectID:    event.SubjectID,
		Action:       event.Action,
		Actor:        event.Actor,
		SessionToken: event.SessionToken,
		Timestamp:    time.Now().UTC(),
		Details:      event.Details,
	}

	if err := r.ledger.AppendAudit(ctx, entry); err == nil {
		return
	} else if !types.IsRetryable(err) {
		// Validation failures will never succeed on retry; log and move on.
		logging.Get(logging.CategoryAudit).Errorw("unrecordable audit entry",
			"subject", entry.Subject, "action", entry.Action, "err", err)
		return
	}

	r.enqueue(entry)
}

func (r *Recorder) enqueue(entry *types.AuditEntry) {
	select {
	case r.queue <- entry:
		r.pending.Add(1)
	default:
		// Queue overflow is an operator problem, surfaced through Health.
		r.overflow.Add(1)
		logging.Get(logging.CategoryAudit).Errorw("audit retry queue full",
			"subject", entry.Subject, "action", entry.Action, "queue_size", r.cfg.QueueSize)
	}
}

// retryLoop drains the queue, backing off while the ledger keeps failing.
func (r *Recorder) retryLoop() {
	defer r.wg.Done()

	backoff := r.cfg.RetryBase.Std()
	for {
		select {
		case <-r.stop:
			r.drain()
			return
		case entry := <-r.queue:
			for {
				err := r.ledger.AppendAudit(context.Background(), entry)
				if err == nil {
					r.pending.Add(-1)
					backoff = r.cfg.RetryBase.Std()
					break
				}
				if !types.IsRetryable(err) {
					r.pending.Add(-1)
					logging.Get(logging.CategoryAudit).Errorw("dropping unrecordable audit entry",
						"subject", entry.Subject, "action", entry.Action, "err", err)
					break
				}
				select {
				case <-r.stop:
					// Hand the in-flight entry to drain for one final
					// attempt at shutdown.
					select {
					case r.queue <- entry:
					default:
						r.pending.Add(-1)
						logging.Get(logging.CategoryAudit).Errorw("audit entry lost at shutdown",
							"subject", entry.Subject, "action", entry.Action)
					}
					r.drain()
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if max := r.cfg.RetryMax.Std(); backoff > max {
					backoff = max
				}
			}
		}
	}
}

// drain makes one final delivery attempt per queued entry so a clean
// shutdown loses nothing unless the ledger is already gone.
func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			if err := r.ledger.AppendAudit(context.Background(), entry); err != nil {
				logging.Get(logging.CategoryAudit).Errorw("audit entry lost at shutdown",
					"subject", entry.Subject, "action", entry.Action, "err", err)
			}
			r.pending.Add(-1)
		default:
			return
		}
	}
}

// Health reports the recorder's degradation state: an error when entries are
// waiting on retry or the queue has overflowed.
func (r *Recorder) Health() error {
	if n := r.overflow.Load(); n > 0 {
		return types.Fatalf("audit queue overflowed, %d entries rejected", n)
	}
	if n := r.pending.Load(); n > 0 {
		return types.StorageUnavailablef("%d audit entries awaiting retry", n)
	}
	return nil
}

// Close stops the worker after a final drain pass.
func (r *Recorder) Close() {
	close(r.stop)
	r.wg.Wait()
}
