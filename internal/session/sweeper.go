package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"fixwise/internal/audit"
	"fixwise/internal/logging"
	"fixwise/internal/store"
	"fixwise/internal/types"
)

// =============================================================================
// BACKGROUND SWEEPS - Idle reaper, audit reconciliation, retention purge
// =============================================================================

// RunIdleSweep abandons every active session with no activity inside the idle
// window. The transition is conditional in the store, so two sweeps racing
// each other (or live traffic) abandon a session exactly once, and only the
// winning sweep writes the audit entry.
func (m *Manager) RunIdleSweep(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategorySweep, "idle_sweep")
	defer timer.Stop()

	cutoff := time.Now().UTC().Add(-m.cfg.IdleWindow.Std())
	tokens, err := m.store.IdleActiveSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return abandoned, err
		}
		changed, err := m.store.TerminateSession(ctx, token, types.StatusAbandoned, "idle_timeout",
			m.retention.WindowFor(string(types.StatusAbandoned)))
		if err != nil || !changed {
			continue // terminated by traffic or a racing sweep
		}
		m.recorder.Record(ctx, types.AuditEvent{
			Subject:      types.SubjectSession,
			SubjectID:    store.SessionSubjectID(token),
			Action:       "status_abandoned",
			Actor:        "idle-sweep",
			SessionToken: token,
			Details:      map[string]any{"reason": "idle_timeout"},
		})
		abandoned++
	}

	if abandoned > 0 {
		logging.Get(logging.CategorySweep).Infow("idle sweep complete", "abandoned", abandoned)
	}
	return abandoned, nil
}

// RunAuditReconciliation backfills the transition audit entry for any session
// that reached a terminal state without one (a crash between the state write
// and the audit write). Audit writes are at-least-once; this sweep closes
// the gap on the missing side.
func (m *Manager) RunAuditReconciliation(ctx context.Context) (int, error) {
	missing, err := m.store.TerminalSessionsMissingAudit(ctx)
	if err != nil {
		return 0, err
	}

	for token, status := range missing {
		m.recorder.Record(ctx, types.AuditEvent{
			Subject:      types.SubjectSession,
			SubjectID:    store.SessionSubjectID(token),
			Action:       "status_" + string(status),
			Actor:        "reconciliation-sweep",
			SessionToken: token,
			Details:      map[string]any{"backfilled": true},
		})
	}

	if len(missing) > 0 {
		logging.Get(logging.CategorySweep).Warnw("backfilled missing transition audits", "count", len(missing))
	}
	return len(missing), nil
}

// Sweeper runs the background schedules: the idle reaper plus audit
// reconciliation on the session sweep interval, and the retention purge on
// its own interval. The schedules are independent and every pass is
// idempotent, so overlap with live traffic is safe.
type Sweeper struct {
	manager       *Manager
	purger        *audit.Purger
	sweepInterval time.Duration
	purgeInterval time.Duration
}

// NewSweeper creates the background runner.
func NewSweeper(m *Manager, purger *audit.Purger, sweepInterval, purgeInterval time.Duration) *Sweeper {
	return &Sweeper{
		manager:       m,
		purger:        purger,
		sweepInterval: sweepInterval,
		purgeInterval: purgeInterval,
	}
}

// Run blocks until ctx is done, firing the sweeps on their intervals. Sweep
// errors are logged, not fatal: the next tick gets another chance.
func (s *Sweeper) Run(ctx context.Context) error {
	log := logging.Get(logging.CategorySweep)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.manager.RunIdleSweep(ctx); err != nil && ctx.Err() == nil {
					log.Errorw("idle sweep failed", "err", err)
				}
				if _, err := s.manager.RunAuditReconciliation(ctx); err != nil && ctx.Err() == nil {
					log.Errorw("audit reconciliation failed", "err", err)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.purger.Run(ctx); err != nil && ctx.Err() == nil {
					log.Errorw("retention purge failed", "err", err)
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
