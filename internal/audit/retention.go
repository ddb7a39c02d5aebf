package audit

import (
	"context"
	"errors"
	"time"

	"fixwise/internal/logging"
	"fixwise/internal/store"
	"fixwise/internal/types"
)

// =============================================================================
// RETENTION PURGE
// =============================================================================

// Purger deletes sessions whose retention window has elapsed. Legal holds
// and open tickets shield a session; the purge itself leaves an audit entry,
// so the ledger always explains why a trail vanished.
type Purger struct {
	store *store.Store
}

// NewPurger creates the retention purge sweep.
func NewPurger(st *store.Store) *Purger {
	return &Purger{store: st}
}

// Run purges every eligible session and returns how many were removed. The
// sweep is idempotent and safe to run concurrently with live traffic and
// with itself: a candidate purged by a racing sweep just disappears from
// under us, which is the desired end state.
func (p *Purger) Run(ctx context.Context) (int, error) {
	log := logging.Get(logging.CategorySweep)
	timer := logging.StartTimer(logging.CategorySweep, "retention_purge")
	defer timer.Stop()

	candidates, err := p.store.PurgeCandidates(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, token := range candidates {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := p.store.PurgeSession(ctx, token, "retention-sweep"); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue // a racing sweep got there first
			}
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		log.Infow("retention purge complete", "purged", purged)
	}
	return purged, nil
}
