package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixwise/internal/store"
	"fixwise/internal/types"
)

func TestPurger_RemovesExpiredSessionsOnce(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "fixwise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	expired, err := st.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	_, err = st.TerminateSession(ctx, expired.Token, types.StatusCompleted, "done", time.Millisecond)
	require.NoError(t, err)

	retained, err := st.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	_, err = st.TerminateSession(ctx, retained.Token, types.StatusCompleted, "done", 24*time.Hour)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	p := NewPurger(st)
	purged, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = st.GetSession(ctx, expired.Token)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Re-entrant: a second sweep finds nothing new.
	purged, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

func TestPurger_LegalHoldShieldsSession(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "fixwise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	_, err = st.TerminateSession(ctx, sess.Token, types.StatusAbandoned, "idle", time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, st.SetLegalHold(ctx, sess.Token, true))

	time.Sleep(5 * time.Millisecond)

	purged, err := NewPurger(st).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}
