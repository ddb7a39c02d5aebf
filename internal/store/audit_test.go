package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixwise/internal/types"
)

func appendEntry(t *testing.T, s *Store, token types.SessionToken, action string) *types.AuditEntry {
	t.Helper()
	entry := &types.AuditEntry{
		ID:           uuid.NewString(),
		Subject:      types.SubjectSession,
		SubjectID:    sessionKey(token),
		Action:       action,
		Actor:        "state-machine",
		SessionToken: token,
		Timestamp:    time.Now(),
	}
	require.NoError(t, s.AppendAudit(context.Background(), entry))
	return entry
}

func TestAppendAudit_PerSessionSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)

	appendEntry(t, s, a.Token, "created")
	appendEntry(t, s, b.Token, "created")
	appendEntry(t, s, a.Token, "message_appended")

	trail, err := s.AuditTrail(ctx, a.Token)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, int64(1), trail[0].SessionSeq)
	assert.Equal(t, int64(2), trail[1].SessionSeq)
	assert.Equal(t, "created", trail[0].Action)

	trailB, err := s.AuditTrail(ctx, b.Token)
	require.NoError(t, err)
	require.Len(t, trailB, 1)
	assert.Equal(t, int64(1), trailB[0].SessionSeq, "sequences are per session, not global")
}

func TestAppendAudit_ConcurrentWritersKeepGaplessSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AppendAudit(ctx, &types.AuditEntry{
				ID:           uuid.NewString(),
				Subject:      types.SubjectSession,
				SubjectID:    sessionKey(sess.Token),
				Action:       "message_appended",
				Actor:        "state-machine",
				SessionToken: sess.Token,
				Timestamp:    time.Now(),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	trail, err := s.AuditTrail(ctx, sess.Token)
	require.NoError(t, err)
	require.Len(t, trail, writers)
	for i, e := range trail {
		assert.Equal(t, int64(i+1), e.SessionSeq)
	}
}

func TestCountAuditAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	appendEntry(t, s, sess.Token, "status_abandoned")

	n, err := s.CountAuditAction(ctx, types.SubjectSession, sessionKey(sess.Token), "status_abandoned")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountAuditAction(ctx, types.SubjectSession, sessionKey(sess.Token), "status_completed")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTerminalSessionsMissingAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	_, err = s.TerminateSession(ctx, sess.Token, types.StatusCompleted, "done", time.Hour)
	require.NoError(t, err)

	missing, err := s.TerminalSessionsMissingAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, missing[sess.Token], "transition without audit entry is detected")

	appendEntry(t, s, sess.Token, "status_completed")

	missing, err = s.TerminalSessionsMissingAudit(ctx)
	require.NoError(t, err)
	assert.NotContains(t, missing, sess.Token)
}

func TestConsent_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestConsent(ctx, "user-1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.RecordConsent(ctx, "user-1", "v1")
	require.NoError(t, err)
	_, err = s.RecordConsent(ctx, "user-1", "v2")
	require.NoError(t, err)

	latest, err := s.LatestConsent(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.PolicyVersion)
}

func TestPurge_EndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &types.Message{
		ID: "m1", SessionToken: sess.Token, Sender: types.SenderUser,
		Type: types.MessageText, Content: "hello", CreatedAt: time.Now(),
	}))
	appendEntry(t, s, sess.Token, "created")

	// Not yet terminal: no marker, no purge candidate.
	candidates, err := s.PurgeCandidates(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates)

	_, err = s.TerminateSession(ctx, sess.Token, types.StatusCompleted, "done", time.Hour)
	require.NoError(t, err)

	// Before expiry the session is retained.
	candidates, err = s.PurgeCandidates(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = s.PurgeCandidates(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	// A legal hold shields the session.
	require.NoError(t, s.SetLegalHold(ctx, sess.Token, true))
	candidates, err = s.PurgeCandidates(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates)
	require.NoError(t, s.SetLegalHold(ctx, sess.Token, false))

	require.NoError(t, s.PurgeSession(ctx, sess.Token, "retention-sweep"))

	_, err = s.GetSession(ctx, sess.Token)
	assert.ErrorIs(t, err, types.ErrNotFound)

	msgs, err := s.Messages(ctx, sess.Token)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	trail, err := s.AuditTrail(ctx, sess.Token)
	require.NoError(t, err)
	assert.Empty(t, trail, "old trail is gone with the purge")

	// The purge itself is on the ledger.
	n, err := s.CountAuditAction(ctx, types.SubjectSession, sessionKey(sess.Token), "purged")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeCandidates_OpenTicketBlocksPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "user-1", "", "", "", time.Hour)
	require.NoError(t, err)
	_, err = s.CreateTicket(ctx, sess.Token, types.ReasonUserRequest, types.PriorityHigh, "", "T")
	require.NoError(t, err)
	_, err = s.TerminateSession(ctx, sess.Token, types.StatusEscalated, "user_request", time.Hour)
	require.NoError(t, err)

	candidates, err := s.PurgeCandidates(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates, "open ticket blocks the purge")
}

func TestSchemaVersionRecorded(t *testing.T) {
	s := newTestStore(t)
	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)
}
