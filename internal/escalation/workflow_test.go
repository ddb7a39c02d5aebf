package escalation

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixwise/internal/config"
	"fixwise/internal/store"
	"fixwise/internal/types"
)

var ticketNumberPattern = regexp.MustCompile(`^[A-Z0-9-]+$`)

// captureRecorder collects audit events synchronously.
type captureRecorder struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func (r *captureRecorder) Record(_ context.Context, e types.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

// rejectingNotifier refuses every request.
type rejectingNotifier struct{}

func (rejectingNotifier) Notify(context.Context, types.Ticket, string, []string) error {
	return errors.New("smtp relay down")
}

func newTestWorkflow(t *testing.T, notifier types.Notifier, recorder types.Recorder) (*Workflow, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "fixwise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wf := NewWorkflow(st, notifier, recorder,
		config.DefaultEscalationConfig(), config.DefaultRetentionConfig())
	return wf, st
}

func newActiveSession(t *testing.T, st *store.Store) *types.Session {
	t.Helper()
	sess, err := st.CreateSession(context.Background(), "user-1", "machine-9", "", "", time.Hour)
	require.NoError(t, err)
	return sess
}

func TestEscalate_OpensTicketAndTransitionsSession(t *testing.T) {
	rec := &captureRecorder{}
	wf, st := newTestWorkflow(t, nil, rec)
	sess := newActiveSession(t, st)
	ctx := context.Background()

	res, err := wf.Escalate(ctx, sess.Token, types.ReasonUserRequest, types.PriorityHigh, "pump still down")
	require.NoError(t, err)

	assert.Regexp(t, ticketNumberPattern, res.Ticket.Number)
	assert.Equal(t, types.TicketOpen, res.Ticket.Status)
	assert.Equal(t, types.ReasonUserRequest, res.Ticket.Reason)
	assert.Equal(t, types.PriorityHigh, res.Ticket.Priority)
	assert.True(t, res.EmailSent)

	got, err := st.GetSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, types.StatusEscalated, got.Status)

	assert.Equal(t, []string{"created", "status_escalated", "notification_requested"}, rec.actions())
}

func TestEscalate_SecondRequestConflicts(t *testing.T) {
	wf, st := newTestWorkflow(t, nil, types.NopRecorder{})
	sess := newActiveSession(t, st)
	ctx := context.Background()

	_, err := wf.Escalate(ctx, sess.Token, types.ReasonUserRequest, types.PriorityHigh, "")
	require.NoError(t, err)

	_, err = wf.Escalate(ctx, sess.Token, types.ReasonSafety, types.PriorityCritical, "")
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestEscalate_TerminalSessionConflicts(t *testing.T) {
	wf, st := newTestWorkflow(t, nil, types.NopRecorder{})
	sess := newActiveSession(t, st)
	ctx := context.Background()

	_, err := st.TerminateSession(ctx, sess.Token, types.StatusCompleted, "done", time.Hour)
	require.NoError(t, err)

	_, err = wf.Escalate(ctx, sess.Token, types.ReasonUserRequest, types.PriorityLow, "")
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestEscalate_ValidatesInput(t *testing.T) {
	wf, st := newTestWorkflow(t, nil, types.NopRecorder{})
	sess := newActiveSession(t, st)
	ctx := context.Background()

	_, err := wf.Escalate(ctx, sess.Token, "mood", types.PriorityLow, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = wf.Escalate(ctx, sess.Token, types.ReasonSafety, "urgent-ish", "")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = wf.Escalate(ctx, "no-such-token", types.ReasonSafety, types.PriorityLow, "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEscalate_RejectedNotificationIsNotAnError(t *testing.T) {
	wf, st := newTestWorkflow(t, rejectingNotifier{}, types.NopRecorder{})
	sess := newActiveSession(t, st)

	res, err := wf.Escalate(context.Background(), sess.Token, types.ReasonLowConfidence, types.PriorityMedium, "")
	require.NoError(t, err, "the ticket stands even when the notifier refuses")
	assert.False(t, res.EmailSent)
	assert.Equal(t, types.TicketOpen, res.Ticket.Status)
}

func TestTicketLifecycle(t *testing.T) {
	rec := &captureRecorder{}
	wf, st := newTestWorkflow(t, nil, rec)
	sess := newActiveSession(t, st)
	ctx := context.Background()

	res, err := wf.Escalate(ctx, sess.Token, types.ReasonRepeatedFail, types.PriorityHigh, "")
	require.NoError(t, err)
	id := res.Ticket.ID

	_, err = wf.Assign(ctx, id, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	assigned, err := wf.Assign(ctx, id, "expert@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.TicketAssigned, assigned.Status)
	assert.Equal(t, "expert@example.com", assigned.ExpertContact)

	resolved, err := wf.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TicketResolved, resolved.Status)

	// Backwards moves are refused.
	_, err = wf.Assign(ctx, id, "another@example.com")
	assert.ErrorIs(t, err, types.ErrConflict)

	closed, err := wf.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TicketClosed, closed.Status)
	assert.Equal(t, "expert@example.com", closed.ExpertContact, "contact survives the close")

	assert.Contains(t, rec.actions(), "status_assigned")
	assert.Contains(t, rec.actions(), "status_closed")
}
