package types

import "context"

// =============================================================================
// PORTS - External collaborators and cross-package seams
// =============================================================================

// Notifier is the outbound notification port. An implementation hands the
// request to a mail or paging collaborator. A nil error means the request
// was accepted for delivery, not that delivery happened.
type Notifier interface {
	Notify(ctx context.Context, ticket Ticket, channel string, recipients []string) error
}

// AuditEvent is the caller-facing shape of one audit record. SessionToken is
// optional; when set, the ledger orders the entry within that session's trail.
type AuditEvent struct {
	Subject      AuditSubject
	SubjectID    string
	Action       string
	Actor        string
	SessionToken SessionToken
	Details      map[string]any
}

// Recorder is the audit port used by the state machine and the escalation
// workflow. Record is fire-and-forget from the caller's point of view: the
// implementation must never silently drop an entry, but it also must never
// fail a user-visible turn.
type Recorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// NopRecorder discards audit entries. Test seam only.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, AuditEvent) {}

// NopNotifier accepts every notification request. Test seam only.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Ticket, string, []string) error { return nil }
