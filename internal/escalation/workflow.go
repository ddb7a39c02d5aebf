// Package escalation creates and advances human-handoff tickets. It owns the
// only path that moves a session to escalated and the only path that closes a
// ticket once opened.
package escalation

import (
	"context"

	"fixwise/internal/config"
	"fixwise/internal/logging"
	"fixwise/internal/store"
	"fixwise/internal/types"
)

// =============================================================================
// WORKFLOW
// =============================================================================

// Result is the caller-facing outcome of an escalation. EmailSent reports
// whether the notification request was accepted by the notifier, not whether
// anything was delivered.
type Result struct {
	Ticket    *types.Ticket `json:"ticket"`
	EmailSent bool          `json:"email_sent"`
}

// Workflow wires the ticket store to the notification port and the audit
// ledger.
type Workflow struct {
	store     *store.Store
	notifier  types.Notifier
	recorder  types.Recorder
	cfg       config.EscalationConfig
	retention config.RetentionConfig
}

// NewWorkflow creates the escalation workflow. A nil notifier or recorder is
// replaced with its no-op counterpart.
func NewWorkflow(st *store.Store, notifier types.Notifier, recorder types.Recorder, cfg config.EscalationConfig, retention config.RetentionConfig) *Workflow {
	if notifier == nil {
		notifier = types.NopNotifier{}
	}
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	return &Workflow{
		store:     st,
		notifier:  notifier,
		recorder:  recorder,
		cfg:       cfg,
		retention: retention,
	}
}

// Escalate hands the session to a human. Preconditions: the session exists
// and is not in a terminal state. The ticket is persisted before the session
// transition, so a crash between the two leaves an open ticket that the
// reconciliation sweep can pair with the session; a duplicate request races
// on the one-open-ticket constraint and loses with a Conflict.
//
// Unlike retrieval and audit, escalation failures are returned to the caller:
// the user needs to know whether a human was actually engaged.
func (w *Workflow) Escalate(ctx context.Context, token types.SessionToken, reason types.EscalationReason, priority types.TicketPriority, notes string) (*Result, error) {
	log := logging.WithSession(logging.CategoryEscalation, string(token))

	if !reason.IsValid() {
		return nil, types.Validationf("invalid escalation reason %q", reason)
	}
	if !priority.IsValid() {
		return nil, types.Validationf("invalid ticket priority %q", priority)
	}

	sess, err := w.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, types.Conflictf("session is %s and cannot be escalated", sess.Status)
	}

	ticket, err := w.store.CreateTicket(ctx, token, reason, priority, notes, w.cfg.NumberPrefix)
	if err != nil {
		return nil, err
	}
	w.recorder.Record(ctx, types.AuditEvent{
		Subject:      types.SubjectTicket,
		SubjectID:    ticket.ID,
		Action:       "created",
		Actor:        string(sess.UserID),
		SessionToken: token,
		Details: map[string]any{
			"number":   ticket.Number,
			"reason":   string(reason),
			"priority": string(priority),
		},
	})

	changed, err := w.store.TerminateSession(ctx, token, types.StatusEscalated, string(reason),
		w.retention.WindowFor(string(types.StatusEscalated)))
	if err != nil {
		return nil, err
	}
	if changed {
		w.recorder.Record(ctx, types.AuditEvent{
			Subject:      types.SubjectSession,
			SubjectID:    store.SessionSubjectID(token),
			Action:       "status_escalated",
			Actor:        string(sess.UserID),
			SessionToken: token,
			Details:      map[string]any{"reason": string(reason)},
		})
	}

	emailSent := true
	if err := w.notifier.Notify(ctx, *ticket, w.cfg.Channel, w.cfg.Recipients); err != nil {
		emailSent = false
		log.Warnw("notification request rejected",
			"ticket", ticket.Number, "channel", w.cfg.Channel, "err", err)
	}
	w.recorder.Record(ctx, types.AuditEvent{
		Subject:      types.SubjectTicket,
		SubjectID:    ticket.ID,
		Action:       "notification_requested",
		Actor:        "escalation-workflow",
		SessionToken: token,
		Details:      map[string]any{"channel": w.cfg.Channel, "accepted": emailSent},
	})

	log.Infow("session escalated",
		"ticket", ticket.Number, "reason", reason, "priority", priority, "email_sent", emailSent)
	return &Result{Ticket: ticket, EmailSent: emailSent}, nil
}

// Assign moves an open ticket to assigned and records the expert contact.
func (w *Workflow) Assign(ctx context.Context, ticketID, expertContact string) (*types.Ticket, error) {
	if expertContact == "" {
		return nil, types.Validationf("expert contact is required")
	}
	return w.advance(ctx, ticketID, types.TicketAssigned, expertContact)
}

// Resolve marks the ticket resolved.
func (w *Workflow) Resolve(ctx context.Context, ticketID string) (*types.Ticket, error) {
	return w.advance(ctx, ticketID, types.TicketResolved, "")
}

// Close closes the ticket. A closed ticket no longer blocks a new escalation
// of its session, should the session somehow be reopened upstream.
func (w *Workflow) Close(ctx context.Context, ticketID string) (*types.Ticket, error) {
	return w.advance(ctx, ticketID, types.TicketClosed, "")
}

func (w *Workflow) advance(ctx context.Context, ticketID string, status types.TicketStatus, expertContact string) (*types.Ticket, error) {
	ticket, err := w.store.UpdateTicketStatus(ctx, ticketID, status, expertContact)
	if err != nil {
		return nil, err
	}
	w.recorder.Record(ctx, types.AuditEvent{
		Subject:   types.SubjectTicket,
		SubjectID: ticket.ID,
		Action:    "status_" + string(status),
		Actor:     "escalation-workflow",
		Details:   map[string]any{"number": ticket.Number},
	})
	logging.Get(logging.CategoryEscalation).Infow("ticket advanced",
		"ticket", ticket.Number, "status", status)
	return ticket, nil
}
