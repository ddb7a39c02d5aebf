package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fixwise/internal/logging"
	"fixwise/internal/types"
)

// ticketCounterMax is where the 10-digit number format runs out. Hitting it
// is operator territory, not something to paper over.
const ticketCounterMax = 9_999_999_999

// =============================================================================
// ESCALATION TICKETS
// =============================================================================

// CreateTicket allocates the next ticket number and persists the ticket in
// one transaction. The counter bump and the insert commit or roll back
// together, so an insert failure never burns a number silently; numbers from
// rolled-back attempts reappear on the next allocation. Zero-padding makes
// numbers sort lexicographically in creation order.
func (s *Store) CreateTicket(ctx context.Context, token types.SessionToken, reason types.EscalationReason, priority types.TicketPriority, notes, numberPrefix string) (*types.Ticket, error) {
	if !reason.IsValid() {
		return nil, types.Validationf("invalid escalation reason %q", reason)
	}
	if !priority.IsValid() {
		return nil, types.Validationf("invalid priority %q", priority)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ticket create: %w", types.ErrStorageUnavailable)
	}
	defer tx.Rollback()

	var counter int64
	err = tx.QueryRowContext(ctx,
		`UPDATE ticket_counter SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&counter)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ticket number: %w", types.ErrStorageUnavailable)
	}
	if counter > ticketCounterMax {
		return nil, fmt.Errorf("ticket counter exhausted at %d: %w", counter, types.ErrFatal)
	}

	ticket := &types.Ticket{
		ID:           uuid.NewString(),
		SessionToken: token,
		Number:       fmt.Sprintf("%s-%010d", numberPrefix, counter),
		Reason:       reason,
		Priority:     priority,
		Status:       types.TicketOpen,
		Notes:        notes,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tickets (id, session_key, number, reason, priority, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID, sessionKey(token), ticket.Number, string(reason), string(priority),
		string(types.TicketOpen), notes, fmtTime(ticket.CreatedAt),
	)
	if err != nil {
		// The partial unique index on open tickets turns a concurrent double
		// escalation into a constraint violation here.
		if isUniqueViolation(err) {
			return nil, types.Conflictf("session already has an open ticket")
		}
		return nil, fmt.Errorf("failed to insert ticket: %w", types.ErrStorageUnavailable)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ticket: %w", types.ErrStorageUnavailable)
	}

	logging.Get(logging.CategoryEscalation).Infow("ticket created",
		"number", ticket.Number, "reason", string(reason), "priority", string(priority))
	return ticket, nil
}

// Ticket loads one ticket by id.
func (s *Store) Ticket(ctx context.Context, id string) (*types.Ticket, error) {
	return s.scanTicket(s.db.QueryRowContext(ctx,
		`SELECT id, session_key, number, reason, priority, status, notes, expert_contact, created_at
		 FROM tickets WHERE id = ?`, id))
}

// OpenTicketForSession returns the session's open (or assigned) ticket.
func (s *Store) OpenTicketForSession(ctx context.Context, token types.SessionToken) (*types.Ticket, error) {
	return s.scanTicket(s.db.QueryRowContext(ctx,
		`SELECT id, session_key, number, reason, priority, status, notes, expert_contact, created_at
		 FROM tickets WHERE session_key = ? AND status IN ('open', 'assigned')`, sessionKey(token)))
}

func (s *Store) scanTicket(row *sql.Row) (*types.Ticket, error) {
	var (
		t                                 types.Ticket
		key, reason, priority, status     string
		createdAt                         string
	)
	err := row.Scan(&t.ID, &key, &t.Number, &reason, &priority, &status, &t.Notes, &t.ExpertContact, &createdAt)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", types.ErrStorageUnavailable)
	}
	t.SessionToken = types.SessionToken(strings.TrimPrefix(key, sessionKeyPrefix))
	t.Reason = types.EscalationReason(reason)
	t.Priority = types.TicketPriority(priority)
	t.Status = types.TicketStatus(status)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTicketStatus advances a ticket's lifecycle. Transitions only move
// forward: open -> assigned -> resolved -> closed (skips allowed, reversals
// rejected with Conflict).
func (s *Store) UpdateTicketStatus(ctx context.Context, id string, status types.TicketStatus, expertContact string) (*types.Ticket, error) {
	if !status.IsValid() {
		return nil, types.Validationf("invalid ticket status %q", status)
	}

	current, err := s.Ticket(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticketRank(status) <= ticketRank(current.Status) {
		return nil, types.Conflictf("ticket %s is already %s", current.Number, current.Status)
	}

	contact := current.ExpertContact
	if expertContact != "" {
		contact = expertContact
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, expert_contact = ? WHERE id = ? AND status = ?`,
		string(status), contact, id, string(current.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", types.ErrStorageUnavailable)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		// Status moved underneath us; report the fresh state.
		fresh, err := s.Ticket(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, types.Conflictf("ticket %s is already %s", fresh.Number, fresh.Status)
	}

	current.Status = status
	current.ExpertContact = contact
	return current, nil
}

func ticketRank(s types.TicketStatus) int {
	switch s {
	case types.TicketOpen:
		return 0
	case types.TicketAssigned:
		return 1
	case types.TicketResolved:
		return 2
	case types.TicketClosed:
		return 3
	}
	return -1
}

// isUniqueViolation matches SQLite constraint errors without binding to a
// driver-specific error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
