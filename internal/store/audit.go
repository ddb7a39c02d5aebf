package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fixwise/internal/logging"
	"fixwise/internal/types"
)

func newAuditID() string { return uuid.NewString() }

// =============================================================================
// AUDIT LEDGER (append-only)
// =============================================================================

// AppendAudit persists one audit entry. For entries correlated to a session,
// the per-session sequence number is allocated inside the same transaction as
// the insert, which keeps trails gapless and ordered without trusting
// wall clocks. Entries are never updated; the only delete path is the
// compliance purge.
func (s *Store) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	if !entry.Subject.IsValid() {
		return types.Validationf("invalid audit subject %q", entry.Subject)
	}
	if entry.ID == "" || entry.Action == "" {
		return types.Validationf("audit entry id and action are required")
	}

	details := "{}"
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return types.Validationf("unserializable audit details: %v", err)
		}
		details = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit append: %w", types.ErrStorageUnavailable)
	}
	defer tx.Rollback()

	key := ""
	if entry.SessionToken != "" {
		key = sessionKey(entry.SessionToken)
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(session_seq), 0) + 1 FROM audit_log WHERE session_key = ?`, key,
		).Scan(&entry.SessionSeq)
		if err != nil {
			return fmt.Errorf("failed to allocate audit seq: %w", types.ErrStorageUnavailable)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (id, subject, subject_id, action, actor, session_key, session_seq, ts, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Subject), entry.SubjectID, entry.Action, entry.Actor,
		key, entry.SessionSeq, fmtTime(entry.Timestamp), details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", types.ErrStorageUnavailable)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit entry: %w", types.ErrStorageUnavailable)
	}
	return nil
}

// AuditTrail returns a session's audit entries ordered by sequence number.
func (s *Store) AuditTrail(ctx context.Context, token types.SessionToken) ([]*types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, subject_id, action, actor, session_seq, ts, details
		 FROM audit_log WHERE session_key = ? ORDER BY session_seq`,
		sessionKey(token),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()

	var entries []*types.AuditEntry
	for rows.Next() {
		var (
			e           types.AuditEntry
			subject, ts string
			details     string
		)
		if err := rows.Scan(&e.ID, &subject, &e.SubjectID, &e.Action, &e.Actor, &e.SessionSeq, &ts, &details); err != nil {
			return nil, err
		}
		e.Subject = types.AuditSubject(subject)
		e.SessionToken = token
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("corrupt audit details for %s: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CountAuditAction counts entries for one (subject, subject id, action).
// The sweeps use this both for backfill detection and for exactly-once checks.
func (s *Store) CountAuditAction(ctx context.Context, subject types.AuditSubject, subjectID, action string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE subject = ? AND subject_id = ? AND action = ?`,
		string(subject), subjectID, action,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", types.ErrStorageUnavailable)
	}
	return n, nil
}

// TerminalSessionsMissingAudit finds sessions that reached a terminal state
// without the matching transition audit entry (e.g. a crash between the
// state write and the audit write). The reconciliation sweep backfills these.
func (s *Store) TerminalSessionsMissingAudit(ctx context.Context) (map[types.SessionToken]types.SessionStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, status FROM sessions s
		 WHERE status != 'active'
		   AND NOT EXISTS (
			SELECT 1 FROM audit_log a
			WHERE a.subject = 'session' AND a.subject_id = s.key AND a.action = 'status_' || s.status
		   )`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for missing audit entries: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()

	missing := make(map[types.SessionToken]types.SessionStatus)
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, err
		}
		missing[types.SessionToken(strings.TrimPrefix(key, sessionKeyPrefix))] = types.SessionStatus(status)
	}
	return missing, rows.Err()
}

// =============================================================================
// CONSENT
// =============================================================================

// RecordConsent stores a user's acceptance of a policy version. Re-accepting
// the same version refreshes the timestamp.
func (s *Store) RecordConsent(ctx context.Context, user types.UserID, policyVersion string) (*types.ConsentRecord, error) {
	if user == "" || policyVersion == "" {
		return nil, types.Validationf("user id and policy version are required")
	}
	rec := &types.ConsentRecord{
		UserID:        user,
		PolicyVersion: policyVersion,
		AcceptedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consents (user_id, policy_version, accepted_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, policy_version) DO UPDATE SET accepted_at = excluded.accepted_at`,
		user.String(), policyVersion, fmtTime(rec.AcceptedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record consent: %w", types.ErrStorageUnavailable)
	}
	return rec, nil
}

// LatestConsent returns the user's most recent consent record.
func (s *Store) LatestConsent(ctx context.Context, user types.UserID) (*types.ConsentRecord, error) {
	var rec types.ConsentRecord
	var acceptedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, policy_version, accepted_at FROM consents
		 WHERE user_id = ? ORDER BY accepted_at DESC LIMIT 1`,
		user.String(),
	).Scan((*string)(&rec.UserID), &rec.PolicyVersion, &acceptedAt)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("consent for %s", user)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", types.ErrStorageUnavailable)
	}
	if rec.AcceptedAt, err = parseTime(acceptedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// =============================================================================
// RETENTION
// =============================================================================

// RetentionMarker loads the retention marker for a session.
func (s *Store) RetentionMarker(ctx context.Context, token types.SessionToken) (*types.RetentionMarker, error) {
	var m types.RetentionMarker
	var expiresAt string
	var hold int
	err := s.db.QueryRowContext(ctx,
		`SELECT retention_expires_at, legal_hold FROM retention_markers WHERE session_key = ?`,
		sessionKey(token),
	).Scan(&expiresAt, &hold)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("retention marker")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load retention marker: %w", types.ErrStorageUnavailable)
	}
	m.SessionToken = token
	m.LegalHold = hold != 0
	if m.RetentionExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// SetLegalHold flips the legal-hold flag; held sessions survive the purge.
func (s *Store) SetLegalHold(ctx context.Context, token types.SessionToken, hold bool) error {
	v := 0
	if hold {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE retention_markers SET legal_hold = ? WHERE session_key = ?`, v, sessionKey(token))
	if err != nil {
		return fmt.Errorf("failed to set legal hold: %w", types.ErrStorageUnavailable)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return types.NotFoundf("retention marker")
	}
	return nil
}

// PurgeCandidates returns sessions past their retention expiry with no legal
// hold and no open ticket.
func (s *Store) PurgeCandidates(ctx context.Context, now time.Time) ([]types.SessionToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.session_key FROM retention_markers m
		 WHERE m.retention_expires_at <= ?
		   AND m.legal_hold = 0
		   AND NOT EXISTS (
			SELECT 1 FROM tickets t
			WHERE t.session_key = m.session_key AND t.status IN ('open', 'assigned')
		   )
		 ORDER BY m.session_key`,
		fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list purge candidates: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()

	var tokens []types.SessionToken
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		tokens = append(tokens, types.SessionToken(strings.TrimPrefix(key, sessionKeyPrefix)))
	}
	return tokens, rows.Err()
}

// PurgeSession deletes a session and everything it owns: messages and the
// retention marker (cascade), its tickets, and its audit trail. This is the
// one sanctioned audit-delete path; the purge itself is recorded as a fresh
// ledger entry so the deletion request stays accountable.
func (s *Store) PurgeSession(ctx context.Context, token types.SessionToken, actor string) error {
	key := sessionKey(token)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin purge: %w", types.ErrStorageUnavailable)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE key = ?`, key).Scan(&status)
	if err == sql.ErrNoRows {
		return types.NotFoundf("session")
	}
	if err != nil {
		return fmt.Errorf("failed to read session for purge: %w", types.ErrStorageUnavailable)
	}

	for _, stmt := range []string{
		`DELETE FROM audit_log WHERE session_key = ?`,
		`DELETE FROM tickets WHERE session_key = ?`,
		`DELETE FROM sessions WHERE key = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
			return fmt.Errorf("failed to purge session data: %w", types.ErrStorageUnavailable)
		}
	}

	// The purge record carries no session correlation: the trail it would
	// join was just deleted.
	details, _ := json.Marshal(map[string]any{"closed_status": status})
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (id, subject, subject_id, action, actor, ts, details)
		 VALUES (?, 'session', ?, 'purged', ?, ?, ?)`,
		newAuditID(), key, actor, fmtTime(time.Now()), string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to record purge: %w", types.ErrStorageUnavailable)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", types.ErrStorageUnavailable)
	}

	logging.WithSession(logging.CategorySweep, string(token)).Infow("session purged", "closed_status", status)
	return nil
}
