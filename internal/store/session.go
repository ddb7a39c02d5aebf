package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"fixwise/internal/logging"
	"fixwise/internal/types"
)

// sessionKeyPrefix namespaces session rows so administrative tooling can
// enumerate them with one prefix scan.
const sessionKeyPrefix = "sess:"

func sessionKey(token types.SessionToken) string {
	return sessionKeyPrefix + string(token)
}

// SessionSubjectID is the audit subject id for a session: its namespaced
// storage key. Audit reconciliation joins on this, so every session-subject
// entry must use it.
func SessionSubjectID(token types.SessionToken) string {
	return sessionKey(token)
}

// newSessionToken returns a 256-bit crypto-random bearer token.
func newSessionToken() (types.SessionToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return types.SessionToken(hex.EncodeToString(buf)), nil
}

// =============================================================================
// SESSION CRUD
// =============================================================================

// CreateSession creates a new active session with a fresh token. The caller
// supplies the TTL; expiry slides on every touch.
func (s *Store) CreateSession(ctx context.Context, user types.UserID, machineID, ip, agent string, ttl time.Duration) (*types.Session, error) {
	if user == "" {
		return nil, types.Validationf("user id is required")
	}
	if ttl <= 0 {
		return nil, types.Validationf("ttl must be positive")
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &types.Session{
		Token:          token,
		UserID:         user,
		MachineID:      machineID,
		Status:         types.StatusActive,
		IP:             ip,
		UserAgent:      agent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
		Version:        1,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, user_id, machine_id, status, ip, user_agent, created_at, last_activity_at, expires_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		sessionKey(token), user.String(), machineID, string(sess.Status), ip, agent,
		fmtTime(sess.CreatedAt), fmtTime(sess.LastActivityAt), fmtTime(sess.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", types.ErrStorageUnavailable)
	}

	logging.WithSession(logging.CategorySession, string(token)).Debugw("session created", "user", user.String())
	return sess, nil
}

// GetSession loads a session by token. A missing or expired session is
// types.ErrNotFound; the state machine treats both as "session expired".
// Terminal sessions are hidden too once their expires_at passes; their data
// stays governed by the retention marker and the purge sweep, which read the
// table directly.
func (s *Store) GetSession(ctx context.Context, token types.SessionToken) (*types.Session, error) {
	sess, err := s.scanSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, types.NotFoundf("session expired")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM messages WHERE session_key = ? ORDER BY rowid`, sessionKey(token))
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sess.MessageIDs = append(sess.MessageIDs, id)
	}
	return sess, rows.Err()
}

func (s *Store) scanSession(ctx context.Context, token types.SessionToken) (*types.Session, error) {
	var (
		sess                          types.Session
		userID, status                string
		createdAt, activityAt, expiry string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, machine_id, status, ip, user_agent, created_at, last_activity_at, expires_at, version
		 FROM sessions WHERE key = ?`, sessionKey(token),
	).Scan(&userID, &sess.MachineID, &status, &sess.IP, &sess.UserAgent, &createdAt, &activityAt, &expiry, &sess.Version)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", types.ErrStorageUnavailable)
	}

	sess.Token = token
	sess.UserID = types.NewUserID(userID)
	sess.Status = types.SessionStatus(status)
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.LastActivityAt, err = parseTime(activityAt); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseTime(expiry); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListActiveSessions returns the user's unexpired active sessions, newest
// activity first.
func (s *Store) ListActiveSessions(ctx context.Context, user types.UserID) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM sessions
		 WHERE user_id = ? AND status = ? AND expires_at > ?
		 ORDER BY last_activity_at DESC`,
		user.String(), string(types.StatusActive), fmtTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", types.ErrStorageUnavailable)
	}

	// Drain the cursor before loading sessions: GetSession runs its own
	// queries, and issuing them while rows still holds a connection
	// deadlocks on a bounded pool.
	var tokens []types.SessionToken
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		tokens = append(tokens, types.SessionToken(key[len(sessionKeyPrefix):]))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	sessions := make([]*types.Session, 0, len(tokens))
	for _, token := range tokens {
		sess, err := s.GetSession(ctx, token)
		if err != nil {
			// Raced a terminate or expiry between the scan and the load.
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// TouchSession refreshes last_activity_at and slides the expiry window.
// The status guard in the WHERE clause makes a touch racing a terminate
// lose cleanly: a terminated session is never resurrected.
func (s *Store) TouchSession(ctx context.Context, token types.SessionToken, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET last_activity_at = ?, expires_at = ?, version = version + 1
		 WHERE key = ? AND status = ? AND expires_at > ?`,
		fmtTime(now), fmtTime(now.Add(ttl)), sessionKey(token), string(types.StatusActive), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", types.ErrStorageUnavailable)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	sess, err := s.scanSession(ctx, token)
	if err != nil {
		return err // missing -> NotFound
	}
	if sess.Status.IsTerminal() {
		return types.Conflictf("session is %s", sess.Status)
	}
	return types.NotFoundf("session expired")
}

// TerminateSession moves an active session to the given terminal status.
// It is idempotent: terminating into the status the session already holds is
// a no-op reporting changed=false, so the caller writes exactly one audit
// entry per real transition. The retention window is computed here so every
// terminal transition carries its retention_expires_at atomically.
func (s *Store) TerminateSession(ctx context.Context, token types.SessionToken, status types.SessionStatus, reason string, retentionWindow time.Duration) (changed bool, err error) {
	if !status.IsTerminal() {
		return false, types.Validationf("status %q is not terminal", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin terminate: %w", types.ErrStorageUnavailable)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, terminate_reason = ?, last_activity_at = ?, version = version + 1
		 WHERE key = ? AND status = ?`,
		string(status), reason, fmtTime(now), sessionKey(token), string(types.StatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", types.ErrStorageUnavailable)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE key = ?`, sessionKey(token)).Scan(&current)
		if err == sql.ErrNoRows {
			return false, types.NotFoundf("session")
		}
		if err != nil {
			return false, fmt.Errorf("failed to read session status: %w", types.ErrStorageUnavailable)
		}
		if types.SessionStatus(current) == status {
			return false, nil // already there, idempotent
		}
		return false, types.Conflictf("session is %s", current)
	}

	// Terminal transition: retention expiry must never be left unset.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO retention_markers (session_key, retention_expires_at)
		 VALUES (?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET retention_expires_at = excluded.retention_expires_at`,
		sessionKey(token), fmtTime(now.Add(retentionWindow)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set retention marker: %w", types.ErrStorageUnavailable)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit terminate: %w", types.ErrStorageUnavailable)
	}

	logging.WithSession(logging.CategorySession, string(token)).Infow("session terminated",
		"status", string(status), "reason", reason)
	return true, nil
}

// IdleActiveSessions returns active sessions with no activity since cutoff.
// Used by the idle reaper; expired sessions are included so they get their
// terminal transition and retention marker too.
func (s *Store) IdleActiveSessions(ctx context.Context, cutoff time.Time) ([]types.SessionToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM sessions WHERE status = ? AND last_activity_at < ?`,
		string(types.StatusActive), fmtTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()

	var tokens []types.SessionToken
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		tokens = append(tokens, types.SessionToken(key[len(sessionKeyPrefix):]))
	}
	return tokens, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage persists a message. Messages are immutable; there is no
// update path.
func (s *Store) AppendMessage(ctx context.Context, msg *types.Message) error {
	if !msg.Sender.IsValid() {
		return types.Validationf("invalid sender %q", msg.Sender)
	}
	if !msg.Type.IsValid() {
		return types.Validationf("invalid message type %q", msg.Type)
	}
	if msg.ID == "" || msg.SessionToken == "" {
		return types.Validationf("message id and session token are required")
	}

	encrypted := 0
	if msg.IsEncrypted {
		encrypted = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_key, sender, type, content, is_encrypted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionKey(msg.SessionToken), string(msg.Sender), string(msg.Type),
		msg.Content, encrypted, fmtTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", types.ErrStorageUnavailable)
	}
	return nil
}

// Messages returns a session's messages in append order.
func (s *Store) Messages(ctx context.Context, token types.SessionToken) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, type, content, is_encrypted, created_at
		 FROM messages WHERE session_key = ? ORDER BY rowid`,
		sessionKey(token),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", types.ErrStorageUnavailable)
	}
	defer rows.Close()

	var msgs []*types.Message
	for rows.Next() {
		var (
			msg              types.Message
			sender, mtype    string
			encrypted        int
			createdAt        string
		)
		if err := rows.Scan(&msg.ID, &sender, &mtype, &msg.Content, &encrypted, &createdAt); err != nil {
			return nil, err
		}
		msg.SessionToken = token
		msg.Sender = types.MessageSender(sender)
		msg.Type = types.MessageType(mtype)
		msg.IsEncrypted = encrypted != 0
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
