// Package store provides SQLite-backed persistence for the troubleshooting
// core: sessions, messages, knowledge documents and chunks, escalation
// tickets, and the append-only audit ledger.
//
// There is no package-level mutex guarding session traffic. Per-session
// linearizability comes from conditional UPDATEs (status guards plus an
// optimistic version column); SQLite's WAL mode serializes the physical
// writes underneath.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fixwise/internal/logging"
)

// Store owns the database handle. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (creating if needed) the SQLite database at path and brings the
// schema up to CurrentSchemaVersion.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Infow("store opened", "path", path)
	return s, nil
}

// dsn builds the connection string. Pragmas ride in the DSN so every pooled
// connection gets them; a PRAGMA run through Exec only reaches whichever
// connection the pool happened to hand out for that one statement.
// _txlock=immediate makes transactions take the write lock at BEGIN, so a
// racing writer waits inside busy_timeout instead of failing its first
// statement with SQLITE_BUSY.
func dsn(path string) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
}

// initialize creates the schema.
func (s *Store) initialize() error {
	sessionTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		machine_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_activity_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		terminate_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(status, last_activity_at);
	`

	messageTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL REFERENCES sessions(key) ON DELETE CASCADE,
		sender TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		is_encrypted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key);
	`

	knowledgeTables := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'en',
		version INTEGER NOT NULL DEFAULT 1,
		machine_tags TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '[]',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(title);
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		UNIQUE(document_id, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	`

	ticketTables := `
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL REFERENCES sessions(key),
		number TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		expert_contact TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_one_open
		ON tickets(session_key) WHERE status IN ('open', 'assigned');
	CREATE TABLE IF NOT EXISTS ticket_counter (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO ticket_counter (id, value) VALUES (1, 0);
	`

	auditTables := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		session_key TEXT NOT NULL DEFAULT '',
		session_seq INTEGER NOT NULL DEFAULT 0,
		ts TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject, subject_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_session_seq
		ON audit_log(session_key, session_seq) WHERE session_key != '';
	CREATE TABLE IF NOT EXISTS consents (
		user_id TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		accepted_at TEXT NOT NULL,
		PRIMARY KEY (user_id, policy_version)
	);
	CREATE TABLE IF NOT EXISTS retention_markers (
		session_key TEXT PRIMARY KEY REFERENCES sessions(key) ON DELETE CASCADE,
		retention_expires_at TEXT NOT NULL,
		legal_hold INTEGER NOT NULL DEFAULT 0
	);
	`

	for _, ddl := range []string{sessionTable, messageTable, knowledgeTables, ticketTables, auditTables} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats returns row counts per table for the status surface.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	tables := []string{"sessions", "messages", "documents", "chunks", "tickets", "audit_log", "consents", "retention_markers"}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// =============================================================================
// TIME SERIALIZATION
// =============================================================================

// Timestamps are stored as RFC3339Nano UTC text so a write/read cycle
// reproduces every field exactly, independent of driver datetime handling.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", raw, err)
	}
	return t, nil
}
