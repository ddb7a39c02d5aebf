// Versioned schema migrations. The base schema is created by initialize();
// this file upgrades databases created by earlier releases in place. Each
// migration is a column addition checked against the live table info, so
// running the set twice is harmless.
package store

import (
	"database/sql"
	"fmt"

	"fixwise/internal/logging"
)

// Schema versions:
// v1: sessions/messages/documents/chunks/tickets/audit_log
// v2: retention_markers.legal_hold, sessions.terminate_reason
// v3: documents.machine_tags split out of tags
const CurrentSchemaVersion = 3

// Migration adds one column to an existing table.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []Migration{
	{"sessions", "terminate_reason", "TEXT NOT NULL DEFAULT ''"},
	{"retention_markers", "legal_hold", "INTEGER NOT NULL DEFAULT 0"},
	{"documents", "machine_tags", "TEXT NOT NULL DEFAULT '[]'"},
}

// RunMigrations applies pending column migrations and records the schema
// version. Fresh databases already carry the full schema and skip through.
func RunMigrations(db *sql.DB) error {
	log := logging.Get(logging.CategoryStore)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) || columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		log.Infow("applied migration", "table", m.Table, "column", m.Column)
		applied++
	}

	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return err
	}

	if applied > 0 {
		log.Infow("migrations complete", "applied", applied, "version", CurrentSchemaVersion)
	}
	return nil
}

// SchemaVersion reads the recorded schema version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
