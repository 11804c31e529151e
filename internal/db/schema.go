// Package db provides SQLite database management for no-wing.
// Two databases per data directory: no-wing.db (working state) and
// no-wing-audit.db (append-only audit log).
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StateDBFile = "no-wing.db"
	AuditDBFile = "no-wing-audit.db"
)

// StateSchema defines the mutable working-state tables. PermissionRequest
// and OperationLog rows are derived state; the audit log remains the
// ground truth.
const StateSchema = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

-- Permission requests awaiting or past human decision
CREATE TABLE IF NOT EXISTS permission_requests (
    request_id        TEXT PRIMARY KEY,
    action            TEXT NOT NULL,
    resource          TEXT NOT NULL,
    justification     TEXT DEFAULT '',
    risk_tier         TEXT NOT NULL,
    requires_approval INTEGER NOT NULL DEFAULT 1,
    status            TEXT NOT NULL DEFAULT 'pending',
    approver          TEXT DEFAULT '',
    created_at        TEXT NOT NULL,
    resolved_at       TEXT
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON permission_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_created ON permission_requests(created_at);

-- Operation log: one row tracks a single governed operation end to end
CREATE TABLE IF NOT EXISTS operation_log (
    request_id        TEXT PRIMARY KEY REFERENCES permission_requests(request_id),
    action            TEXT NOT NULL,
    resource          TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    approver          TEXT DEFAULT '',
    started_at        TEXT NOT NULL,
    duration_ms       INTEGER,
    error_message     TEXT DEFAULT '',
    rollback_required INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_oplog_status ON operation_log(status);

-- Assumed-role session cache (public key ID only; secrets live in vault)
CREATE TABLE IF NOT EXISTS sessions (
    role_id       TEXT PRIMARY KEY,
    session_name  TEXT NOT NULL,
    access_key_id TEXT DEFAULT '',
    vault_key_ref TEXT DEFAULT '',
    assumed_at    TEXT NOT NULL,
    expiration    TEXT NOT NULL,
    source_actor  TEXT NOT NULL DEFAULT 'agent'
);

-- Agent commits awaiting human verification, grouped per feature branch
CREATE TABLE IF NOT EXISTS commits (
    sha          TEXT PRIMARY KEY,
    branch       TEXT NOT NULL,
    message      TEXT DEFAULT '',
    author       TEXT NOT NULL,
    recorded_at  TEXT NOT NULL,
    verified     INTEGER DEFAULT 0,
    verified_by  TEXT DEFAULT '',
    verified_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch);
CREATE INDEX IF NOT EXISTS idx_commits_unverified ON commits(branch, verified);
`

// AuditSchema defines the append-only audit log table.
const AuditSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS audit_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp      TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    actor_type     TEXT NOT NULL,
    actor_identity TEXT NOT NULL,
    service        TEXT DEFAULT '',
    action         TEXT DEFAULT '',
    success        INTEGER NOT NULL DEFAULT 1,
    error_message  TEXT DEFAULT '',
    request_id     TEXT DEFAULT '',
    risk_tier      TEXT DEFAULT '',
    detail         TEXT DEFAULT '{}',
    record_hash    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_log(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_log(request_id);
`

// OpenStateDB opens or creates the working-state database.
func OpenStateDB(dataDir string) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, StateDBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	if _, err := db.Exec(StateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state schema: %w", err)
	}

	return db, nil
}

// OpenAuditDB opens or creates the append-only audit database.
func OpenAuditDB(dataDir string) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, AuditDBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	if _, err := db.Exec(AuditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}

	return db, nil
}

// EnsureDataDir creates the no-wing data directory with restrictive
// permissions.
func EnsureDataDir(path string) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	return nil
}
