package role

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// SQLSessionStore persists assumed-role sessions to the state database.
type SQLSessionStore struct {
	db *sql.DB
}

// NewSQLSessionStore creates a session store over an open state database.
func NewSQLSessionStore(db *sql.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db}
}

func (s *SQLSessionStore) Get(roleID string) (*core.AssumedSession, bool, error) {
	var sess core.AssumedSession
	var assumedAt, expiration string

	err := s.db.QueryRow(
		`SELECT role_id, session_name, access_key_id, vault_key_ref, assumed_at, expiration, source_actor
		 FROM sessions WHERE role_id = ?`,
		roleID,
	).Scan(&sess.RoleID, &sess.SessionName, &sess.AccessKeyID, &sess.VaultKeyRef, &assumedAt, &expiration, &sess.SourceActor)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying session: %w", err)
	}

	sess.AssumedAt, _ = time.Parse(time.RFC3339, assumedAt)
	sess.Expiration, _ = time.Parse(time.RFC3339, expiration)
	return &sess, true, nil
}

func (s *SQLSessionStore) Put(session core.AssumedSession) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (role_id, session_name, access_key_id, vault_key_ref, assumed_at, expiration, source_actor)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(role_id) DO UPDATE SET
		   session_name = excluded.session_name,
		   access_key_id = excluded.access_key_id,
		   vault_key_ref = excluded.vault_key_ref,
		   assumed_at = excluded.assumed_at,
		   expiration = excluded.expiration,
		   source_actor = excluded.source_actor`,
		session.RoleID, session.SessionName, session.AccessKeyID, session.VaultKeyRef,
		session.AssumedAt.UTC().Format(time.RFC3339),
		session.Expiration.UTC().Format(time.RFC3339),
		string(session.SourceActor),
	)
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) Delete(roleID string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE role_id = ?", roleID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) List() ([]core.AssumedSession, error) {
	rows, err := s.db.Query(
		`SELECT role_id, session_name, access_key_id, vault_key_ref, assumed_at, expiration, source_actor
		 FROM sessions ORDER BY assumed_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []core.AssumedSession
	for rows.Next() {
		var sess core.AssumedSession
		var assumedAt, expiration string
		if err := rows.Scan(&sess.RoleID, &sess.SessionName, &sess.AccessKeyID, &sess.VaultKeyRef, &assumedAt, &expiration, &sess.SourceActor); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.AssumedAt, _ = time.Parse(time.RFC3339, assumedAt)
		sess.Expiration, _ = time.Parse(time.RFC3339, expiration)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
