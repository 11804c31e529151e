// Package store persists the mutable working state of the governance
// subsystem: permission requests and operation log rows, keyed by request
// ID. Both are derived state — the audit log remains the ground truth —
// but are kept denormalized for fast querying.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// RequestStore is the persistence boundary for permission requests.
type RequestStore interface {
	Create(req core.PermissionRequest) error
	Get(requestID string) (*core.PermissionRequest, error)
	List(status core.RequestStatus) ([]core.PermissionRequest, error)
	// Resolve transitions a request out of pending. It returns false
	// when the request is not in the pending set — already resolved or
	// unknown — making terminal transitions idempotent-safe.
	Resolve(requestID string, status core.RequestStatus, approver string, at time.Time) (bool, error)
	// Reinstate reverts a request from the given terminal status back to
	// pending. Used to compensate a transition whose audit event could
	// not be written; guarded by WHERE status so it never clobbers a
	// concurrent resolution to a different state.
	Reinstate(requestID string, from core.RequestStatus) (bool, error)
	// ExpirePending resolves every pending request created before the
	// cutoff to expired, returning the requests it aged out.
	ExpirePending(cutoff time.Time) ([]core.PermissionRequest, error)
	Statistics() (core.RequestStatistics, error)
}

// SQLRequestStore implements RequestStore over the state database.
type SQLRequestStore struct {
	db *sql.DB
}

func NewSQLRequestStore(db *sql.DB) *SQLRequestStore {
	return &SQLRequestStore{db: db}
}

func (s *SQLRequestStore) Create(req core.PermissionRequest) error {
	requiresApproval := 0
	if req.RequiresApproval {
		requiresApproval = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO permission_requests (request_id, action, resource, justification, risk_tier, requires_approval, status, approver, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RequestID, req.Action, req.Resource, req.Justification,
		string(req.RiskTier), requiresApproval, string(req.Status), req.Approver,
		req.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting permission request: %w", err)
	}
	return nil
}

func (s *SQLRequestStore) Get(requestID string) (*core.PermissionRequest, error) {
	row := s.db.QueryRow(
		`SELECT request_id, action, resource, justification, risk_tier, requires_approval, status, approver, created_at, resolved_at
		 FROM permission_requests WHERE request_id = ?`,
		requestID,
	)
	req, err := scanRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying permission request: %w", err)
	}
	return req, nil
}

func (s *SQLRequestStore) List(status core.RequestStatus) ([]core.PermissionRequest, error) {
	query := `SELECT request_id, action, resource, justification, risk_tier, requires_approval, status, approver, created_at, resolved_at
	          FROM permission_requests`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying permission requests: %w", err)
	}
	defer rows.Close()

	var requests []core.PermissionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning permission request: %w", err)
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func (s *SQLRequestStore) Resolve(requestID string, status core.RequestStatus, approver string, at time.Time) (bool, error) {
	// The WHERE status='pending' guard makes the transition atomic:
	// two racing resolvers cannot both succeed.
	result, err := s.db.Exec(
		`UPDATE permission_requests SET status = ?, approver = ?, resolved_at = ?
		 WHERE request_id = ? AND status = ?`,
		string(status), approver, at.UTC().Format(time.RFC3339),
		requestID, string(core.RequestPending),
	)
	if err != nil {
		return false, fmt.Errorf("resolving permission request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking resolution: %w", err)
	}
	return n == 1, nil
}

func (s *SQLRequestStore) Reinstate(requestID string, from core.RequestStatus) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE permission_requests SET status = ?, approver = '', resolved_at = NULL
		 WHERE request_id = ? AND status = ?`,
		string(core.RequestPending), requestID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("reinstating permission request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking reinstatement: %w", err)
	}
	return n == 1, nil
}

func (s *SQLRequestStore) ExpirePending(cutoff time.Time) ([]core.PermissionRequest, error) {
	rows, err := s.db.Query(
		`SELECT request_id, action, resource, justification, risk_tier, requires_approval, status, approver, created_at, resolved_at
		 FROM permission_requests WHERE status = ? AND created_at < ?`,
		string(core.RequestPending), cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("querying stale requests: %w", err)
	}
	defer rows.Close()

	var stale []core.PermissionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale request: %w", err)
		}
		stale = append(stale, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expired []core.PermissionRequest
	for _, req := range stale {
		ok, err := s.Resolve(req.RequestID, core.RequestExpired, "", now)
		if err != nil {
			return expired, err
		}
		if ok {
			req.Status = core.RequestExpired
			req.ResolvedAt = &now
			expired = append(expired, req)
		}
	}
	return expired, nil
}

func (s *SQLRequestStore) Statistics() (core.RequestStatistics, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM permission_requests GROUP BY status")
	if err != nil {
		return core.RequestStatistics{}, fmt.Errorf("aggregating requests: %w", err)
	}
	defer rows.Close()

	var stats core.RequestStatistics
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return core.RequestStatistics{}, fmt.Errorf("scanning aggregate: %w", err)
		}
		stats.Total += count
		switch core.RequestStatus(status) {
		case core.RequestPending:
			stats.Pending = count
		case core.RequestApproved:
			stats.Approved = count
		case core.RequestDenied:
			stats.Denied = count
		case core.RequestExpired:
			stats.Expired = count
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*core.PermissionRequest, error) {
	var req core.PermissionRequest
	var requiresApproval int
	var createdAt string
	var resolvedAt sql.NullString

	err := row.Scan(
		&req.RequestID, &req.Action, &req.Resource, &req.Justification,
		&req.RiskTier, &requiresApproval, &req.Status, &req.Approver,
		&createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	req.RequiresApproval = requiresApproval != 0
	req.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, resolvedAt.String)
		req.ResolvedAt = &t
	}
	return &req, nil
}
