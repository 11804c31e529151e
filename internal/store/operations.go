package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// OperationStore is the persistence boundary for operation log rows.
type OperationStore interface {
	Create(op core.OperationLog) error
	Get(requestID string) (*core.OperationLog, error)
	List(status core.OperationStatus) ([]core.OperationLog, error)
	SetStatus(requestID string, status core.OperationStatus, approver string) error
	// Complete records the terminal outcome of an executed operation.
	Complete(requestID string, status core.OperationStatus, durationMs int64, errorMessage string, rollbackRequired bool) error
}

// SQLOperationStore implements OperationStore over the state database.
type SQLOperationStore struct {
	db *sql.DB
}

func NewSQLOperationStore(db *sql.DB) *SQLOperationStore {
	return &SQLOperationStore{db: db}
}

func (s *SQLOperationStore) Create(op core.OperationLog) error {
	rollback := 0
	if op.RollbackRequired {
		rollback = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO operation_log (request_id, action, resource, status, approver, started_at, duration_ms, error_message, rollback_required)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.RequestID, op.Action, op.Resource, string(op.Status), op.Approver,
		op.StartedAt.UTC().Format(time.RFC3339), op.DurationMs, op.ErrorMessage, rollback,
	)
	if err != nil {
		return fmt.Errorf("inserting operation log: %w", err)
	}
	return nil
}

func (s *SQLOperationStore) Get(requestID string) (*core.OperationLog, error) {
	row := s.db.QueryRow(
		`SELECT request_id, action, resource, status, approver, started_at, duration_ms, error_message, rollback_required
		 FROM operation_log WHERE request_id = ?`,
		requestID,
	)
	op, err := scanOperation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying operation log: %w", err)
	}
	return op, nil
}

func (s *SQLOperationStore) List(status core.OperationStatus) ([]core.OperationLog, error) {
	query := `SELECT request_id, action, resource, status, approver, started_at, duration_ms, error_message, rollback_required
	          FROM operation_log`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying operation log: %w", err)
	}
	defer rows.Close()

	var ops []core.OperationLog
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operation log: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func (s *SQLOperationStore) SetStatus(requestID string, status core.OperationStatus, approver string) error {
	_, err := s.db.Exec(
		"UPDATE operation_log SET status = ?, approver = ? WHERE request_id = ?",
		string(status), approver, requestID,
	)
	if err != nil {
		return fmt.Errorf("updating operation status: %w", err)
	}
	return nil
}

func (s *SQLOperationStore) Complete(requestID string, status core.OperationStatus, durationMs int64, errorMessage string, rollbackRequired bool) error {
	rollback := 0
	if rollbackRequired {
		rollback = 1
	}
	_, err := s.db.Exec(
		`UPDATE operation_log SET status = ?, duration_ms = ?, error_message = ?, rollback_required = ?
		 WHERE request_id = ?`,
		string(status), durationMs, errorMessage, rollback, requestID,
	)
	if err != nil {
		return fmt.Errorf("completing operation: %w", err)
	}
	return nil
}

func scanOperation(row rowScanner) (*core.OperationLog, error) {
	var op core.OperationLog
	var startedAt string
	var durationMs sql.NullInt64
	var rollback int

	err := row.Scan(
		&op.RequestID, &op.Action, &op.Resource, &op.Status, &op.Approver,
		&startedAt, &durationMs, &op.ErrorMessage, &rollback,
	)
	if err != nil {
		return nil, err
	}

	op.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if durationMs.Valid {
		op.DurationMs = &durationMs.Int64
	}
	op.RollbackRequired = rollback != 0
	return &op, nil
}
