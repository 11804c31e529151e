// Package audit provides the append-only audit event store. Records form
// a SHA-256 hash chain for tamper detection; the event sequence is the
// ground truth for compliance reporting.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// WriteFailure reports that an audit append failed. A dropped audit
// event is a security-relevant failure: the operation that triggered it
// must be treated as not having happened.
type WriteFailure struct {
	Err error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("audit write failed: %v", e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// timestampLayout is fixed-width (nanoseconds always padded) so that
// lexicographic comparison of stored TEXT timestamps is chronological.
// RFC3339Nano drops trailing zeros and would break ORDER BY and window
// filters for same-second events.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Logger writes tamper-evident audit records to the audit database.
type Logger struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
}

// NewLogger creates an audit logger, recovering the hash chain tail from
// any existing records.
func NewLogger(db *sql.DB) (*Logger, error) {
	l := &Logger{db: db}

	var lastHash sql.NullString
	err := db.QueryRow("SELECT record_hash FROM audit_log ORDER BY id DESC LIMIT 1").Scan(&lastHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	if lastHash.Valid {
		l.lastHash = lastHash.String
	}

	return l, nil
}

// Append writes one audit event. Appends are serialized so concurrent
// writers cannot interleave into a corrupted entry, and failures always
// propagate as *WriteFailure.
func (l *Logger) Append(event core.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Detail == "" {
		event.Detail = "{}"
	}

	ts := event.Timestamp.UTC().Format(timestampLayout)
	recordHash := chainHash(l.lastHash, ts, string(event.EventType), event.Actor.Identity, event.Detail)

	success := 0
	if event.Result.Success {
		success = 1
	}

	_, err := l.db.Exec(
		`INSERT INTO audit_log (timestamp, event_type, actor_type, actor_identity, service, action, success, error_message, request_id, risk_tier, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		string(event.EventType),
		string(event.Actor.Type),
		event.Actor.Identity,
		event.Operation.Service,
		event.Operation.Action,
		success,
		event.Result.ErrorMessage,
		event.RequestID,
		string(event.RiskTier),
		event.Detail,
		recordHash,
	)
	if err != nil {
		return &WriteFailure{Err: err}
	}

	l.lastHash = recordHash
	return nil
}

// Filter narrows a query. Zero values mean "no restriction"; Limit
// truncates only after filtering and sorting.
type Filter struct {
	EventTypes []core.AuditEventType
	RequestID  string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// Query returns matching events ordered newest-first.
func (l *Logger) Query(filter Filter) ([]core.AuditEvent, error) {
	var conds []string
	var args []any

	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = "?"
			args = append(args, string(et))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.RequestID != "" {
		conds = append(conds, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if filter.Start != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Start.UTC().Format(timestampLayout))
	}
	if filter.End != nil {
		conds = append(conds, "timestamp < ?")
		args = append(args, filter.End.UTC().Format(timestampLayout))
	}

	query := "SELECT id, timestamp, event_type, actor_type, actor_identity, service, action, success, error_message, request_id, risk_tier, detail, record_hash FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Verify checks the integrity of the full audit chain. It returns the
// number of valid records and fails at the first broken link.
func Verify(db *sql.DB) (bool, int, error) {
	rows, err := db.Query(
		"SELECT timestamp, event_type, actor_identity, detail, record_hash FROM audit_log ORDER BY id ASC",
	)
	if err != nil {
		return false, 0, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0

	for rows.Next() {
		var ts, eventType, identity, detail, recordHash string
		if err := rows.Scan(&ts, &eventType, &identity, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning audit row: %w", err)
		}

		if chainHash(previousHash, ts, eventType, identity, detail) != recordHash {
			return false, count, fmt.Errorf("audit chain broken at record %d", count+1)
		}

		previousHash = recordHash
		count++
	}

	return true, count, rows.Err()
}

func chainHash(prev, ts, eventType, identity, detail string) string {
	h := sha256.Sum256([]byte(prev + ts + eventType + identity + detail))
	return hex.EncodeToString(h[:])
}

func scanEvents(rows *sql.Rows) ([]core.AuditEvent, error) {
	var events []core.AuditEvent
	for rows.Next() {
		var e core.AuditEvent
		var ts string
		var success int

		err := rows.Scan(
			&e.ID, &ts, &e.EventType, &e.Actor.Type, &e.Actor.Identity,
			&e.Operation.Service, &e.Operation.Action, &success,
			&e.Result.ErrorMessage, &e.RequestID, &e.RiskTier,
			&e.Detail, &e.RecordHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}

		e.Timestamp, _ = time.Parse(timestampLayout, ts)
		e.Result.Success = success != 0
		events = append(events, e)
	}
	return events, rows.Err()
}
