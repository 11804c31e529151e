// Package approval implements the human-in-the-loop side of permission
// governance: accept/deny of pending permission requests and
// verification of batched agent commits.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/store"
)

// AuditAppender receives the single audit event each transition emits.
type AuditAppender interface {
	Append(event core.AuditEvent) error
}

// ErrElevationDenied marks an operation whose permission request a human
// explicitly denied. Terminal; the caller must re-request if
// circumstances change.
var ErrElevationDenied = errors.New("permission request denied")

// Workflow transitions permission requests out of the pending set.
type Workflow struct {
	requests   store.RequestStore
	operations store.OperationStore
	audit      AuditAppender
	logger     zerolog.Logger
}

// NewWorkflow creates an approval workflow.
func NewWorkflow(requests store.RequestStore, operations store.OperationStore, audit AuditAppender, logger zerolog.Logger) *Workflow {
	return &Workflow{
		requests:   requests,
		operations: operations,
		audit:      audit,
		logger:     logger,
	}
}

// Approve transitions a pending request to approved. It returns false
// when the request is not in the pending set — acting twice on the same
// request is a no-op that emits no new audit event.
func (w *Workflow) Approve(requestID, approver string) (bool, error) {
	return w.resolve(requestID, approver, core.RequestApproved, core.OperationApproved, core.AuditRequestApproved)
}

// Deny transitions a pending request to denied. Denial is terminal: the
// original operation must not proceed and is never retried
// automatically.
func (w *Workflow) Deny(requestID, approver string) (bool, error) {
	return w.resolve(requestID, approver, core.RequestDenied, core.OperationDenied, core.AuditRequestDenied)
}

func (w *Workflow) resolve(requestID, approver string, status core.RequestStatus, opStatus core.OperationStatus, eventType core.AuditEventType) (bool, error) {
	req, err := w.requests.Get(requestID)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, fmt.Errorf("request not found: %s", requestID)
	}

	now := time.Now().UTC()
	ok, err := w.requests.Resolve(requestID, status, approver, now)
	if err != nil {
		return false, err
	}
	if !ok {
		// Already resolved: no transition, no audit event.
		w.logger.Debug().Str("request_id", requestID).Msg("request not in pending set")
		return false, nil
	}

	if err := w.operations.SetStatus(requestID, opStatus, approver); err != nil {
		w.reinstate(requestID, status, false)
		return false, err
	}

	if err := w.audit.Append(core.AuditEvent{
		Timestamp: now,
		EventType: eventType,
		Actor:     core.Actor{Type: core.ActorHuman, Identity: approver},
		Operation: core.OperationRef{Action: req.Action},
		Result:    core.Result{Success: true},
		RequestID: requestID,
		RiskTier:  req.RiskTier,
		Detail:    fmt.Sprintf(`{"resource":%q}`, req.Resource),
	}); err != nil {
		// An unaudited transition must not survive: revert the rows so
		// the request is still pending and can be re-resolved.
		w.reinstate(requestID, status, true)
		return false, err
	}

	return true, nil
}

// reinstate compensates a half-applied transition by putting the request
// (and, when it was already updated, the operation row) back in the
// pending set. Failures here are logged, not returned — the caller is
// already propagating the original error.
func (w *Workflow) reinstate(requestID string, from core.RequestStatus, revertOperation bool) {
	if revertOperation {
		if err := w.operations.SetStatus(requestID, core.OperationPending, ""); err != nil {
			w.logger.Error().Err(err).Str("request_id", requestID).Msg("reverting operation status failed")
		}
	}
	if _, err := w.requests.Reinstate(requestID, from); err != nil {
		w.logger.Error().Err(err).Str("request_id", requestID).Msg("reinstating request failed")
	}
}

// Pending lists requests awaiting decision, newest first.
func (w *Workflow) Pending() ([]core.PermissionRequest, error) {
	return w.requests.List(core.RequestPending)
}
