// Package elevation decides how an intended operation obtains authority:
// directly under an existing session, by switching role, or by opening a
// permission request for human approval.
package elevation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/risk"
	"github.com/no-wing/no-wing/internal/role"
	"github.com/no-wing/no-wing/internal/store"
)

// AuditAppender receives the audit events the elevator emits.
type AuditAppender interface {
	Append(event core.AuditEvent) error
}

// Result reports how an elevation attempt resolved.
type Result struct {
	Success      bool                   `json:"success"`
	Method       core.ElevationMethod   `json:"method"`
	Message      string                 `json:"message"`
	Alternatives []string               `json:"alternatives,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	RiskTier     core.RiskTier          `json:"risk_tier"`
	Session      *core.AssumedSession   `json:"session,omitempty"`
}

// Elevator composes the role manager, risk classifier, and request store.
type Elevator struct {
	roles      *role.Manager
	classifier *risk.Classifier
	requests   store.RequestStore
	operations store.OperationStore
	audit      AuditAppender
	learned    *LearnedPatterns
	logger     zerolog.Logger
	actor      core.Actor
	pendingTTL time.Duration // 0 disables pending-request expiry
}

// NewElevator creates a permission elevator.
func NewElevator(
	roles *role.Manager,
	classifier *risk.Classifier,
	requests store.RequestStore,
	operations store.OperationStore,
	audit AuditAppender,
	learned *LearnedPatterns,
	logger zerolog.Logger,
	actor core.Actor,
	pendingTTL time.Duration,
) *Elevator {
	return &Elevator{
		roles:      roles,
		classifier: classifier,
		requests:   requests,
		operations: operations,
		audit:      audit,
		learned:    learned,
		logger:     logger,
		actor:      actor,
		pendingTTL: pendingTTL,
	}
}

// ElevatePermissions decides whether the operation can proceed directly,
// requires a role switch, or requires human approval. Risk is always
// classified fresh: the learned-pattern cache is never consulted here.
func (e *Elevator) ElevatePermissions(ctx context.Context, op core.OperationContext) (Result, error) {
	tier := e.classifier.Classify(op.Action, op.Resource)

	if err := e.expireStalePending(); err != nil {
		return Result{}, err
	}

	if tier != core.RiskHigh {
		best, err := e.roles.FindBestRole(ctx, op)
		if err != nil {
			// Discovery failure is recovered locally: fall through to the
			// approval path rather than crashing.
			e.logger.Warn().Err(err).Msg("role discovery failed; requesting approval instead")
		}
		if best != nil {
			reused, err := e.roles.GetActiveSessions()
			if err != nil {
				// A session read failure only affects the direct vs
				// role-switch label; the assumption itself decides access.
				e.logger.Warn().Err(err).Msg("reading active sessions failed; assuming fresh")
			}
			hadSession := false
			for _, s := range reused {
				if s.RoleID == best.RoleID {
					hadSession = true
					break
				}
			}

			sess, err := e.roles.AssumeRoleForOperation(ctx, op, *best)
			if err != nil {
				return Result{}, err
			}
			if sess != nil {
				method := core.MethodRoleSwitch
				if hadSession {
					method = core.MethodDirect
				}
				e.learned.Record(op, method)
				return Result{
					Success:  true,
					Method:   method,
					Message:  fmt.Sprintf("operating as %s until %s", best.Name, sess.Expiration.Format(time.RFC3339)),
					RiskTier: tier,
					Session:  sess,
				}, nil
			}
			// Assumption failed; fall back to requesting approval.
		}
	}

	return e.openRequest(op, tier)
}

// openRequest persists a pending PermissionRequest plus its OperationLog
// row and emits the request to the approval workflow via the audit log.
func (e *Elevator) openRequest(op core.OperationContext, tier core.RiskTier) (Result, error) {
	now := time.Now().UTC()
	req := core.PermissionRequest{
		RequestID:        "req-" + uuid.New().String(),
		Action:           op.Action,
		Resource:         op.Resource,
		Justification:    op.Justification,
		RiskTier:         tier,
		RequiresApproval: true,
		Status:           core.RequestPending,
		CreatedAt:        now,
	}

	if err := e.requests.Create(req); err != nil {
		return Result{}, fmt.Errorf("persisting permission request: %w", err)
	}
	if err := e.operations.Create(core.OperationLog{
		RequestID: req.RequestID,
		Action:    op.Action,
		Resource:  op.Resource,
		Status:    core.OperationPending,
		StartedAt: now,
	}); err != nil {
		return Result{}, fmt.Errorf("persisting operation log: %w", err)
	}

	if err := e.audit.Append(core.AuditEvent{
		Timestamp: now,
		EventType: core.AuditRequestOpened,
		Actor:     e.actor,
		Operation: core.OperationRef{Service: op.Service, Action: op.Action},
		Result:    core.Result{Success: true},
		RequestID: req.RequestID,
		RiskTier:  tier,
		Detail:    fmt.Sprintf(`{"resource":%q,"justification":%q}`, op.Resource, op.Justification),
	}); err != nil {
		return Result{}, err
	}

	alternatives := []string{"await human approval via 'no-wing approvals approve " + req.RequestID + "'"}
	for _, m := range e.learned.Methods(op) {
		alternatives = append(alternatives, "previously succeeded via "+string(m))
	}

	return Result{
		Success:      false,
		Method:       core.MethodApprovalRequired,
		Message:      fmt.Sprintf("%s-risk operation requires approval", tier),
		Alternatives: alternatives,
		RequestID:    req.RequestID,
		RiskTier:     tier,
	}, nil
}

// GetPermissionRequest is a read-only lookup by request ID.
func (e *Elevator) GetPermissionRequest(requestID string) (*core.PermissionRequest, error) {
	return e.requests.Get(requestID)
}

// LearnFromSuccess records the winning method for an operation shape.
// An optimization cache, not a security control.
func (e *Elevator) LearnFromSuccess(op core.OperationContext, method core.ElevationMethod) {
	e.learned.Record(op, method)
}

// GetLearnedPatterns returns methods previously successful for this
// operation shape, most-recent-first, for display only.
func (e *Elevator) GetLearnedPatterns(op core.OperationContext) []string {
	methods := e.learned.Methods(op)
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

// GetRequestStatistics aggregates stored requests by status, applying
// lazy expiry first so the counts reflect the TTL policy.
func (e *Elevator) GetRequestStatistics() (core.RequestStatistics, error) {
	if err := e.expireStalePending(); err != nil {
		return core.RequestStatistics{}, err
	}
	return e.requests.Statistics()
}

// RecordExecution closes the loop on an operation that ran after
// elevation: it finalizes the OperationLog row and appends the execution
// audit event. A failed Create*-class action is flagged for human
// rollback, never auto-reverted.
func (e *Elevator) RecordExecution(op core.OperationContext, requestID string, approver string, duration time.Duration, execErr error) error {
	status := core.OperationCompleted
	errMsg := ""
	rollback := false
	if execErr != nil {
		status = core.OperationFailed
		errMsg = execErr.Error()
		rollback = isCreateClass(op.Action)
	}

	if err := e.operations.Complete(requestID, status, duration.Milliseconds(), errMsg, rollback); err != nil {
		return err
	}

	return e.audit.Append(core.AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: core.AuditOperationExecuted,
		Actor:     e.actor,
		Operation: core.OperationRef{Service: op.Service, Action: op.Action},
		Result:    core.Result{Success: execErr == nil, ErrorMessage: errMsg},
		RequestID: requestID,
		RiskTier:  e.classifier.Classify(op.Action, op.Resource),
		Detail:    fmt.Sprintf(`{"resource":%q,"rollback_required":%t}`, op.Resource, rollback),
	})
}

// expireStalePending lazily ages out pending requests past the TTL,
// emitting one audit event per expired request.
func (e *Elevator) expireStalePending() error {
	if e.pendingTTL <= 0 {
		return nil
	}

	cutoff := time.Now().UTC().Add(-e.pendingTTL)
	expired, err := e.requests.ExpirePending(cutoff)
	if err != nil {
		return fmt.Errorf("expiring stale requests: %w", err)
	}

	for _, req := range expired {
		if err := e.audit.Append(core.AuditEvent{
			Timestamp: time.Now().UTC(),
			EventType: core.AuditRequestExpired,
			Actor:     core.Actor{Type: core.ActorAgent, Identity: "no-wing"},
			Operation: core.OperationRef{Action: req.Action},
			Result:    core.Result{Success: true},
			RequestID: req.RequestID,
			RiskTier:  req.RiskTier,
		}); err != nil {
			return err
		}
	}
	return nil
}

func isCreateClass(action string) bool {
	verb := action
	if i := strings.IndexByte(action, ':'); i >= 0 {
		verb = action[i+1:]
	}
	return strings.HasPrefix(verb, "Create")
}
