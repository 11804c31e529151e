// Package core defines the foundational types for the no-wing permission
// governance subsystem. The primitives (Role, AssumedSession,
// PermissionRequest, OperationLog, AuditEvent) organize every operation and
// are shared across the role manager, elevator, approval workflow, and CLI.
package core

import (
	"time"
)

// ActorType distinguishes who performed an action.
type ActorType string

const (
	ActorHuman ActorType = "human"
	ActorAgent ActorType = "agent"
)

// RiskTier is the coarse classification of how dangerous an action is.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// RequestStatus tracks a permission request's lifecycle.
// Approved, denied, and expired are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// OperationStatus tracks the full life of a governed operation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationApproved  OperationStatus = "approved"
	OperationDenied    OperationStatus = "denied"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// ElevationMethod describes how an operation obtained its authority.
type ElevationMethod string

const (
	MethodDirect           ElevationMethod = "direct"
	MethodRoleSwitch       ElevationMethod = "role-switch"
	MethodApprovalRequired ElevationMethod = "approval-required"
)

// AuditEventType categorizes audit log entries.
type AuditEventType string

const (
	AuditRoleAssumed       AuditEventType = "role_assumed"
	AuditRoleAssumeFailed  AuditEventType = "role_assume_failed"
	AuditRequestOpened     AuditEventType = "request_opened"
	AuditRequestApproved   AuditEventType = "request_approved"
	AuditRequestDenied     AuditEventType = "request_denied"
	AuditRequestExpired    AuditEventType = "request_expired"
	AuditOperationExecuted AuditEventType = "operation_executed"
	AuditCommitRecorded    AuditEventType = "commit_recorded"
	AuditCommitVerified    AuditEventType = "commit_verified"
	AuditCredentialSwitch  AuditEventType = "credential_switch"
	AuditSetup             AuditEventType = "setup"
)

// PermissionRequestEventTypes are the audit event types counted as
// permission-request activity in compliance reports.
var PermissionRequestEventTypes = []AuditEventType{
	AuditRequestOpened,
	AuditRequestApproved,
	AuditRequestDenied,
	AuditRequestExpired,
}

// Role is an assumable identity discovered from IAM. Immutable once
// discovered; sourced from the provider, never mutated locally.
type Role struct {
	RoleID             string    `json:"role_id"` // ARN
	Name               string    `json:"name"`
	TrustedPrincipal   string    `json:"trusted_principal"`
	ResourcePattern    string    `json:"resource_pattern"` // scope this role may touch
	AllowedActions     []string  `json:"allowed_actions,omitempty"`
	MaxSessionDuration int32     `json:"max_session_duration"` // seconds
	Tags               []string  `json:"tags,omitempty"`
	DiscoveredAt       time.Time `json:"discovered_at"`
}

// AssumedSession is a time-bounded STS context derived from a Role. The
// secret half of the credentials lives in the vault; only the public
// access key ID travels with the record.
type AssumedSession struct {
	RoleID      string    `json:"role_id"`
	SessionName string    `json:"session_name"`
	AccessKeyID string    `json:"access_key_id"` // public key ID only
	VaultKeyRef string    `json:"vault_key_ref,omitempty"`
	AssumedAt   time.Time `json:"assumed_at"`
	Expiration  time.Time `json:"expiration"`
	SourceActor ActorType `json:"source_actor"`
}

// Expired reports whether the session is past its expiration at the given
// instant.
func (s *AssumedSession) Expired(now time.Time) bool {
	return !now.Before(s.Expiration)
}

// OperationContext describes an intended operation before it executes.
type OperationContext struct {
	Service       string    `json:"service"` // e.g. "s3", "lambda"
	Action        string    `json:"action"`  // e.g. "s3:PutObject"
	Resource      string    `json:"resource"`
	Justification string    `json:"justification,omitempty"`
	Actor         ActorType `json:"actor"`
	ActorIdentity string    `json:"actor_identity"`
}

// PermissionRequest is opened when an operation cannot proceed under
// existing permissions or risk forbids silent proceeding.
type PermissionRequest struct {
	RequestID        string        `json:"request_id"`
	Action           string        `json:"action"`
	Resource         string        `json:"resource"`
	Justification    string        `json:"justification"`
	RiskTier         RiskTier      `json:"risk_tier"`
	RequiresApproval bool          `json:"requires_approval"`
	Status           RequestStatus `json:"status"`
	Approver         string        `json:"approver,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
}

// OperationLog tracks a single requested operation end to end, linked to
// its PermissionRequest by RequestID.
type OperationLog struct {
	RequestID        string          `json:"request_id"`
	Action           string          `json:"action"`
	Resource         string          `json:"resource"`
	Status           OperationStatus `json:"status"`
	Approver         string          `json:"approver,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	DurationMs       *int64          `json:"duration_ms,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	RollbackRequired bool            `json:"rollback_required"`
}

// Actor identifies who performed an audited action.
type Actor struct {
	Type     ActorType `json:"type"`
	Identity string    `json:"identity"`
}

// OperationRef names the service and action of an audited operation.
type OperationRef struct {
	Service string `json:"service"`
	Action  string `json:"action"`
}

// Result records an audited outcome.
type Result struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AuditEvent is an immutable, timestamped record of an action, its actor,
// and its outcome. The event sequence is the ground truth for compliance
// reporting.
type AuditEvent struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  AuditEventType `json:"event_type"`
	Actor      Actor          `json:"actor"`
	Operation  OperationRef   `json:"operation"`
	Result     Result         `json:"result"`
	RequestID  string         `json:"request_id,omitempty"`
	RiskTier   RiskTier       `json:"risk_tier,omitempty"`
	Detail     string         `json:"detail,omitempty"` // JSON, secrets redacted
	RecordHash string         `json:"record_hash"`      // SHA-256 chain
}

// ComplianceReport is a derived, point-in-time aggregate over AuditEvents
// within [Start, End). Never persisted as source of truth.
type ComplianceReport struct {
	Start                   time.Time   `json:"start"`
	End                     time.Time   `json:"end"`
	GeneratedAt             time.Time   `json:"generated_at"`
	TotalEvents             int         `json:"total_events"`
	HumanEvents             int         `json:"human_events"`
	AgentEvents             int         `json:"agent_events"`
	FailedEvents            int         `json:"failed_events"`
	PermissionRequestEvents int         `json:"permission_request_events"`
	Violations              []Violation `json:"violations,omitempty"`
}

// Violation flags a high-risk action with no matching prior approval in
// the report window. Reported, never enforced retroactively.
type Violation struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     Actor     `json:"actor"`
	RequestID string    `json:"request_id,omitempty"`
	Reason    string    `json:"reason"`
}

// CommitRecord tracks one agent commit on a feature branch awaiting human
// verification.
type CommitRecord struct {
	SHA        string     `json:"sha"`
	Branch     string     `json:"branch"`
	Message    string     `json:"message"`
	Author     string     `json:"author"`
	RecordedAt time.Time  `json:"recorded_at"`
	Verified   bool       `json:"verified"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// CallerIdentity is the resolved identity behind the active credentials.
type CallerIdentity struct {
	AccountID string `json:"account_id"`
	ARN       string `json:"arn"`
	UserID    string `json:"user_id"`
}

// ExternalEvent is a management event reported by the cloud trail
// collaborator, used only for cross-verification against the local log.
type ExternalEvent struct {
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	EventTime time.Time `json:"event_time"`
	Username  string    `json:"username,omitempty"`
}

// RequestStatistics aggregates permission requests by status.
type RequestStatistics struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Expired  int `json:"expired"`
}
