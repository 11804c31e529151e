package role

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/vault"
)

// AuditAppender receives the audit events the manager emits for every
// assumption outcome.
type AuditAppender interface {
	Append(event core.AuditEvent) error
}

// CredentialSink stores the secret half of assumed-role credentials.
// The vault satisfies it; a nil sink skips persistence (tests).
type CredentialSink interface {
	PutCredentials(key string, creds vault.Credentials) error
}

// Manager composes the catalog and session cache: it picks the best role
// for an operation, assumes it, and tracks active sessions.
type Manager struct {
	catalog *Catalog
	cache   *SessionCache
	audit   AuditAppender
	sink    CredentialSink
	logger  zerolog.Logger
	actor   core.Actor

	// assumeMu serializes check-then-assume so two callers cannot both
	// believe they independently assumed the same role.
	assumeMu sync.Mutex
}

// NewManager creates a role manager.
func NewManager(catalog *Catalog, cache *SessionCache, audit AuditAppender, sink CredentialSink, logger zerolog.Logger, actor core.Actor) *Manager {
	return &Manager{
		catalog: catalog,
		cache:   cache,
		audit:   audit,
		sink:    sink,
		logger:  logger,
		actor:   actor,
	}
}

// ListAvailableRoles enumerates roles the caller is trusted to assume.
// Partial failures surface as warnings on the result; a total failure is
// a *DiscoveryError, never an empty list.
func (m *Manager) ListAvailableRoles(ctx context.Context) (DiscoveryResult, error) {
	return m.catalog.Discover(ctx)
}

// FindBestRole returns the role best suited to the operation, or nil if
// no role covers the action and resource. Tie-break is deterministic:
// narrowest resource scope first, then session reuse (shortest remaining
// validity), then longest max session duration, then role ID.
func (m *Manager) FindBestRole(ctx context.Context, op core.OperationContext) (*core.Role, error) {
	result, err := m.ListAvailableRoles(ctx)
	if err != nil {
		return nil, err
	}
	return m.bestOf(result.Roles, op, time.Now().UTC()), nil
}

// bestOf applies the selection rules to a candidate list at a fixed
// instant. Split out so the tie-break is testable without a provider.
func (m *Manager) bestOf(roles []core.Role, op core.OperationContext, now time.Time) *core.Role {
	var candidates []core.Role
	for _, r := range roles {
		if roleCovers(r, op) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := patternSpecificity(candidates[i].ResourcePattern), patternSpecificity(candidates[j].ResourcePattern)
		if si != sj {
			return si > sj // narrower superset wins
		}

		ri := m.remainingValidity(candidates[i].RoleID, now)
		rj := m.remainingValidity(candidates[j].RoleID, now)
		if (ri > 0) != (rj > 0) {
			return ri > 0 // session reuse wins
		}
		if ri > 0 && rj > 0 && ri != rj {
			return ri < rj // prefer the shortest remaining session
		}

		if candidates[i].MaxSessionDuration != candidates[j].MaxSessionDuration {
			return candidates[i].MaxSessionDuration > candidates[j].MaxSessionDuration
		}
		return candidates[i].RoleID < candidates[j].RoleID
	})

	best := candidates[0]
	return &best
}

// remainingValidity returns how long the cached session for a role stays
// valid, or 0 when there is none.
func (m *Manager) remainingValidity(roleID string, now time.Time) time.Duration {
	sess, ok, err := m.cache.Active(roleID, now)
	if err != nil || !ok {
		return 0
	}
	return sess.Expiration.Sub(now)
}

// AssumeRoleForOperation returns a session for the role, reusing a
// cached non-expired session without a network call. Assumption failure
// returns (nil, nil) so the caller falls back to the elevation path
// instead of crashing. The only error returned is an audit write
// failure: an assumption whose audit trail cannot be written is treated
// as not having happened.
func (m *Manager) AssumeRoleForOperation(ctx context.Context, op core.OperationContext, r core.Role) (*core.AssumedSession, error) {
	m.assumeMu.Lock()
	defer m.assumeMu.Unlock()

	now := time.Now().UTC()
	if sess, ok, err := m.cache.Active(r.RoleID, now); err == nil && ok {
		return sess, nil
	}

	sessionName := "no-wing-" + uuid.New().String()[:8]
	duration := r.MaxSessionDuration
	if duration == 0 {
		duration = 3600
	}

	creds, expiration, err := m.catalog.provider.AssumeRole(ctx, r.RoleID, sessionName, duration)
	if err != nil {
		m.logger.Warn().Str("role", r.RoleID).Err(err).Msg("role assumption failed; falling back to elevation")
		auditErr := m.audit.Append(core.AuditEvent{
			Timestamp: now,
			EventType: core.AuditRoleAssumeFailed,
			Actor:     m.actor,
			Operation: core.OperationRef{Service: op.Service, Action: op.Action},
			Result:    core.Result{Success: false, ErrorMessage: err.Error()},
		})
		if auditErr != nil {
			return nil, fmt.Errorf("recording failed assumption: %w", auditErr)
		}
		return nil, nil
	}

	vaultKey := "session:" + r.RoleID
	if m.sink != nil {
		if err := m.sink.PutCredentials(vaultKey, creds); err != nil {
			return nil, fmt.Errorf("storing session credentials: %w", err)
		}
	}

	sess := core.AssumedSession{
		RoleID:      r.RoleID,
		SessionName: sessionName,
		AccessKeyID: creds.AccessKeyID,
		VaultKeyRef: vaultKey,
		AssumedAt:   now,
		Expiration:  expiration,
		SourceActor: m.actor.Type,
	}
	if err := m.cache.Put(sess); err != nil {
		return nil, fmt.Errorf("caching session: %w", err)
	}

	if err := m.audit.Append(core.AuditEvent{
		Timestamp: now,
		EventType: core.AuditRoleAssumed,
		Actor:     m.actor,
		Operation: core.OperationRef{Service: op.Service, Action: op.Action},
		Result:    core.Result{Success: true},
		Detail:    fmt.Sprintf(`{"role_id":%q,"session_name":%q}`, r.RoleID, sessionName),
	}); err != nil {
		// Unaudited sessions must not survive.
		m.cache.Revoke(r.RoleID)
		return nil, fmt.Errorf("recording assumption: %w", err)
	}

	return &sess, nil
}

// GetActiveSessions filters the cache for sessions still valid now. The
// cache is not mutated; eviction stays lazy.
func (m *Manager) GetActiveSessions() ([]core.AssumedSession, error) {
	return m.cache.ActiveSessions(time.Now().UTC())
}

// roleCovers reports whether a role's action grants and resource scope
// both cover the operation. Roles without declared actions never cover.
func roleCovers(r core.Role, op core.OperationContext) bool {
	covered := false
	for _, a := range r.AllowedActions {
		if patternMatches(a, op.Action) {
			covered = true
			break
		}
	}
	if !covered {
		return false
	}
	if r.ResourcePattern == "" {
		return false
	}
	return patternMatches(r.ResourcePattern, op.Resource)
}

// patternMatches implements IAM-style glob matching: '*' matches any run
// of characters, everything else is literal.
func patternMatches(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}

	return strings.HasSuffix(s, parts[len(parts)-1])
}

// patternSpecificity counts literal characters: more literals means a
// narrower pattern.
func patternSpecificity(pattern string) int {
	return len(strings.ReplaceAll(pattern, "*", ""))
}
