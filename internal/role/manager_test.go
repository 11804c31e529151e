package role

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/vault"
)

type fakeProvider struct {
	roles      []core.Role
	warnings   []string
	listErr    error
	assumeErr  error
	assumeArgs []string // role IDs in call order
	expiry     time.Time
}

func (p *fakeProvider) GetCallerIdentity(ctx context.Context) (core.CallerIdentity, error) {
	return core.CallerIdentity{
		AccountID: "123456789012",
		ARN:       "arn:aws:iam::123456789012:user/q-agent",
		UserID:    "AIDAEXAMPLE",
	}, nil
}

func (p *fakeProvider) ListAssumableRoles(ctx context.Context, principal string) ([]core.Role, []string, error) {
	if p.listErr != nil {
		return nil, p.warnings, p.listErr
	}
	return p.roles, p.warnings, nil
}

func (p *fakeProvider) AssumeRole(ctx context.Context, roleID, sessionName string, durationSeconds int32) (vault.Credentials, time.Time, error) {
	p.assumeArgs = append(p.assumeArgs, roleID)
	if p.assumeErr != nil {
		return vault.Credentials{}, time.Time{}, p.assumeErr
	}
	expiry := p.expiry
	if expiry.IsZero() {
		expiry = time.Now().UTC().Add(time.Duration(durationSeconds) * time.Second)
	}
	return vault.Credentials{
		AccessKeyID:     "ASIAFAKE" + roleID[len(roleID)-4:],
		SecretAccessKey: "secret",
		SessionToken:    "token",
	}, expiry, nil
}

type recordingAudit struct {
	events []core.AuditEvent
	err    error
}

func (a *recordingAudit) Append(event core.AuditEvent) error {
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, event)
	return nil
}

func testRole(name, scope string, actions []string, maxSession int32) core.Role {
	return core.Role{
		RoleID:             "arn:aws:iam::123456789012:role/" + name,
		Name:               name,
		ResourcePattern:    scope,
		AllowedActions:     actions,
		MaxSessionDuration: maxSession,
	}
}

func newTestManager(p *fakeProvider, a *recordingAudit) *Manager {
	catalog := NewCatalog(p, "arn:aws:iam::123456789012:user/q-agent")
	cache := NewSessionCache(NewMemorySessionStore())
	return NewManager(catalog, cache, a, nil, zerolog.Nop(), core.Actor{Type: core.ActorAgent, Identity: "q-agent"})
}

func TestFindBestRolePrefersNarrowerScope(t *testing.T) {
	p := &fakeProvider{roles: []core.Role{
		testRole("broad", "arn:aws:s3:::*", []string{"s3:*"}, 3600),
		testRole("narrow", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 3600),
	}}
	mgr := newTestManager(p, &recordingAudit{})

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::team-data/report.csv"}
	best, err := mgr.FindBestRole(context.Background(), op)
	if err != nil {
		t.Fatalf("finding role: %v", err)
	}
	if best == nil || best.Name != "narrow" {
		t.Fatalf("expected narrow role, got %+v", best)
	}
}

func TestFindBestRoleNoCoverageReturnsNil(t *testing.T) {
	p := &fakeProvider{roles: []core.Role{
		testRole("s3-only", "arn:aws:s3:::*", []string{"s3:GetObject"}, 3600),
	}}
	mgr := newTestManager(p, &recordingAudit{})

	op := core.OperationContext{Service: "dynamodb", Action: "dynamodb:PutItem", Resource: "arn:aws:dynamodb:us-east-1:123456789012:table/t"}
	best, err := mgr.FindBestRole(context.Background(), op)
	if err != nil {
		t.Fatalf("finding role: %v", err)
	}
	if best != nil {
		t.Errorf("expected nil, got %s", best.Name)
	}
}

func TestFindBestRoleUntaggedRoleNeverCovers(t *testing.T) {
	p := &fakeProvider{roles: []core.Role{
		testRole("untagged", "", nil, 3600),
	}}
	mgr := newTestManager(p, &recordingAudit{})

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::x/y"}
	best, err := mgr.FindBestRole(context.Background(), op)
	if err != nil {
		t.Fatalf("finding role: %v", err)
	}
	if best != nil {
		t.Errorf("untagged role must not cover, got %s", best.Name)
	}
}

func TestFindBestRoleTieBreakSessionReuse(t *testing.T) {
	p := &fakeProvider{roles: []core.Role{
		testRole("alpha", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 3600),
		testRole("beta", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 7200),
	}}
	audit := &recordingAudit{}
	mgr := newTestManager(p, audit)
	ctx := context.Background()

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::team-data/x"}

	// Equal specificity (same literal count), no sessions: longest
	// MaxSessionDuration wins.
	best, err := mgr.FindBestRole(ctx, op)
	if err != nil {
		t.Fatalf("finding role: %v", err)
	}
	if best.Name != "beta" {
		t.Fatalf("expected beta (longer max session), got %s", best.Name)
	}

	// With an active session on alpha, reuse wins over duration.
	now := time.Now().UTC()
	mgr.cache.Put(core.AssumedSession{
		RoleID:     testRole("alpha", "", nil, 0).RoleID,
		AssumedAt:  now,
		Expiration: now.Add(30 * time.Minute),
	})
	best, err = mgr.FindBestRole(ctx, op)
	if err != nil {
		t.Fatalf("finding role: %v", err)
	}
	if best.Name != "alpha" {
		t.Errorf("expected alpha (session reuse), got %s", best.Name)
	}
}

func TestFindBestRoleTieBreakShortestRemainingSession(t *testing.T) {
	p := &fakeProvider{roles: []core.Role{
		testRole("alpha", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 3600),
		testRole("beta", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 3600),
	}}
	mgr := newTestManager(p, &recordingAudit{})

	now := time.Now().UTC()
	mgr.cache.Put(core.AssumedSession{
		RoleID:     testRole("alpha", "", nil, 0).RoleID,
		AssumedAt:  now,
		Expiration: now.Add(50 * time.Minute),
	})
	mgr.cache.Put(core.AssumedSession{
		RoleID:     testRole("beta", "", nil, 0).RoleID,
		AssumedAt:  now,
		Expiration: now.Add(10 * time.Minute),
	})

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::team-data/x"}
	best, err := mgr.FindBestRole(context.Background(), op)
	if err != nil {
		t.Fatalf("finding role: %v", err)
	}
	if best.Name != "beta" {
		t.Errorf("expected beta (shortest remaining), got %s", best.Name)
	}
}

func TestFindBestRoleTieBreakIsDeterministic(t *testing.T) {
	p := &fakeProvider{roles: []core.Role{
		testRole("zulu", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 3600),
		testRole("echo", "arn:aws:s3:::team-data/*", []string{"s3:*"}, 3600),
	}}
	mgr := newTestManager(p, &recordingAudit{})

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::team-data/x"}
	for i := 0; i < 5; i++ {
		best, err := mgr.FindBestRole(context.Background(), op)
		if err != nil {
			t.Fatalf("finding role: %v", err)
		}
		if best.Name != "echo" {
			t.Fatalf("run %d: expected echo (lexicographic role ID), got %s", i, best.Name)
		}
	}
}

func TestFindBestRoleDiscoveryErrorIsNotEmptyCatalog(t *testing.T) {
	p := &fakeProvider{listErr: errors.New("iam throttled")}
	mgr := newTestManager(p, &recordingAudit{})

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "x"}
	_, err := mgr.FindBestRole(context.Background(), op)
	if err == nil {
		t.Fatal("expected discovery error")
	}
	if !IsDiscoveryError(err) {
		t.Errorf("expected DiscoveryError, got %T: %v", err, err)
	}
}

func TestAssumeRoleForOperationIsIdempotent(t *testing.T) {
	r := testRole("worker", "arn:aws:s3:::*", []string{"s3:*"}, 3600)
	p := &fakeProvider{roles: []core.Role{r}}
	audit := &recordingAudit{}
	mgr := newTestManager(p, audit)
	ctx := context.Background()

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::x/y"}

	first, err := mgr.AssumeRoleForOperation(ctx, op, r)
	if err != nil {
		t.Fatalf("first assumption: %v", err)
	}
	if first == nil {
		t.Fatal("expected a session")
	}

	second, err := mgr.AssumeRoleForOperation(ctx, op, r)
	if err != nil {
		t.Fatalf("second assumption: %v", err)
	}
	if second.SessionName != first.SessionName {
		t.Errorf("expected reuse, got new session %s", second.SessionName)
	}
	if len(p.assumeArgs) != 1 {
		t.Errorf("expected 1 provider call, got %d", len(p.assumeArgs))
	}
	if len(audit.events) != 1 || audit.events[0].EventType != core.AuditRoleAssumed {
		t.Errorf("expected exactly one role_assumed event, got %+v", audit.events)
	}
}

func TestAssumeRoleForOperationExpiredSessionReassumes(t *testing.T) {
	r := testRole("worker", "arn:aws:s3:::*", []string{"s3:*"}, 3600)
	p := &fakeProvider{roles: []core.Role{r}}
	mgr := newTestManager(p, &recordingAudit{})
	ctx := context.Background()

	now := time.Now().UTC()
	mgr.cache.Put(core.AssumedSession{
		RoleID:     r.RoleID,
		AssumedAt:  now.Add(-2 * time.Hour),
		Expiration: now.Add(-time.Hour),
	})

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::x/y"}
	sess, err := mgr.AssumeRoleForOperation(ctx, op, r)
	if err != nil {
		t.Fatalf("assumption: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a fresh session")
	}
	if len(p.assumeArgs) != 1 {
		t.Errorf("expected a provider call for the expired session, got %d", len(p.assumeArgs))
	}
}

func TestAssumeRoleFailureFallsBackWithOneAuditEvent(t *testing.T) {
	r := testRole("worker", "arn:aws:s3:::*", []string{"s3:*"}, 3600)
	p := &fakeProvider{roles: []core.Role{r}, assumeErr: errors.New("access denied")}
	audit := &recordingAudit{}
	mgr := newTestManager(p, audit)

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::x/y"}
	sess, err := mgr.AssumeRoleForOperation(context.Background(), op, r)
	if err != nil {
		t.Fatalf("expected graceful fallback, got error: %v", err)
	}
	if sess != nil {
		t.Fatal("expected nil session on failure")
	}
	if len(audit.events) != 1 {
		t.Fatalf("expected exactly one audit event, got %d", len(audit.events))
	}
	ev := audit.events[0]
	if ev.EventType != core.AuditRoleAssumeFailed || ev.Result.Success {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestAssumeRoleAuditWriteFailureRevokesSession(t *testing.T) {
	r := testRole("worker", "arn:aws:s3:::*", []string{"s3:*"}, 3600)
	p := &fakeProvider{roles: []core.Role{r}}
	audit := &recordingAudit{err: fmt.Errorf("disk full")}
	mgr := newTestManager(p, audit)

	op := core.OperationContext{Service: "s3", Action: "s3:GetObject", Resource: "arn:aws:s3:::x/y"}
	sess, err := mgr.AssumeRoleForOperation(context.Background(), op, r)
	if err == nil {
		t.Fatal("expected error when the audit trail cannot be written")
	}
	if sess != nil {
		t.Fatal("expected no session")
	}

	active, _ := mgr.GetActiveSessions()
	if len(active) != 0 {
		t.Errorf("unaudited session survived: %+v", active)
	}
}

func TestPatternMatches(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"arn:aws:s3:::bucket/*", "arn:aws:s3:::bucket/key", true},
		{"arn:aws:s3:::bucket/*", "arn:aws:s3:::other/key", false},
		{"s3:Get*", "s3:GetObject", true},
		{"s3:Get*", "s3:PutObject", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "aXcYb", false},
	}
	for _, tc := range cases {
		if got := patternMatches(tc.pattern, tc.s); got != tc.want {
			t.Errorf("patternMatches(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
