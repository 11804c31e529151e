package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/db"
)

func newStateDB(t *testing.T) *sql.DB {
	t.Helper()
	stateDB, err := db.OpenStateDB(t.TempDir())
	if err != nil {
		t.Fatalf("opening state db: %v", err)
	}
	t.Cleanup(func() { stateDB.Close() })
	return stateDB
}

func pendingRequest(id string, createdAt time.Time) core.PermissionRequest {
	return core.PermissionRequest{
		RequestID:        id,
		Action:           "s3:DeleteBucket",
		Resource:         "arn:aws:s3:::dev-data",
		Justification:    "cleanup",
		RiskTier:         core.RiskHigh,
		RequiresApproval: true,
		Status:           core.RequestPending,
		CreatedAt:        createdAt,
	}
}

func TestRequestRoundTrip(t *testing.T) {
	s := NewSQLRequestStore(newStateDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Create(pendingRequest("req-1", now)); err != nil {
		t.Fatalf("creating: %v", err)
	}

	got, err := s.Get("req-1")
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got == nil || got.Action != "s3:DeleteBucket" || got.RiskTier != core.RiskHigh {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at mismatch: %s vs %s", got.CreatedAt, now)
	}
	if got.ResolvedAt != nil {
		t.Error("unresolved request has resolved_at")
	}

	missing, err := s.Get("req-nope")
	if err != nil {
		t.Fatalf("getting missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown request")
	}
}

func TestResolveOnlyTransitionsPending(t *testing.T) {
	s := NewSQLRequestStore(newStateDB(t))
	now := time.Now().UTC()
	s.Create(pendingRequest("req-1", now))

	ok, err := s.Resolve("req-1", core.RequestApproved, "dev", now)
	if err != nil {
		t.Fatalf("resolving: %v", err)
	}
	if !ok {
		t.Fatal("expected transition")
	}

	// An approved request cannot transition again.
	ok, err = s.Resolve("req-1", core.RequestDenied, "dev", now)
	if err != nil {
		t.Fatalf("re-resolving: %v", err)
	}
	if ok {
		t.Error("terminal request transitioned again")
	}

	got, _ := s.Get("req-1")
	if got.Status != core.RequestApproved || got.ResolvedAt == nil {
		t.Errorf("unexpected state: %+v", got)
	}

	// Unknown requests report no transition, not an error.
	if ok, err := s.Resolve("req-nope", core.RequestApproved, "dev", now); err != nil || ok {
		t.Errorf("unknown resolve: ok=%v err=%v", ok, err)
	}
}

func TestExpirePendingHonorsCutoff(t *testing.T) {
	s := NewSQLRequestStore(newStateDB(t))
	now := time.Now().UTC()

	s.Create(pendingRequest("req-old", now.Add(-3*time.Hour)))
	s.Create(pendingRequest("req-new", now.Add(-10*time.Minute)))
	s.Create(pendingRequest("req-done", now.Add(-3*time.Hour)))
	s.Resolve("req-done", core.RequestApproved, "dev", now)

	expired, err := s.ExpirePending(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if len(expired) != 1 || expired[0].RequestID != "req-old" {
		t.Fatalf("unexpected expiry set: %+v", expired)
	}
	if expired[0].Status != core.RequestExpired {
		t.Errorf("returned request not marked expired: %s", expired[0].Status)
	}

	// Approved request untouched, fresh request still pending.
	done, _ := s.Get("req-done")
	if done.Status != core.RequestApproved {
		t.Errorf("resolved request re-expired: %s", done.Status)
	}
	fresh, _ := s.Get("req-new")
	if fresh.Status != core.RequestPending {
		t.Errorf("fresh request expired: %s", fresh.Status)
	}

	// A second sweep finds nothing.
	again, err := s.ExpirePending(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expiry not idempotent: %+v", again)
	}
}

func TestStatistics(t *testing.T) {
	s := NewSQLRequestStore(newStateDB(t))
	now := time.Now().UTC()

	s.Create(pendingRequest("req-1", now))
	s.Create(pendingRequest("req-2", now))
	s.Create(pendingRequest("req-3", now))
	s.Resolve("req-2", core.RequestApproved, "dev", now)
	s.Resolve("req-3", core.RequestDenied, "dev", now)

	stats, err := s.Statistics()
	if err != nil {
		t.Fatalf("aggregating: %v", err)
	}
	want := core.RequestStatistics{Total: 3, Pending: 1, Approved: 1, Denied: 1}
	if stats != want {
		t.Errorf("got %+v, want %+v", stats, want)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := NewSQLRequestStore(newStateDB(t))
	now := time.Now().UTC()

	s.Create(pendingRequest("req-1", now.Add(-time.Minute)))
	s.Create(pendingRequest("req-2", now))
	s.Resolve("req-1", core.RequestDenied, "dev", now)

	pending, err := s.List(core.RequestPending)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RequestID != "req-2" {
		t.Errorf("unexpected pending: %+v", pending)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("listing all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 total, got %d", len(all))
	}
}

func TestReinstateRevertsOnlyFromNamedStatus(t *testing.T) {
	s := NewSQLRequestStore(newStateDB(t))
	now := time.Now().UTC()
	s.Create(pendingRequest("req-1", now))
	if _, err := s.Resolve("req-1", core.RequestApproved, "dev", now); err != nil {
		t.Fatalf("resolving: %v", err)
	}

	// Status guard: reverting from the wrong terminal state is a no-op.
	ok, err := s.Reinstate("req-1", core.RequestDenied)
	if err != nil {
		t.Fatalf("reinstating: %v", err)
	}
	if ok {
		t.Error("reinstate from mismatched status should not transition")
	}

	ok, err = s.Reinstate("req-1", core.RequestApproved)
	if err != nil {
		t.Fatalf("reinstating: %v", err)
	}
	if !ok {
		t.Fatal("reinstate from matching status should transition")
	}
	req, err := s.Get("req-1")
	if err != nil {
		t.Fatalf("reading request: %v", err)
	}
	if req.Status != core.RequestPending || req.Approver != "" || req.ResolvedAt != nil {
		t.Errorf("request not back in pending set: %+v", req)
	}

	ok, err = s.Reinstate("req-unknown", core.RequestApproved)
	if err != nil || ok {
		t.Errorf("unknown request: got ok=%v err=%v", ok, err)
	}
}
