package store

import (
	"testing"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

func pendingOperation(id string, startedAt time.Time) core.OperationLog {
	return core.OperationLog{
		RequestID: id,
		Action:    "lambda:UpdateFunctionCode",
		Resource:  "arn:aws:lambda:us-east-1:123456789012:function:worker",
		Status:    core.OperationPending,
		StartedAt: startedAt,
	}
}

func TestOperationRoundTrip(t *testing.T) {
	stateDB := newStateDB(t)
	requests := NewSQLRequestStore(stateDB)
	s := NewSQLOperationStore(stateDB)
	now := time.Now().UTC().Truncate(time.Second)

	// Satisfy the foreign key to permission_requests.
	if err := requests.Create(pendingRequest("req-1", now)); err != nil {
		t.Fatalf("seeding request: %v", err)
	}
	if err := s.Create(pendingOperation("req-1", now)); err != nil {
		t.Fatalf("creating: %v", err)
	}

	got, err := s.Get("req-1")
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got == nil || got.Status != core.OperationPending || got.DurationMs != nil {
		t.Errorf("round trip mismatch: %+v", got)
	}

	missing, err := s.Get("req-nope")
	if err != nil {
		t.Fatalf("getting missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown operation")
	}
}

func TestOperationLifecycle(t *testing.T) {
	stateDB := newStateDB(t)
	requests := NewSQLRequestStore(stateDB)
	s := NewSQLOperationStore(stateDB)
	now := time.Now().UTC()

	requests.Create(pendingRequest("req-1", now))
	s.Create(pendingOperation("req-1", now))

	if err := s.SetStatus("req-1", core.OperationApproved, "dev"); err != nil {
		t.Fatalf("approving: %v", err)
	}
	got, _ := s.Get("req-1")
	if got.Status != core.OperationApproved || got.Approver != "dev" {
		t.Errorf("unexpected state after approval: %+v", got)
	}

	if err := s.Complete("req-1", core.OperationFailed, 420, "timeout", true); err != nil {
		t.Fatalf("completing: %v", err)
	}
	got, _ = s.Get("req-1")
	if got.Status != core.OperationFailed || !got.RollbackRequired {
		t.Errorf("unexpected terminal state: %+v", got)
	}
	if got.DurationMs == nil || *got.DurationMs != 420 {
		t.Errorf("duration not recorded: %+v", got.DurationMs)
	}
	if got.ErrorMessage != "timeout" {
		t.Errorf("error message lost: %q", got.ErrorMessage)
	}
}

func TestOperationListByStatus(t *testing.T) {
	stateDB := newStateDB(t)
	requests := NewSQLRequestStore(stateDB)
	s := NewSQLOperationStore(stateDB)
	now := time.Now().UTC()

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		requests.Create(pendingRequest(id, now))
		s.Create(pendingOperation(id, now))
	}
	s.Complete("req-3", core.OperationCompleted, 100, "", false)

	pending, err := s.List(core.OperationPending)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("listing all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 total, got %d", len(all))
	}
}
