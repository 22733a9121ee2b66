package core

import "testing"

func TestManaSpendInsufficientBalance(t *testing.T) {
	l := NewManaLedger()
	l.SetBalance("did:key:a", 5)
	if err := l.Spend("did:key:a", 6); KindOf(err) != KindPolicyDenied {
		t.Fatalf("expected PolicyDenied, got %v", err)
	}
	if got := l.GetBalance("did:key:a"); got != 5 {
		t.Fatalf("balance must be unchanged after failed spend, got %d", got)
	}
}

func TestManaSpendAtomicSuccess(t *testing.T) {
	l := NewManaLedger()
	l.SetBalance("did:key:a", 10)
	if err := l.Spend("did:key:a", 10); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if got := l.GetBalance("did:key:a"); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
}

func TestManaCreditSaturatesAtCapacity(t *testing.T) {
	l := NewManaLedger()
	l.Ensure("did:key:a", 100)
	l.SetBalance("did:key:a", 90)
	l.Credit("did:key:a", 50)
	if got := l.GetBalance("did:key:a"); got != 100 {
		t.Fatalf("expected saturated balance 100, got %d", got)
	}
}

func TestRepMultiplierClamped(t *testing.T) {
	if m := RepMultiplier(0); m != MinRepMultiplier {
		t.Fatalf("expected min multiplier at 0 reputation, got %f", m)
	}
	if m := RepMultiplier(1000); m != MaxRepMultiplier {
		t.Fatalf("expected max multiplier at high reputation, got %f", m)
	}
	if m := RepMultiplier(50); m != 0.5 {
		t.Fatalf("expected 0.5 multiplier at reputation 50, got %f", m)
	}
}

func TestManaRegenerateAppliesFormula(t *testing.T) {
	l := NewManaLedger()
	reps := NewReputationStore()
	reps.RecordExecution("did:key:a", true, 0, "")
	l.Ensure("did:key:a", 1000)
	l.SetBalance("did:key:a", 0)

	l.Regenerate(reps, 1.0)

	rep := reps.GetReputation("did:key:a")
	wantDelta := uint64(BaseRegenerationRate * RepMultiplier(rep) * 1.0)
	if got := l.GetBalance("did:key:a"); got != wantDelta {
		t.Fatalf("expected regenerated balance %d, got %d", wantDelta, got)
	}
}

func TestManaRegenerateCapsAtCapacity(t *testing.T) {
	l := NewManaLedger()
	reps := NewReputationStore()
	l.Ensure("did:key:a", 5)
	l.SetBalance("did:key:a", 4)
	l.Regenerate(reps, 1.0)
	if got := l.GetBalance("did:key:a"); got != 5 {
		t.Fatalf("expected balance capped at capacity 5, got %d", got)
	}
}

func TestPolicyEnforcerRejectsOverLimit(t *testing.T) {
	l := NewManaLedger()
	l.SetBalance("did:key:a", 1000)
	p := NewPolicyEnforcer(l, 10)
	if err := p.Spend("did:key:a", 11, ""); KindOf(err) != KindPolicyDenied {
		t.Fatalf("expected PolicyDenied for over-limit spend, got %v", err)
	}
}

func TestPolicyEnforcerScopedCeiling(t *testing.T) {
	l := NewManaLedger()
	l.SetBalance("did:key:a", 1000)
	p := NewPolicyEnforcer(l, 1000)
	p.Scoped = NewScopedPolicyEnforcer(map[string]uint64{"coop-x": 15})

	if err := p.Spend("did:key:a", 10, "coop-x"); err != nil {
		t.Fatalf("first scoped spend failed: %v", err)
	}
	if err := p.Spend("did:key:a", 10, "coop-x"); KindOf(err) != KindPolicyDenied {
		t.Fatalf("expected scoped ceiling to reject second spend, got %v", err)
	}
	if got := l.GetBalance("did:key:a"); got != 990 {
		t.Fatalf("expected only the first spend to apply, balance=%d", got)
	}
}

func TestReputationRecordExecutionClampedAtZero(t *testing.T) {
	r := NewReputationStore()
	r.RecordExecution("did:key:a", false, 0, "")
	if got := r.GetReputation("did:key:a"); got != 0 {
		t.Fatalf("expected reputation clamped to 0, got %d", got)
	}
}

func TestReputationRecordExecutionFormula(t *testing.T) {
	r := NewReputationStore()
	r.RecordExecution("did:key:a", true, 2500, "")
	if got := r.GetReputation("did:key:a"); got != 3 { // +1 success, +2 from 2500ms/1000
		t.Fatalf("expected reputation 3, got %d", got)
	}
}

func TestReputationRecordExecutionIdempotentPerReceipt(t *testing.T) {
	r := NewReputationStore()
	r.RecordExecution("did:key:a", true, 0, "receipt-1")
	r.RecordExecution("did:key:a", true, 0, "receipt-1")
	if got := r.GetReputation("did:key:a"); got != 1 {
		t.Fatalf("expected reputation effect applied once, got %d", got)
	}
	if !r.AlreadyAnchored("receipt-1") {
		t.Fatal("expected receipt-1 marked anchored")
	}
}

func TestReputationRecordProofAttempt(t *testing.T) {
	r := NewReputationStore()
	r.RecordProofAttempt("did:key:p", true)
	r.RecordProofAttempt("did:key:p", true)
	if got := r.GetReputation("did:key:p"); got != 2 {
		t.Fatalf("expected reputation 2, got %d", got)
	}
	r.RecordProofAttempt("did:key:p", false)
	r.RecordProofAttempt("did:key:p", false)
	r.RecordProofAttempt("did:key:p", false)
	if got := r.GetReputation("did:key:p"); got != 0 {
		t.Fatalf("expected reputation clamped to 0, got %d", got)
	}
}
