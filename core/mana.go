package core

import (
	"math"
	"sync"
	"time"
)

// Mana regeneration constants, taken verbatim from
// icn-runtime/tests/mana_regenerator.rs rather than invented (spec.md §9
// open question: "exact formula for mana regeneration ... spec fixes the
// shape but leaves constants to configuration").
const (
	BaseRegenerationRate = 10.0
	MinRepMultiplier     = 0.1
	MaxRepMultiplier     = 2.0
)

// ManaAccount is the persisted record for a single DID's mana balance
// (spec.md §6.4: "key = DID string, value = { balance, last_updated }").
type ManaAccount struct {
	Balance     uint64
	Capacity    uint64
	LastUpdated time.Time
}

// ManaLedger is the per-DID mana balance contract of spec.md §4.2. It is
// internally synchronized; spend is atomic check-then-decrement under one
// critical section, per the concurrency model of spec.md §5.
type ManaLedger struct {
	mu       sync.Mutex
	accounts map[Did]*ManaAccount
}

// NewManaLedger constructs an empty ManaLedger.
func NewManaLedger() *ManaLedger {
	return &ManaLedger{accounts: make(map[Did]*ManaAccount)}
}

// Ensure creates an account for did with the given capacity if one does not
// already exist, returning the existing or new account.
func (l *ManaLedger) Ensure(did Did, capacity uint64) *ManaAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureLocked(did, capacity)
}

func (l *ManaLedger) ensureLocked(did Did, capacity uint64) *ManaAccount {
	acc, ok := l.accounts[did]
	if !ok {
		acc = &ManaAccount{Capacity: capacity, LastUpdated: time.Now()}
		l.accounts[did] = acc
	}
	return acc
}

// GetBalance returns did's current balance, 0 if unknown.
func (l *ManaLedger) GetBalance(did Did) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[did]
	if !ok {
		return 0
	}
	return acc.Balance
}

// SetBalance overwrites did's balance directly. If n exceeds the account's
// capacity, the capacity is raised to n.
func (l *ManaLedger) SetBalance(did Did, n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.ensureLocked(did, n)
	if n > acc.Capacity {
		acc.Capacity = n
	}
	acc.Balance = n
	acc.LastUpdated = time.Now()
}

// Spend atomically checks and decrements did's balance by n. Fails with
// PolicyDenied("insufficient") if balance < n, per spec.md §4.2/§8
// ("spend(balance+1) → PolicyDenied").
func (l *ManaLedger) Spend(did Did, n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[did]
	if !ok || acc.Balance < n {
		return NewError(KindPolicyDenied, "insufficient")
	}
	acc.Balance -= n
	acc.LastUpdated = time.Now()
	return nil
}

// Credit increments did's balance by n, saturating at capacity per spec.md
// §4.2 ("credit(did, n) → saturating to capacity").
func (l *ManaLedger) Credit(did Did, n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.ensureLocked(did, n)
	sum := acc.Balance + n
	if sum < acc.Balance || sum > acc.Capacity { // overflow or over-capacity
		sum = acc.Capacity
	}
	acc.Balance = sum
	acc.LastUpdated = time.Now()
}

// CreditAll credits n mana to every known account.
func (l *ManaLedger) CreditAll(n uint64) {
	l.mu.Lock()
	dids := make([]Did, 0, len(l.accounts))
	for did := range l.accounts {
		dids = append(dids, did)
	}
	l.mu.Unlock()
	for _, did := range dids {
		l.Credit(did, n)
	}
}

// AllAccounts returns a snapshot copy of every known account.
func (l *ManaLedger) AllAccounts() map[Did]ManaAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Did]ManaAccount, len(l.accounts))
	for did, acc := range l.accounts {
		out[did] = *acc
	}
	return out
}

// RepMultiplier clamps reputation/100.0 to [MinRepMultiplier,
// MaxRepMultiplier], per icn-runtime/tests/mana_regenerator.rs.
func RepMultiplier(reputation int64) float64 {
	m := float64(reputation) / 100.0
	return math.Max(MinRepMultiplier, math.Min(MaxRepMultiplier, m))
}

// Regenerate runs one regeneration tick: for every known account,
// Δ = base_rate × rep_multiplier(rep) × network_health_factor, then
// balance ← min(capacity, balance + Δ), per spec.md §4.2.
func (l *ManaLedger) Regenerate(reputations *ReputationStore, networkHealthFactor float64) {
	l.mu.Lock()
	dids := make([]Did, 0, len(l.accounts))
	for did := range l.accounts {
		dids = append(dids, did)
	}
	l.mu.Unlock()

	for _, did := range dids {
		rep := reputations.GetReputation(did)
		delta := BaseRegenerationRate * RepMultiplier(rep) * networkHealthFactor
		if delta <= 0 {
			continue
		}
		l.mu.Lock()
		acc := l.accounts[did]
		if acc != nil {
			newBal := acc.Balance + uint64(delta)
			if newBal > acc.Capacity {
				newBal = acc.Capacity
			}
			acc.Balance = newBal
			acc.LastUpdated = time.Now()
		}
		l.mu.Unlock()
	}
}

// PolicyEnforcer wraps ManaLedger.Spend with a per-call maximum
// (MAX_SPEND_LIMIT) and, when a ScopedPolicyEnforcer is attached, a
// per-scope ceiling (spec.md §4.2 "optional scoped checks (§6 scoped
// policy)"; see SPEC_FULL.md §C.1).
type PolicyEnforcer struct {
	Ledger        *ManaLedger
	MaxSpendLimit uint64
	Scoped        *ScopedPolicyEnforcer
}

// NewPolicyEnforcer builds a PolicyEnforcer with the given flat spend cap.
func NewPolicyEnforcer(ledger *ManaLedger, maxSpendLimit uint64) *PolicyEnforcer {
	return &PolicyEnforcer{Ledger: ledger, MaxSpendLimit: maxSpendLimit}
}

// Spend enforces the flat and (if attached) scoped spend ceilings before
// delegating to the ledger's atomic Spend.
func (p *PolicyEnforcer) Spend(did Did, n uint64, scope string) error {
	if n > p.MaxSpendLimit {
		return NewError(KindPolicyDenied, "exceeds max spend limit")
	}
	if p.Scoped != nil {
		if err := p.Scoped.Check(did, n, scope); err != nil {
			return err
		}
	}
	if err := p.Ledger.Spend(did, n); err != nil {
		return err
	}
	if p.Scoped != nil {
		p.Scoped.Record(did, n, scope)
	}
	return nil
}
