package core

import "sync"

// ScopedPolicyEnforcer adds a per-scope (cooperative/federation) spend
// ceiling on top of the flat PolicyEnforcer limit. Grounded on
// icn-economics/policy.rs, folded in per SPEC_FULL.md §C.1 to give the
// otherwise-dangling "(§6 scoped policy)" cross-reference in spec.md §4.2
// a concrete implementation.
type ScopedPolicyEnforcer struct {
	mu      sync.Mutex
	ceiling map[string]uint64 // scope -> max cumulative spend
	spent   map[string]uint64 // scope -> cumulative spend so far
}

// NewScopedPolicyEnforcer builds an enforcer with the given per-scope
// ceilings. A scope absent from ceiling has no scoped limit.
func NewScopedPolicyEnforcer(ceiling map[string]uint64) *ScopedPolicyEnforcer {
	c := make(map[string]uint64, len(ceiling))
	for k, v := range ceiling {
		c[k] = v
	}
	return &ScopedPolicyEnforcer{ceiling: c, spent: make(map[string]uint64)}
}

// Check reports PolicyDenied if spending n more within scope would exceed
// that scope's configured ceiling. An empty scope is never limited.
func (s *ScopedPolicyEnforcer) Check(_ Did, n uint64, scope string) error {
	if scope == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cap, limited := s.ceiling[scope]
	if !limited {
		return nil
	}
	if s.spent[scope]+n > cap {
		return NewError(KindPolicyDenied, "scope spend ceiling exceeded")
	}
	return nil
}

// Record books n as spent within scope after a successful ledger spend.
func (s *ScopedPolicyEnforcer) Record(_ Did, n uint64, scope string) {
	if scope == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spent[scope] += n
}
