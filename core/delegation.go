package core

import "sync"

// DelegationGraph tracks vote delegation edges, enforcing the acyclic and
// no-self-delegation invariants of spec.md §4.5/§8. Grounded on
// icn-governance/tests/delegation.rs.
type DelegationGraph struct {
	mu   sync.Mutex
	edge map[Did]Did // from -> to, at most one outgoing edge per voter
}

// NewDelegationGraph constructs an empty DelegationGraph.
func NewDelegationGraph() *DelegationGraph {
	return &DelegationGraph{edge: make(map[Did]Did)}
}

// Delegate records from -> to, rejecting self-delegation and cycles.
func (g *DelegationGraph) Delegate(from, to Did) error {
	if from == to {
		return NewError(KindInvalidInput, "self-delegation is not allowed")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// Walk the chain starting at `to`; if it ever reaches `from`, adding
	// from->to would close a cycle.
	visited := map[Did]bool{from: true}
	cur := to
	for {
		if visited[cur] {
			return NewError(KindInvalidInput, "delegation would create a cycle")
		}
		visited[cur] = true
		next, ok := g.edge[cur]
		if !ok {
			break
		}
		cur = next
	}
	g.edge[from] = to
	return nil
}

// Revoke removes from's outgoing delegation edge, if any.
func (g *DelegationGraph) Revoke(from Did) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edge, from)
}

// DelegateOf returns the DID from has delegated to, and whether one exists.
func (g *DelegationGraph) DelegateOf(from Did) (Did, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	to, ok := g.edge[from]
	return to, ok
}

// DelegationsTo counts how many voters ultimately delegate (directly or
// transitively) their power to delegate, per spec.md §4.5's tally formula
// "Σ (1 + delegations_to(v))".
func (g *DelegationGraph) DelegationsTo(delegate Did) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var count uint64
	for from := range g.edge {
		if g.resolvesToLocked(from) == delegate && from != delegate {
			count++
		}
	}
	return count
}

// resolvesToLocked follows from's delegation chain to its terminus. Callers
// must hold g.mu.
func (g *DelegationGraph) resolvesToLocked(from Did) Did {
	cur := from
	seen := map[Did]bool{}
	for {
		if seen[cur] {
			return cur // defensive: a cycle should never exist post-Delegate
		}
		seen[cur] = true
		next, ok := g.edge[cur]
		if !ok {
			return cur
		}
		cur = next
	}
}

// EffectiveVoter resolves voter's delegation chain to the DID whose ballot
// actually carries voter's power. CastVote rejects direct votes from
// delegators through HasDelegated, not through this method.
func (g *DelegationGraph) EffectiveVoter(voter Did) Did {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolvesToLocked(voter)
}

// HasDelegated reports whether voter has an outgoing delegation edge.
func (g *DelegationGraph) HasDelegated(voter Did) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.edge[voter]
	return ok
}
