package core

import "sync"

// ReputationStore is the per-DID reputation contract of spec.md §4.2. It is
// internally synchronized, mirroring the mana ledger's concurrency model
// (spec.md §5).
type ReputationStore struct {
	mu      sync.Mutex
	scores  map[Did]int64
	anchors map[string]bool // once-per-receipt sentinel, spec.md §4.4/§9
}

// NewReputationStore constructs an empty ReputationStore.
func NewReputationStore() *ReputationStore {
	return &ReputationStore{
		scores:  make(map[Did]int64),
		anchors: make(map[string]bool),
	}
}

// GetReputation returns did's current score, 0 if unknown.
func (r *ReputationStore) GetReputation(did Did) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scores[did]
}

// RecordExecution applies Δ = (success ? +1 : −1) + ⌊cpu_ms/1000⌋ to
// executor's score, clamped to ≥0, per spec.md §4.2. receiptKey, when
// non-empty, guards the update so a given receipt can only ever apply once
// (spec.md §4.4 "Idempotence ... reputation updates must be guarded by a
// once-per-receipt sentinel").
func (r *ReputationStore) RecordExecution(executor Did, success bool, cpuMs uint64, receiptKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if receiptKey != "" {
		if r.anchors[receiptKey] {
			return
		}
		r.anchors[receiptKey] = true
	}
	delta := int64(cpuMs / 1000)
	if success {
		delta++
	} else {
		delta--
	}
	r.applyLocked(executor, delta)
}

// RecordProofAttempt applies ±1 to prover's score, clamped to ≥0, per
// spec.md §4.2.
func (r *ReputationStore) RecordProofAttempt(prover Did, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.applyLocked(prover, 1)
	} else {
		r.applyLocked(prover, -1)
	}
}

func (r *ReputationStore) applyLocked(did Did, delta int64) {
	newScore := r.scores[did] + delta
	if newScore < 0 {
		newScore = 0
	}
	r.scores[did] = newScore
}

// AlreadyAnchored reports whether receiptKey has already had its reputation
// effect applied, without mutating state.
func (r *ReputationStore) AlreadyAnchored(receiptKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.anchors[receiptKey]
}
