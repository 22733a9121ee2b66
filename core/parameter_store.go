package core

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// EventKindParameterChange tags event-log entries the parameter store
// replays, per spec.md §4.7.
const EventKindParameterChange = "parameter_change"

// ParameterStore holds the small map of runtime tunables of spec.md §4.7
// (e.g. open_rate_limit, regeneration weights, selection weights). Writes
// are only ever made as the effect of an executed governance proposal;
// this type itself has no public setter other than Set, which the
// governance dispatch table alone calls. A reader-writer lock backs
// concurrent reads, per spec.md §5.
type ParameterStore struct {
	mu     sync.RWMutex
	values map[string]string
	events *EventStore
	snap   string // optional snapshot file path
}

// NewParameterStore constructs a ParameterStore backed by events for
// replay and, optionally, snapshotPath for fast-path restarts.
func NewParameterStore(events *EventStore, snapshotPath string) *ParameterStore {
	return &ParameterStore{values: make(map[string]string), events: events, snap: snapshotPath}
}

// knownKeys is the closed set of tunables this node recognizes; writes to
// any other key fail with InvalidInput, per spec.md §4.7.
var knownKeys = map[string]bool{
	"open_rate_limit":       true,
	"selection_weight_price": true,
	"selection_weight_rep":   true,
	"selection_weight_res":   true,
	"network_health_factor":  true,
	"max_spend_limit":        true,
}

// Get returns the current value of key and whether it is set.
func (p *ParameterStore) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Set writes key=value, appending a replayable event first so a crash
// between the two never loses the write. Unknown keys are rejected, per
// spec.md §4.7.
func (p *ParameterStore) Set(_ context.Context, key, value string) error {
	if !knownKeys[key] {
		return NewError(KindInvalidInput, "unknown parameter key")
	}
	if p.events != nil {
		if err := p.events.Append(Event{Kind: EventKindParameterChange, Key: key, Value: value}); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return p.snapshotLocked()
}

// ReplayFromEvents reconstructs the parameter map by replaying every
// parameter_change event from index 0, per spec.md §4.7/§8 ("Replaying
// the event log reconstructs the parameter store bit-for-bit"). This is
// the authoritative recovery path even if the snapshot file is missing or
// deleted.
func (p *ParameterStore) ReplayFromEvents(ctx context.Context) error {
	if p.events == nil {
		return nil
	}
	events, err := p.events.Query(ctx, 0)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = make(map[string]string)
	for _, ev := range events {
		if ev.Kind == EventKindParameterChange {
			p.values[ev.Key] = ev.Value
		}
	}
	return nil
}

// snapshotLocked writes the current values to p.snap, if configured.
// Callers must hold p.mu for writing.
func (p *ParameterStore) snapshotLocked() error {
	if p.snap == "" {
		return nil
	}
	raw, err := json.Marshal(p.values)
	if err != nil {
		return WrapError(KindSerializationError, "encode parameter snapshot", err)
	}
	if err := os.WriteFile(p.snap, raw, 0o644); err != nil {
		return WrapError(KindDatabaseError, "write parameter snapshot", err)
	}
	return nil
}

// LoadSnapshot loads values from the snapshot file as a fast path; callers
// should still be prepared to ReplayFromEvents if the snapshot is absent or
// stale.
func (p *ParameterStore) LoadSnapshot() error {
	if p.snap == "" {
		return nil
	}
	raw, err := os.ReadFile(p.snap)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return WrapError(KindDatabaseError, "read parameter snapshot", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Unmarshal(raw, &p.values)
}

// All returns a snapshot copy of every currently set parameter.
func (p *ParameterStore) All() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
