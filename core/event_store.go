package core

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Event is one append-only log entry, per spec.md §4.7/§6.4. Kind tags its
// source: the parameter store replays its own events, while the governance
// module's proposal_submitted/proposal_executed events carry only the
// proposal id and are not replayed. Key/Value carry the kind-specific
// payload.
type Event struct {
	Index int64  `json:"index"`
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// EventStore is the append-only persistence contract of spec.md §4.7/§10:
// append(event), query(since_index?) → [event]. The file backend is
// append-only JSON-lines; a corrupt line fails replay. Grounded on
// icn-eventstore/src/lib.rs.
type EventStore struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	nextIdx int64
}

// NewEventStore opens (creating if needed) an append-only JSON-lines event
// log at path.
func NewEventStore(path string) (*EventStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, WrapError(KindDatabaseError, "open event log", err)
	}
	es := &EventStore{file: f, path: path}
	existing, err := es.queryFromDisk(0)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		es.nextIdx = existing[len(existing)-1].Index + 1
	}
	return es, nil
}

// Append writes event to the log, assigning it the next index and an ID if
// absent.
func (s *EventStore) Append(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Index = s.nextIdx
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return WrapError(KindSerializationError, "encode event", err)
	}
	raw = append(raw, '\n')
	if _, err := s.file.Write(raw); err != nil {
		return WrapError(KindDatabaseError, "append event", err)
	}
	if err := s.file.Sync(); err != nil {
		return WrapError(KindDatabaseError, "sync event log", err)
	}
	s.nextIdx++
	return nil
}

// Query returns every event with Index >= sinceIndex, per spec.md §4.7's
// query(since_index?) → [event]. A corrupt line aborts replay with
// DeserializationError, per spec.md §4.7's "integrity is per-line".
func (s *EventStore) Query(_ context.Context, sinceIndex int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryFromDisk(sinceIndex)
}

func (s *EventStore) queryFromDisk(sinceIndex int64) ([]Event, error) {
	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, WrapError(KindDatabaseError, "seek event log", err)
	}
	var events []Event
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, WrapError(KindDeserializationError, "corrupt event log line", err)
		}
		if ev.Index >= sinceIndex {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, WrapError(KindDatabaseError, "scan event log", err)
	}
	if _, err := s.file.Seek(0, 2); err != nil {
		return nil, WrapError(KindDatabaseError, "seek event log", err)
	}
	return events, nil
}

// Close closes the underlying file handle.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
