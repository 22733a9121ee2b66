package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParameterStoreSetRejectsUnknownKey(t *testing.T) {
	r := require.New(t)
	p := NewParameterStore(nil, "")
	err := p.Set(context.Background(), "not_a_real_key", "1")
	r.Equal(KindInvalidInput, KindOf(err))
}

func TestParameterStoreGetSetRoundTrip(t *testing.T) {
	r := require.New(t)
	p := NewParameterStore(nil, "")
	_, ok := p.Get("open_rate_limit")
	r.False(ok)

	r.NoError(p.Set(context.Background(), "open_rate_limit", "7"))
	got, ok := p.Get("open_rate_limit")
	r.True(ok)
	r.Equal("7", got)
}

func TestParameterStoreSetAppendsEvent(t *testing.T) {
	r := require.New(t)
	events, err := NewEventStore(filepath.Join(t.TempDir(), "events.log"))
	r.NoError(err)
	defer events.Close()

	p := NewParameterStore(events, "")
	r.NoError(p.Set(context.Background(), "max_spend_limit", "500"))

	logged, err := events.Query(context.Background(), 0)
	r.NoError(err)
	r.Len(logged, 1)
	r.Equal(EventKindParameterChange, logged[0].Kind)
	r.Equal("max_spend_limit", logged[0].Key)
	r.Equal("500", logged[0].Value)
}

func TestParameterStoreReplayFromEventsReconstructsState(t *testing.T) {
	r := require.New(t)
	events, err := NewEventStore(filepath.Join(t.TempDir(), "events.log"))
	r.NoError(err)
	defer events.Close()

	p := NewParameterStore(events, "")
	r.NoError(p.Set(context.Background(), "open_rate_limit", "1"))
	r.NoError(p.Set(context.Background(), "open_rate_limit", "2"))
	r.NoError(p.Set(context.Background(), "max_spend_limit", "99"))

	fresh := NewParameterStore(events, "")
	r.NoError(fresh.ReplayFromEvents(context.Background()))

	got, ok := fresh.Get("open_rate_limit")
	r.True(ok)
	r.Equal("2", got)

	got, ok = fresh.Get("max_spend_limit")
	r.True(ok)
	r.Equal("99", got)
}

func TestParameterStoreSnapshotPersistsAcrossRestart(t *testing.T) {
	r := require.New(t)
	snapPath := filepath.Join(t.TempDir(), "params.snapshot.json")
	p := NewParameterStore(nil, snapPath)
	r.NoError(p.Set(context.Background(), "selection_weight_price", "0.5"))

	restarted := NewParameterStore(nil, snapPath)
	r.NoError(restarted.LoadSnapshot())

	got, ok := restarted.Get("selection_weight_price")
	r.True(ok)
	r.Equal("0.5", got)
}

func TestParameterStoreLoadSnapshotMissingFileIsNotAnError(t *testing.T) {
	r := require.New(t)
	p := NewParameterStore(nil, filepath.Join(t.TempDir(), "absent.json"))
	r.NoError(p.LoadSnapshot())
}

func TestParameterStoreAllReturnsCopy(t *testing.T) {
	r := require.New(t)
	p := NewParameterStore(nil, "")
	r.NoError(p.Set(context.Background(), "network_health_factor", "1.0"))

	all := p.All()
	all["network_health_factor"] = "mutated"
	got, _ := p.Get("network_health_factor")
	r.Equal("1.0", got)
}
