package core

import (
	"context"
	"testing"
	"time"
)

func TestDagBlockIntegrity(t *testing.T) {
	now := time.Now()
	b, err := NewDagBlock([]byte("payload"), nil, Did("did:key:author"), nil, "", now)
	if err != nil {
		t.Fatalf("NewDagBlock failed: %v", err)
	}
	if err := b.VerifyIntegrity(); err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}

	tampered := b
	tampered.Data = []byte("tampered")
	if err := tampered.VerifyIntegrity(); err == nil {
		t.Fatal("expected integrity check to fail on tampered data")
	}
}

func TestDagBlockCodecByLinks(t *testing.T) {
	now := time.Now()
	leaf, err := NewDagBlock([]byte("leaf"), nil, Did("did:key:a"), nil, "", now)
	if err != nil {
		t.Fatalf("NewDagBlock leaf failed: %v", err)
	}
	if leaf.Cid.Type() != CodecRaw {
		t.Fatalf("expected raw codec for linkless block, got %d", leaf.Cid.Type())
	}

	parent, err := NewDagBlock([]byte("parent"), []DagLink{{Cid: leaf.Cid, Name: "child", Size: 4}}, Did("did:key:a"), nil, "", now)
	if err != nil {
		t.Fatalf("NewDagBlock parent failed: %v", err)
	}
	if parent.Cid.Type() != CodecDagCbor {
		t.Fatalf("expected dag-cbor codec for linked block, got %d", parent.Cid.Type())
	}
}

func TestBlockMetadataExpired(t *testing.T) {
	now := time.Now()
	ttl := time.Minute
	m := BlockMetadata{CreatedAt: now.Add(-2 * time.Minute), TTL: &ttl}
	if !m.Expired(now) {
		t.Fatal("expected expired block")
	}
	m.Pinned = true
	if m.Expired(now) {
		t.Fatal("pinned block must never expire")
	}
}

func TestMemoryDagStorePutGetPin(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDagStore()
	b, err := NewDagBlock([]byte("hello"), nil, Did("did:key:a"), nil, "", time.Now())
	if err != nil {
		t.Fatalf("NewDagBlock failed: %v", err)
	}
	if err := s.Put(ctx, b); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, b.Cid)
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v, %v", got, err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("unexpected data: %s", got.Data)
	}

	if err := s.Pin(ctx, b.Cid); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	meta, err := s.GetMetadata(ctx, b.Cid)
	if err != nil || meta == nil || !meta.Pinned {
		t.Fatalf("expected pinned metadata, got %+v, %v", meta, err)
	}

	ttl := time.Millisecond
	if err := s.SetTTL(ctx, b.Cid, &ttl); err != nil {
		t.Fatalf("SetTTL failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	removed, err := s.PruneExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("pinned block must survive prune, got %d removed", len(removed))
	}

	if err := s.Unpin(ctx, b.Cid); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}
	removed, err = s.PruneExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected unpinned expired block to be pruned, got %d", len(removed))
	}
	if ok, _ := s.Contains(ctx, b.Cid); ok {
		t.Fatal("expected block removed after prune")
	}
}

func TestFileDagStoreShardingRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileDagStore(dir)
	if err != nil {
		t.Fatalf("NewFileDagStore failed: %v", err)
	}
	b, err := NewDagBlock([]byte("shard me"), nil, Did("did:key:a"), nil, "", time.Now())
	if err != nil {
		t.Fatalf("NewDagBlock failed: %v", err)
	}
	if err := s.Put(ctx, b); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cidStr := b.Cid.String()
	if _, statErr := s.read(cidStr); statErr != nil {
		t.Fatalf("read failed: %v", statErr)
	}

	ok, err := s.Contains(ctx, b.Cid)
	if err != nil || !ok {
		t.Fatalf("expected block to be found via shard path, ok=%v err=%v", ok, err)
	}

	got, err := s.Get(ctx, b.Cid)
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v, %v", got, err)
	}
	if string(got.Data) != "shard me" {
		t.Fatalf("unexpected data: %s", got.Data)
	}

	n, err := s.Len(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected len 1, got %d (%v)", n, err)
	}

	if err := s.Delete(ctx, b.Cid); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, err = s.Contains(ctx, b.Cid)
	if err != nil || ok {
		t.Fatalf("expected block gone after delete, ok=%v err=%v", ok, err)
	}
}

func TestCidRoundTripsThroughString(t *testing.T) {
	b, err := NewDagBlock([]byte("x"), nil, Did("did:key:a"), nil, "", time.Now())
	if err != nil {
		t.Fatalf("NewDagBlock failed: %v", err)
	}
	parsed, err := parseCid(b.Cid.String())
	if err != nil {
		t.Fatalf("parseCid failed: %v", err)
	}
	if !parsed.Equals(b.Cid) {
		t.Fatal("parsed cid does not equal original")
	}
}
