package core

import (
	"context"
	"testing"
)

func TestInMemoryMeshBroadcastDeliversToSubscribers(t *testing.T) {
	ctx := context.Background()
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	resolver := NewStaticResolver()
	n := NewInMemoryMeshNetwork(resolver)

	sub, err := n.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	msg := ProtocolMessage{Payload: Payload{Kind: PayloadGossip, Topic: "jobs"}, Nonce: 1}
	msg.Sign(kp)
	if err := n.BroadcastMessage(ctx, msg); err != nil {
		t.Fatalf("BroadcastMessage failed: %v", err)
	}

	select {
	case got := <-sub:
		if got.SenderDid != kp.Did {
			t.Fatalf("unexpected sender: %s", got.SenderDid)
		}
	default:
		t.Fatal("expected broadcast message delivered to subscriber")
	}
}

func TestInMemoryMeshRejectsDuplicateNonce(t *testing.T) {
	ctx := context.Background()
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	resolver := NewStaticResolver()
	n := NewInMemoryMeshNetwork(resolver)

	msg := ProtocolMessage{Payload: Payload{Kind: PayloadGossip, Topic: "jobs"}, Nonce: 42}
	msg.Sign(kp)
	if err := n.BroadcastMessage(ctx, msg); err != nil {
		t.Fatalf("first broadcast failed: %v", err)
	}
	if err := n.BroadcastMessage(ctx, msg); KindOf(err) != KindDuplicateMessage {
		t.Fatalf("expected DuplicateMessage on replay, got %v", err)
	}
}

func TestInMemoryMeshRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	resolver := NewStaticResolver()
	n := NewInMemoryMeshNetwork(resolver)

	msg := ProtocolMessage{
		Payload:   Payload{Kind: PayloadMeshJobAnnouncement, Bytes: []byte("job")},
		SenderDid: kp.Did,
		Nonce:     1,
		Signature: []byte("not a real signature"),
	}
	if err := n.BroadcastMessage(ctx, msg); KindOf(err) != KindSignatureError {
		t.Fatalf("expected SignatureError, got %v", err)
	}
}

func TestInMemoryMeshSendToUnknownPeerFails(t *testing.T) {
	ctx := context.Background()
	kp, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	resolver := NewStaticResolver()
	n := NewInMemoryMeshNetwork(resolver)

	msg := ProtocolMessage{Payload: Payload{Kind: PayloadGossip}, Nonce: 1}
	msg.Sign(kp)
	if err := n.SendMessage(ctx, PeerID("ghost"), msg); KindOf(err) != KindNetworkError {
		t.Fatalf("expected NetworkError for unknown peer, got %v", err)
	}
}

func TestInMemoryMeshStoreGetRecord(t *testing.T) {
	ctx := context.Background()
	n := NewInMemoryMeshNetwork(NewStaticResolver())
	if err := n.StoreRecord(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("StoreRecord failed: %v", err)
	}
	got, err := n.GetRecord(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("unexpected record: %s, %v", got, err)
	}
}

func TestInMemoryMeshNetworkStatsCountsPeers(t *testing.T) {
	ctx := context.Background()
	n := NewInMemoryMeshNetwork(NewStaticResolver())
	n.RegisterPeer("peer-1")
	n.RegisterPeer("peer-2")
	stats, err := n.GetNetworkStats(ctx)
	if err != nil {
		t.Fatalf("GetNetworkStats failed: %v", err)
	}
	if stats.PeerCount != 2 {
		t.Fatalf("expected peer count 2, got %d", stats.PeerCount)
	}
}
