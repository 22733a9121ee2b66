package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestResourceFitZeroWhenUnderfit(t *testing.T) {
	have := ResourceRequirements{CpuCores: 1, MemoryMb: 128, StorageMb: 0}
	want := ResourceRequirements{CpuCores: 2, MemoryMb: 128, StorageMb: 0}
	if resourceFit(have, want) != 0 {
		t.Fatal("expected zero fit when any dimension underfits")
	}
}

func TestScoreBidOrdering(t *testing.T) {
	spec := JobSpec{RequiredResources: ResourceRequirements{CpuCores: 1, MemoryMb: 128}}
	w := DefaultSelectionWeights
	cheap := MeshJobBid{PriceMana: 1, Resources: ResourceRequirements{CpuCores: 2, MemoryMb: 256}}
	expensive := MeshJobBid{PriceMana: 100, Resources: ResourceRequirements{CpuCores: 2, MemoryMb: 256}}
	if ScoreBid(cheap, 10, spec, w) <= ScoreBid(expensive, 10, spec, w) {
		t.Fatal("expected cheaper bid to score higher, all else equal")
	}
}

func TestSelectExecutorTieBreakReputationThenPriceThenDid(t *testing.T) {
	spec := JobSpec{RequiredResources: ResourceRequirements{CpuCores: 1, MemoryMb: 64}}
	reps := NewReputationStore()
	reps.RecordExecution("did:key:aaa", true, 999000, "") // high reputation
	reps.RecordExecution("did:key:bbb", true, 999000, "")

	bids := []MeshJobBid{
		{ExecutorDid: "did:key:bbb", PriceMana: 5, Resources: ResourceRequirements{CpuCores: 1, MemoryMb: 64}},
		{ExecutorDid: "did:key:aaa", PriceMana: 5, Resources: ResourceRequirements{CpuCores: 1, MemoryMb: 64}},
	}
	winner := SelectExecutor(bids, spec, reps, nil, DefaultSelectionWeights)
	if winner == nil {
		t.Fatal("expected a winner")
	}
	// equal reputation, equal price -> lexicographically smaller DID wins.
	if winner.ExecutorDid != "did:key:aaa" {
		t.Fatalf("expected did:key:aaa to win tie-break, got %s", winner.ExecutorDid)
	}
}

func TestSelectExecutorExcludesBelowMinReputation(t *testing.T) {
	spec := JobSpec{
		RequiredResources:     ResourceRequirements{CpuCores: 1, MemoryMb: 64},
		MinExecutorReputation: 5,
	}
	reps := NewReputationStore()
	bids := []MeshJobBid{
		{ExecutorDid: "did:key:low", PriceMana: 1, Resources: ResourceRequirements{CpuCores: 1, MemoryMb: 64}},
	}
	if winner := SelectExecutor(bids, spec, reps, nil, DefaultSelectionWeights); winner != nil {
		t.Fatalf("expected no winner below minimum reputation, got %v", winner)
	}
}

func TestSelectExecutorExcludesInsufficientResources(t *testing.T) {
	spec := JobSpec{RequiredResources: ResourceRequirements{CpuCores: 4, MemoryMb: 1024}}
	reps := NewReputationStore()
	bids := []MeshJobBid{
		{ExecutorDid: "did:key:weak", PriceMana: 1, Resources: ResourceRequirements{CpuCores: 1, MemoryMb: 128}},
	}
	if winner := SelectExecutor(bids, spec, reps, nil, DefaultSelectionWeights); winner != nil {
		t.Fatalf("expected no winner when resources insufficient, got %v", winner)
	}
}

func TestSelectExecutorNoCandidatesReturnsNil(t *testing.T) {
	spec := JobSpec{}
	reps := NewReputationStore()
	if winner := SelectExecutor(nil, spec, reps, nil, DefaultSelectionWeights); winner != nil {
		t.Fatal("expected nil winner for empty bid list")
	}
}

// newTestJobManager wires a JobManager with an in-memory mesh network and
// funded submitter, mirroring spec.md §8's Echo-job happy path.
func newTestJobManager(t *testing.T) (*JobManager, *KeyPair, Resolver) {
	t.Helper()
	resolver := NewStaticResolver()
	mesh := NewInMemoryMeshNetwork(resolver)
	mana := NewManaLedger()
	reps := NewReputationStore()
	policy := NewPolicyEnforcer(mana, 1_000_000)
	dag := NewMemoryDagStore()
	federations := NewFederationRegistry()
	jm := NewJobManager(mana, policy, reps, dag, mesh, resolver, federations)

	submitter, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	mana.SetBalance(submitter.Did, 1000)
	return jm, submitter, resolver
}

func TestJobManagerSubmitJobDeductsManaAndAnnounces(t *testing.T) {
	ctx := context.Background()
	jm, submitter, _ := newTestJobManager(t)

	spec := JobSpec{Kind: JobKindEcho, Payload: []byte("hello")}
	manifest, err := rawCid([]byte("manifest"))
	if err != nil {
		t.Fatalf("rawCid failed: %v", err)
	}
	jobId, err := jm.SubmitJob(ctx, submitter, manifest, spec, 10, nil)
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if jm.mana.GetBalance(submitter.Did) != 990 {
		t.Fatalf("expected balance 990 after cost_mana spend, got %d", jm.mana.GetBalance(submitter.Did))
	}
	state := jm.GetJobState(jobId)
	if state == nil || state.Status != JobStatusPending {
		t.Fatalf("expected pending state, got %+v", state)
	}
}

func TestJobManagerSubmitJobRejectsInsufficientMana(t *testing.T) {
	ctx := context.Background()
	jm, submitter, _ := newTestJobManager(t)
	jm.mana.SetBalance(submitter.Did, 1)

	spec := JobSpec{Kind: JobKindEcho, Payload: []byte("hi")}
	manifest, _ := rawCid([]byte("m"))
	_, err := jm.SubmitJob(ctx, submitter, manifest, spec, 100, nil)
	if KindOf(err) != KindInsufficientMana {
		t.Fatalf("expected InsufficientMana, got %v", err)
	}
}

func TestJobManagerBackpressureRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	jm, submitter, _ := newTestJobManager(t)
	jm.mana.SetBalance(submitter.Did, 1_000_000)

	spec := JobSpec{Kind: JobKindEcho, Payload: []byte("x")}
	var lastErr error
	for i := 0; i < DefaultPerSubmitterInFlight+1; i++ {
		manifest, _ := rawCid([]byte{byte(i)})
		_, lastErr = jm.SubmitJob(ctx, submitter, manifest, spec, 1, nil)
	}
	if KindOf(lastErr) != KindInvalidInput {
		t.Fatalf("expected rate limit InvalidInput on overflow, got %v", lastErr)
	}
}

func TestJobManagerFullPipelineEchoJob(t *testing.T) {
	ctx := context.Background()
	jm, submitter, resolver := newTestJobManager(t)
	mesh := jm.mesh.(*InMemoryMeshNetwork)

	executor, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	jm.reputation.RecordExecution(executor.Did, true, 0, "")

	sub, err := mesh.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	spec := JobSpec{Kind: JobKindEcho, Payload: []byte("echo me"), RequiredResources: ResourceRequirements{CpuCores: 1, MemoryMb: 1}}
	manifest, _ := rawCid([]byte("manifest"))
	jobId, err := jm.SubmitJob(ctx, submitter, manifest, spec, 10, nil)
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}

	bid := MeshJobBid{JobId: jobId, ExecutorDid: executor.Did, PriceMana: 1, Resources: ResourceRequirements{CpuCores: 2, MemoryMb: 4}}
	bid.Signature = executor.Sign(bid.SignableBytes())
	body, _ := json.Marshal(bid)
	bidMsg := ProtocolMessage{Payload: Payload{Kind: PayloadMeshBidSubmission, Bytes: body}}
	bidMsg.Sign(executor)
	if err := mesh.BroadcastMessage(ctx, bidMsg); err != nil {
		t.Fatalf("bid broadcast failed: %v", err)
	}

	bids := jm.CollectBids(ctx, sub, jobId, time.Now().Add(50*time.Millisecond))
	if len(bids) != 1 {
		t.Fatalf("expected 1 collected bid, got %d", len(bids))
	}

	winner := SelectExecutor(bids, spec, jm.reputation, jm.federations, jm.weights)
	if winner == nil {
		t.Fatal("expected a winning bid")
	}
	if err := jm.Assign(ctx, submitter, jobId, winner.ExecutorDid); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	resultCid, err := rawCid([]byte("echo me"))
	if err != nil {
		t.Fatalf("rawCid failed: %v", err)
	}
	receipt := ExecutionReceipt{JobId: jobId, ExecutorDid: executor.Did, ResultCid: resultCid, CpuMs: 5, Success: true}
	receipt.Signature = executor.Sign(receipt.SignableBytes())
	receiptBody, _ := json.Marshal(receipt)
	receiptMsg := ProtocolMessage{Payload: Payload{Kind: PayloadMeshReceiptSubmission, Bytes: receiptBody}}
	receiptMsg.Sign(executor)
	if err := mesh.BroadcastMessage(ctx, receiptMsg); err != nil {
		t.Fatalf("receipt broadcast failed: %v", err)
	}

	got, err := jm.WaitForReceipt(ctx, sub, jobId, executor.Did, time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("WaitForReceipt failed: %v", err)
	}

	anchorCid, err := jm.AnchorReceipt(ctx, *got)
	if err != nil {
		t.Fatalf("AnchorReceipt failed: %v", err)
	}
	if !anchorCid.Defined() {
		t.Fatal("expected anchored cid to be defined for a successful receipt")
	}

	state := jm.GetJobState(jobId)
	if state == nil || state.Status != JobStatusCompleted {
		t.Fatalf("expected completed state, got %+v", state)
	}
	if jm.reputation.GetReputation(executor.Did) <= 0 {
		t.Fatal("expected reputation increase after successful execution")
	}

	_ = resolver
}

func TestJobManagerAnchorReceiptIdempotentReputation(t *testing.T) {
	ctx := context.Background()
	jm, submitter, _ := newTestJobManager(t)
	executor, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}

	spec := JobSpec{Kind: JobKindEcho, Payload: []byte("x")}
	manifest, _ := rawCid([]byte("m"))
	jobId, err := jm.SubmitJob(ctx, submitter, manifest, spec, 1, nil)
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	resultCid, _ := rawCid([]byte("result"))
	receipt := ExecutionReceipt{JobId: jobId, ExecutorDid: executor.Did, ResultCid: resultCid, CpuMs: 0, Success: true}
	receipt.Signature = executor.Sign(receipt.SignableBytes())

	if _, err := jm.AnchorReceipt(ctx, receipt); err != nil {
		t.Fatalf("first AnchorReceipt failed: %v", err)
	}
	repAfterFirst := jm.reputation.GetReputation(executor.Did)

	if _, err := jm.AnchorReceipt(ctx, receipt); err != nil {
		t.Fatalf("second AnchorReceipt failed: %v", err)
	}
	if jm.reputation.GetReputation(executor.Did) != repAfterFirst {
		t.Fatal("expected reputation unchanged on repeat anchoring of the same receipt")
	}
}
