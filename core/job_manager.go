package core

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Fixed defaults for the bid window, the execution deadline and the
// per-submitter in-flight bound (spec.md §4.4). The parameter store has no
// keys for them, so governance execution does not change them.
const (
	DefaultBidWindow            = 5 * time.Second
	DefaultMaxExecutionWaitMs   = uint64(30_000)
	DefaultPerSubmitterInFlight = 16
)

// SelectionWeights are the governance-tunable weights of the executor
// scoring function, spec.md §4.4.
type SelectionWeights struct {
	WPrice float64
	WRep   float64
	WRes   float64
}

// DefaultSelectionWeights mirrors spec.md's scoring illustration.
var DefaultSelectionWeights = SelectionWeights{WPrice: 1.0, WRep: 1.0, WRes: 1.0}

// resourceFit is 0 if any required dimension exceeds offered, else the
// normalized surplus averaged across dimensions, per spec.md §4.4.
func resourceFit(have, want ResourceRequirements) float64 {
	if !have.fits(want) {
		return 0
	}
	return (surplus(have.CpuCores, want.CpuCores) +
		surplus(have.MemoryMb, want.MemoryMb) +
		surplus(have.StorageMb, want.StorageMb)) / 3
}

func surplus(have, want uint32) float64 {
	if want == 0 {
		if have == 0 {
			return 0
		}
		return 1
	}
	return float64(have-want) / float64(want)
}

// ScoreBid computes spec.md §4.4's scoring function for one bid.
func ScoreBid(bid MeshJobBid, reputation int64, spec JobSpec, w SelectionWeights) float64 {
	price := w.WPrice * (1.0 / (1.0 + float64(bid.PriceMana)))
	rep := w.WRep * float64(reputation)
	res := w.WRes * resourceFit(bid.Resources, spec.RequiredResources)
	return price + rep + res
}

// SelectExecutor picks the winning bid per spec.md §4.4: bids violating
// resource/reputation/federation minimums are excluded; the remainder is
// ranked by score with tie-break (1) higher reputation, (2) lower price,
// (3) lexicographic executor DID. Returns nil if no bid qualifies.
func SelectExecutor(bids []MeshJobBid, spec JobSpec, reputations *ReputationStore, federations *FederationRegistry, w SelectionWeights) *MeshJobBid {
	type scored struct {
		bid   MeshJobBid
		score float64
		rep   int64
	}
	var candidates []scored
	for _, b := range bids {
		rep := reputations.GetReputation(b.ExecutorDid)
		if rep < spec.MinExecutorReputation {
			continue
		}
		if resourceFit(b.Resources, spec.RequiredResources) == 0 && !b.Resources.fits(spec.RequiredResources) {
			continue
		}
		if federations != nil && !federations.SatisfiesFederations(b.ExecutorDid, b.ExecutorFederations, spec.AllowedFederations) {
			continue
		}
		candidates = append(candidates, scored{bid: b, score: ScoreBid(b, rep, spec, w), rep: rep})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].rep != candidates[j].rep {
			return candidates[i].rep > candidates[j].rep
		}
		if candidates[i].bid.PriceMana != candidates[j].bid.PriceMana {
			return candidates[i].bid.PriceMana < candidates[j].bid.PriceMana
		}
		return candidates[i].bid.ExecutorDid < candidates[j].bid.ExecutorDid
	})
	winner := candidates[0].bid
	return &winner
}

// jobAnnouncement is the JSON body of a PayloadMeshJobAnnouncement message.
type jobAnnouncement struct {
	JobId       string  `json:"job_id"`
	ManifestCid string  `json:"manifest_cid"`
	CreatorDid  string  `json:"creator_did"`
	CostMana    uint64  `json:"cost_mana"`
	Spec        JobSpec `json:"spec"`
	BidDeadline int64   `json:"bid_deadline_unix_ms"`
}

// JobManager is the central pipeline of spec.md §4.4: submission, bid
// collection, executor selection, dispatch, receipt wait, anchoring.
type JobManager struct {
	mana        *ManaLedger
	policy      *PolicyEnforcer
	reputation  *ReputationStore
	dag         DagStore
	mesh        MeshNetworkService
	resolver    Resolver
	federations *FederationRegistry
	weights     SelectionWeights

	statesMu    sync.Mutex
	states      map[string]*JobState
	submitterOf map[string]Did

	inFlightMu sync.Mutex
	inFlight   map[Did]int

	receiptOnce singleflight.Group
	log         *logrus.Entry
}

// NewJobManager wires a JobManager over its dependent stores and the mesh
// network, per spec.md §4.4's "Control flow" note in §2.
func NewJobManager(mana *ManaLedger, policy *PolicyEnforcer, reputation *ReputationStore, dag DagStore, mesh MeshNetworkService, resolver Resolver, federations *FederationRegistry) *JobManager {
	return &JobManager{
		mana:        mana,
		policy:      policy,
		reputation:  reputation,
		dag:         dag,
		mesh:        mesh,
		resolver:    resolver,
		federations: federations,
		weights:     DefaultSelectionWeights,
		states:      make(map[string]*JobState),
		submitterOf: make(map[string]Did),
		inFlight:    make(map[Did]int),
		log:         logrus.WithField("component", "job_manager"),
	}
}

// SetWeights overrides the selection weights. Nothing in the core calls it:
// executing a SystemParameterChange for a selection_weight_* key updates the
// parameter store only.
func (m *JobManager) SetWeights(w SelectionWeights) { m.weights = w }

// acquireSlot enforces the per-submitter bounded in-flight queue of
// spec.md §4.4 ("Backpressure: a bounded queue of in-flight jobs per
// submitter; overflow → InvalidInput(\"rate limit\")").
func (m *JobManager) acquireSlot(submitter Did, limit int) error {
	m.inFlightMu.Lock()
	defer m.inFlightMu.Unlock()
	if m.inFlight[submitter] >= limit {
		return NewError(KindInvalidInput, "rate limit")
	}
	m.inFlight[submitter]++
	return nil
}

func (m *JobManager) releaseSlot(submitter Did) {
	m.inFlightMu.Lock()
	defer m.inFlightMu.Unlock()
	if m.inFlight[submitter] > 0 {
		m.inFlight[submitter]--
	}
}

func (m *JobManager) setState(jobId JobId, s JobState) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.states[jobId.String()] = &s
}

// GetJobState returns the current state of jobId, or nil if unknown.
func (m *JobManager) GetJobState(jobId JobId) *JobState {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	s, ok := m.states[jobId.String()]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *JobManager) transition(jobId JobId, next JobState) error {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	key := jobId.String()
	cur, ok := m.states[key]
	if ok && !cur.canTransitionTo(next.Status) {
		return NewError(KindInvalidJobState, "illegal job state transition")
	}
	m.states[key] = &next
	return nil
}

// SubmitJob implements spec.md §4.4's submission contract:
// handle_submit_job(manifest_cid, spec_bytes, cost_mana) → JobId.
func (m *JobManager) SubmitJob(ctx context.Context, kp *KeyPair, manifestCid Cid, spec JobSpec, costMana uint64, maxExecutionWaitMs *uint64) (JobId, error) {
	var zero JobId
	if err := m.acquireSlot(kp.Did, DefaultPerSubmitterInFlight); err != nil {
		return zero, err
	}

	if m.mana.GetBalance(kp.Did) < costMana {
		m.releaseSlot(kp.Did)
		return zero, NewError(KindInsufficientMana, "submitter balance below cost_mana")
	}
	if err := m.policy.Spend(kp.Did, costMana, spec.TrustScope); err != nil {
		m.releaseSlot(kp.Did)
		return zero, err
	}

	job := ActualMeshJob{
		ManifestCid:        manifestCid,
		Spec:               spec,
		CreatorDid:         kp.Did,
		CostMana:           costMana,
		MaxExecutionWaitMs: maxExecutionWaitMs,
	}
	job.Signature = kp.Sign(job.SignableBytes())
	jobId, err := rawCid(append(job.SignableBytes(), job.Signature...))
	if err != nil {
		m.mana.Credit(kp.Did, costMana) // compensate: couldn't even construct the job id
		m.releaseSlot(kp.Did)
		return zero, err
	}
	job.Id = jobId

	m.setState(jobId, JobState{Status: JobStatusPending})
	m.statesMu.Lock()
	m.submitterOf[jobId.String()] = kp.Did
	m.statesMu.Unlock()

	deadline := time.Now().Add(DefaultBidWindow)
	body, err := json.Marshal(jobAnnouncement{
		JobId:       jobId.String(),
		ManifestCid: manifestCid.String(),
		CreatorDid:  string(kp.Did),
		CostMana:    costMana,
		Spec:        spec,
		BidDeadline: deadline.UnixMilli(),
	})
	if err != nil {
		return zero, WrapError(KindSerializationError, "encode job announcement", err)
	}
	announce := ProtocolMessage{Payload: Payload{Kind: PayloadMeshJobAnnouncement, Bytes: body}}
	announce.Sign(kp)
	if err := m.mesh.BroadcastMessage(ctx, announce); err != nil {
		m.log.WithError(err).Warn("job announcement broadcast failed")
	}
	return jobId, nil
}

// CollectBids gathers MeshBidSubmission messages for jobId from sub until
// deadline, validating each bid's signature before accepting it. Per
// spec.md §4.4, "Bids violating constraints are dropped"; constraint
// filtering (reputation/resources/federation) happens in SelectExecutor so
// a dropped-for-scoring bid is still visible to callers inspecting the raw
// collection.
func (m *JobManager) CollectBids(ctx context.Context, sub <-chan ProtocolMessage, jobId JobId, deadline time.Time) []MeshJobBid {
	var bids []MeshJobBid
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return bids
		case <-timer.C:
			return bids
		case msg, ok := <-sub:
			if !ok {
				return bids
			}
			if msg.Payload.Kind != PayloadMeshBidSubmission {
				continue
			}
			var bid MeshJobBid
			if err := json.Unmarshal(msg.Payload.Bytes, &bid); err != nil {
				continue
			}
			if !bid.JobId.Equals(jobId) {
				continue
			}
			if err := Verify(m.resolver, bid.ExecutorDid, bid.SignableBytes(), bid.Signature); err != nil {
				m.log.WithError(err).Debug("dropping bid with invalid signature")
				continue
			}
			bids = append(bids, bid)
		}
	}
}

// Assign transitions jobId to Assigned{executor} and broadcasts the
// assignment, per spec.md §4.4. It arms no execution deadline;
// WaitForReceipt takes the deadline as an argument.
func (m *JobManager) Assign(ctx context.Context, kp *KeyPair, jobId JobId, executor Did) error {
	if err := m.transition(jobId, JobState{Status: JobStatusAssigned, Executor: executor}); err != nil {
		return err
	}
	body, _ := json.Marshal(struct {
		JobId    string `json:"job_id"`
		Executor string `json:"executor_did"`
	}{JobId: jobId.String(), Executor: string(executor)})
	notice := ProtocolMessage{Payload: Payload{Kind: PayloadMeshJobAnnouncement, Bytes: body}}
	notice.Sign(kp)
	return m.mesh.BroadcastMessage(ctx, notice)
}

// WaitForReceipt awaits a MeshReceiptSubmission from the assigned executor
// for jobId, ignoring late or mismatched-executor receipts, per spec.md
// §4.4. Returns Timeout if deadline elapses first.
func (m *JobManager) WaitForReceipt(ctx context.Context, sub <-chan ProtocolMessage, jobId JobId, executor Did, deadline time.Time) (*ExecutionReceipt, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, NewError(KindTimeout, "execution deadline exceeded")
		case msg, ok := <-sub:
			if !ok {
				return nil, NewError(KindNetworkError, "subscription closed")
			}
			if msg.Payload.Kind != PayloadMeshReceiptSubmission {
				continue
			}
			var receipt ExecutionReceipt
			if err := json.Unmarshal(msg.Payload.Bytes, &receipt); err != nil {
				continue
			}
			if !receipt.JobId.Equals(jobId) || receipt.ExecutorDid != executor {
				continue
			}
			return &receipt, nil
		}
	}
}

// AnchorReceipt implements spec.md §4.4's anchoring contract:
//  1. verify the executor's signature,
//  2. DAG-put the receipt block (idempotent: identical bytes yield an
//     identical CID),
//  3. update reputation exactly once per receipt,
//  4. set JobState::Completed{receipt}.
func (m *JobManager) AnchorReceipt(ctx context.Context, receipt ExecutionReceipt) (Cid, error) {
	var zero Cid
	if err := Verify(m.resolver, receipt.ExecutorDid, receipt.SignableBytes(), receipt.Signature); err != nil {
		return zero, err
	}

	// spec.md §9: only successful receipts are anchored to the DAG.
	var anchorCid Cid
	if receipt.Success {
		body, err := json.Marshal(receipt)
		if err != nil {
			return zero, WrapError(KindSerializationError, "encode receipt", err)
		}
		// A fixed timestamp keeps the block, and so its CID, the same every
		// time this receipt is anchored.
		block, err := NewDagBlock(body, nil, receipt.ExecutorDid, receipt.Signature, "", time.Unix(0, 0))
		if err != nil {
			return zero, err
		}
		if err := Retry(ctx, DefaultBackoffPolicy, func() error {
			return m.dag.Put(ctx, block)
		}); err != nil {
			return zero, err
		}
		anchorCid = block.Cid
	}

	receiptKey := receipt.JobId.String() + "|" + string(receipt.ExecutorDid)
	_, _, _ = m.receiptOnce.Do(receiptKey, func() (interface{}, error) {
		m.reputation.RecordExecution(receipt.ExecutorDid, receipt.Success, receipt.CpuMs, receiptKey)
		return nil, nil
	})

	if cur := m.GetJobState(receipt.JobId); cur != nil && cur.Receipt != nil &&
		string(cur.Receipt.SignableBytes()) == string(receipt.SignableBytes()) {
		return anchorCid, nil // this receipt is already anchored: no-op
	}

	status := JobStatusCompleted
	var reason string
	if !receipt.Success {
		status = JobStatusFailed
		reason = "execution reported failure"
	}
	rc := receipt
	if err := m.transition(receipt.JobId, JobState{Status: status, Executor: receipt.ExecutorDid, Receipt: &rc, Reason: reason}); err != nil {
		return zero, err
	}
	m.releaseSlot(m.submitterFor(receipt.JobId))
	return anchorCid, nil
}

// submitterFor looks up the original submitter of jobId, recorded at
// SubmitJob time, so completion/failure can release its in-flight slot.
func (m *JobManager) submitterFor(jobId JobId) Did {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	return m.submitterOf[jobId.String()]
}

// Fail marks jobId Failed with reason, releasing the submitter's
// in-flight slot. Used for NoSuitableExecutor and ExecutionTimeout paths.
func (m *JobManager) Fail(jobId JobId, submitter Did, reason string) {
	_ = m.transition(jobId, JobState{Status: JobStatusFailed, Reason: reason})
	m.releaseSlot(submitter)
}

// Refund credits back mana to submitter, used on NoSuitableExecutor and
// partial-timeout compensation paths (spec.md §4.4/§7).
func (m *JobManager) Refund(submitter Did, amount uint64) {
	m.mana.Credit(submitter, amount)
}

// NewSubmitterLimiter builds a token-bucket limiter for one submitter's job
// submission rate, per spec.md §5's "per-submitter token bucket on job
// submission", grounded on core/virtual_machine.go's HTTP rate limiter use
// of golang.org/x/time/rate.
func NewSubmitterLimiter(ratePerSec float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(ratePerSec), burst)
}
