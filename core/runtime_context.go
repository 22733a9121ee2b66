package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RuntimeContext ties C1-C8 together, owns shared state, and supervises
// background tasks, per spec.md §2/§9. Generalized from core/node.go's
// NodeAdapter, which wrapped a single Node behind a narrower interface;
// this type instead directly owns every store and runs mana regeneration
// and network subscription (spec.md §5) as errgroup goroutines. It starts no
// per-job pipeline goroutines; JobManager's steps are driven by their caller.
type RuntimeContext struct {
	Resolver    Resolver
	Mana        *ManaLedger
	Policy      *PolicyEnforcer
	Reputation  *ReputationStore
	Dag         DagStore
	Mesh        MeshNetworkService
	Governance  *GovernanceModule
	Jobs        *JobManager
	Executor    *WasmExecutor
	Params      *ParameterStore
	Events      *EventStore
	Federations *FederationRegistry

	NetworkHealthFactor float64
	RegenInterval       time.Duration

	log *logrus.Entry
}

// RuntimeContextConfig collects the dependencies RuntimeContext wires
// together; every field is constructed by the caller (e.g.
// cmd/icn-node/main.go) so that test code can substitute in-memory
// backends per spec.md §9's "compile-time or run-time flag selects
// production vs. in-memory test backends".
type RuntimeContextConfig struct {
	Resolver            Resolver
	Dag                 DagStore
	Mesh                MeshNetworkService
	Events              *EventStore
	ParameterSnapshot   string
	MaxSpendLimit       uint64
	ExecutorLimits      ExecutorLimits
	GovernanceConfig    GovernanceConfig
	NetworkHealthFactor float64
	RegenInterval       time.Duration
	ZkVerifier          ZkVerifier
}

// NewRuntimeContext constructs a fully wired RuntimeContext. Its
// constituent stores are built here rather than by the caller so that
// cross-wiring (job manager needs mana+reputation+dag+mesh; governance
// needs params+events+dag+reputation; executor needs all of the above) only
// happens in one place.
func NewRuntimeContext(cfg RuntimeContextConfig) *RuntimeContext {
	mana := NewManaLedger()
	reputation := NewReputationStore()
	policy := NewPolicyEnforcer(mana, cfg.MaxSpendLimit)
	federations := NewFederationRegistry()
	params := NewParameterStore(cfg.Events, cfg.ParameterSnapshot)
	governance := NewGovernanceModule(mana, cfg.Dag, reputation, params, cfg.Events, cfg.GovernanceConfig)
	jobs := NewJobManager(mana, policy, reputation, cfg.Dag, cfg.Mesh, cfg.Resolver, federations)
	zk := cfg.ZkVerifier
	if zk == nil {
		zk = StubZkVerifier{}
	}
	executor := NewWasmExecutor(cfg.ExecutorLimits, mana, policy, reputation, cfg.Dag, governance, jobs, zk)

	healthFactor := cfg.NetworkHealthFactor
	if healthFactor <= 0 {
		healthFactor = 1.0
	}
	regenInterval := cfg.RegenInterval
	if regenInterval <= 0 {
		regenInterval = 30 * time.Second
	}

	return &RuntimeContext{
		Resolver:            cfg.Resolver,
		Mana:                mana,
		Policy:              policy,
		Reputation:          reputation,
		Dag:                 cfg.Dag,
		Mesh:                cfg.Mesh,
		Governance:          governance,
		Jobs:                jobs,
		Executor:            executor,
		Params:              params,
		Events:              cfg.Events,
		Federations:         federations,
		NetworkHealthFactor: healthFactor,
		RegenInterval:       regenInterval,
		log:                 logrus.WithField("component", "runtime_context"),
	}
}

// Bootstrap restores parameter state from the event log (spec.md §4.7/§8's
// restart scenario) before any background task starts.
func (rc *RuntimeContext) Bootstrap(ctx context.Context) error {
	if err := rc.Params.LoadSnapshot(); err != nil {
		rc.log.WithError(err).Warn("parameter snapshot load failed, falling back to replay")
	}
	return rc.Params.ReplayFromEvents(ctx)
}

// Run supervises the long-lived background tasks of spec.md §5 (mana
// regeneration, network subscription/dispatch) until ctx is cancelled,
// using golang.org/x/sync/errgroup so a failing task cancels its siblings
// rather than leaking goroutines.
func (rc *RuntimeContext) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rc.runManaRegenerator(ctx)
	})

	if rc.Mesh != nil {
		g.Go(func() error {
			return rc.runNetworkDispatch(ctx)
		})
	}

	return g.Wait()
}

// runManaRegenerator is the periodic task of spec.md §4.2: for each known
// account, Δ = base_rate × rep_multiplier(rep) × network_health_factor.
func (rc *RuntimeContext) runManaRegenerator(ctx context.Context) error {
	ticker := time.NewTicker(rc.RegenInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rc.Mana.Regenerate(rc.Reputation, rc.NetworkHealthFactor)
		}
	}
}

// runNetworkDispatch subscribes to the mesh network and routes inbound
// governance gossip (proposal/vote announcements) into the governance
// module, per spec.md §4.3/§4.5's external ingestion contract. Job-specific
// gossip (bids, receipts) is ignored here; JobManager.CollectBids and
// WaitForReceipt read it from a subscription their caller supplies.
func (rc *RuntimeContext) runNetworkDispatch(ctx context.Context) error {
	sub, err := rc.Mesh.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			rc.dispatchGossip(msg)
		}
	}
}

// SubmitProposal submits a proposal through the governance module and
// announces it over the mesh network, per spec.md §4.5's
// "submit_proposal(submission, time) → ProposalId. ... Emits
// GovernanceProposalAnnouncement (gossip)".
func (rc *RuntimeContext) SubmitProposal(ctx context.Context, kp *KeyPair, ptype ProposalType, description string, now time.Time, submissionCostMana uint64) (ProposalId, error) {
	id, err := rc.Governance.SubmitProposal(kp.Did, ptype, description, now, submissionCostMana)
	if err != nil {
		return id, err
	}
	if rc.Mesh == nil {
		return id, nil
	}
	p, err := rc.Governance.Get(id)
	if err != nil {
		return id, nil
	}
	body, err := encodeJSON(p)
	if err != nil {
		return id, nil
	}
	announce := ProtocolMessage{Payload: Payload{Kind: PayloadGovernanceProposalAnnouncement, Bytes: body}}
	announce.Sign(kp)
	if err := rc.Mesh.BroadcastMessage(ctx, announce); err != nil {
		rc.log.WithError(err).Warn("proposal announcement broadcast failed")
	}
	return id, nil
}

// CastVoteAndAnnounce casts a vote locally and announces it over the mesh
// network, per spec.md §4.3's GovernanceVoteAnnouncement payload.
func (rc *RuntimeContext) CastVoteAndAnnounce(ctx context.Context, kp *KeyPair, id ProposalId, option VoteOption, now time.Time) error {
	if err := rc.Governance.CastVote(kp.Did, id, option, now); err != nil {
		return err
	}
	if rc.Mesh == nil {
		return nil
	}
	body, err := encodeJSON(struct {
		Voter      Did        `json:"voter"`
		ProposalID string     `json:"proposal_id"`
		Option     VoteOption `json:"option"`
	}{Voter: kp.Did, ProposalID: id.String(), Option: option})
	if err != nil {
		return nil
	}
	announce := ProtocolMessage{Payload: Payload{Kind: PayloadGovernanceVoteAnnouncement, Bytes: body}}
	announce.Sign(kp)
	return rc.Mesh.BroadcastMessage(ctx, announce)
}

func (rc *RuntimeContext) dispatchGossip(msg ProtocolMessage) {
	switch msg.Payload.Kind {
	case PayloadGovernanceProposalAnnouncement:
		var p Proposal
		if err := decodeJSON(msg.Payload.Bytes, &p); err != nil {
			rc.log.WithError(err).Debug("dropping undecodable proposal announcement")
			return
		}
		if err := rc.Governance.IngestExternalProposal(p); err != nil {
			rc.log.WithError(err).Debug("proposal ingestion rejected")
		}
	case PayloadGovernanceVoteAnnouncement:
		var v struct {
			Voter     Did        `json:"voter"`
			ProposalID string    `json:"proposal_id"`
			Option    VoteOption `json:"option"`
		}
		if err := decodeJSON(msg.Payload.Bytes, &v); err != nil {
			rc.log.WithError(err).Debug("dropping undecodable vote announcement")
			return
		}
		id, err := parseCid(v.ProposalID)
		if err != nil {
			return
		}
		if err := rc.Governance.IngestExternalVote(v.Voter, id, v.Option, time.Now()); err != nil {
			rc.log.WithError(err).Debug("vote ingestion rejected")
		}
	default:
		// job announcements/bids/receipts are not handled here.
	}
}
