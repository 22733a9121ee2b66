package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GovernanceConfig holds the tunables a proposal is created with. They are
// fixed when the module is constructed; the parameter store has no keys for
// them, so a SystemParameterChange does not change them.
type GovernanceConfig struct {
	MinSponsors     int
	Quorum          uint64
	Threshold       float64
	VotingWindow    time.Duration
	VetoGracePeriod time.Duration
	TimelockDelay   time.Duration
}

// DefaultGovernanceConfig mirrors the seed scenarios of spec.md §8.
var DefaultGovernanceConfig = GovernanceConfig{
	MinSponsors:     1,
	Quorum:          2,
	Threshold:       0.5,
	VotingWindow:    24 * time.Hour,
	VetoGracePeriod: 0,
	TimelockDelay:   0,
}

// GovernanceModule is the proposal lifecycle state machine of spec.md §4.5.
// A single mutex serializes every state transition, per the concurrency
// model of spec.md §5. Logging follows core/governance.go's use of a
// package-scoped sugared zap logger.
type GovernanceModule struct {
	mu sync.Mutex

	members     map[Did]bool
	vetoMembers map[Did]bool
	proposals   map[string]*Proposal
	delegation  *DelegationGraph
	config      GovernanceConfig

	mana       *ManaLedger
	dag        DagStore
	reputation *ReputationStore
	params     *ParameterStore
	events     *EventStore

	log *zap.SugaredLogger
}

// NewGovernanceModule wires a GovernanceModule over its dependent stores.
func NewGovernanceModule(mana *ManaLedger, dag DagStore, reputation *ReputationStore, params *ParameterStore, events *EventStore, cfg GovernanceConfig) *GovernanceModule {
	return &GovernanceModule{
		members:     make(map[Did]bool),
		vetoMembers: make(map[Did]bool),
		proposals:   make(map[string]*Proposal),
		delegation:  NewDelegationGraph(),
		config:      cfg,
		mana:        mana,
		dag:         dag,
		reputation:  reputation,
		params:      params,
		events:      events,
		log:         zap.L().Sugar().Named("governance"),
	}
}

// AddMember registers did as a voting member.
func (g *GovernanceModule) AddMember(did Did) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[did] = true
}

// AddVetoMember registers did as able to veto accepted proposals.
func (g *GovernanceModule) AddVetoMember(did Did) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vetoMembers[did] = true
}

func (g *GovernanceModule) isMember(did Did) bool {
	return g.members[did]
}

// SubmitProposal implements spec.md §4.5's submit_proposal: deducts an
// optional submission cost from the proposer's mana and creates a proposal
// in PendingSponsorship.
func (g *GovernanceModule) SubmitProposal(proposer Did, ptype ProposalType, description string, now time.Time, submissionCostMana uint64) (ProposalId, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isMember(proposer) {
		return Cid{}, NewError(KindPermissionDenied, "proposer is not a member")
	}
	if submissionCostMana > 0 {
		if err := g.mana.Spend(proposer, submissionCostMana); err != nil {
			return Cid{}, err
		}
	}

	seed := []byte(description)
	seed = appendLP(seed, []byte(proposer))
	seed = appendU64(seed, uint64(now.UnixNano()))
	id, err := rawCid(seed)
	if err != nil {
		return Cid{}, err
	}

	p := &Proposal{
		Id:             id,
		Proposer:       proposer,
		Type:           ptype,
		Description:    description,
		CreatedAt:      now,
		VotingDeadline: now.Add(g.config.VotingWindow),
		Quorum:         g.config.Quorum,
		Threshold:      g.config.Threshold,
		Status:         StatusPendingSponsorship,
		Votes:          make(map[Did]Vote),
		Sponsorship:    Sponsorship{Sponsors: make(map[Did]bool)},
		Timelock:       TimelockInfo{DelaySecs: int64(g.config.TimelockDelay.Seconds())},
	}
	g.proposals[id.String()] = p
	g.log.Infow("proposal submitted", "id", id.String(), "proposer", string(proposer))
	g.recordEvent("proposal_submitted", id.String())
	return id, nil
}

func (g *GovernanceModule) get(id ProposalId) (*Proposal, error) {
	p, ok := g.proposals[id.String()]
	if !ok {
		return nil, NewError(KindResourceNotFound, "unknown proposal")
	}
	return p, nil
}

func (g *GovernanceModule) setStatus(p *Proposal, next ProposalStatus) error {
	if p.Status == next {
		return nil
	}
	if !legalTransition(p.Status, next) {
		return NewError(KindInvalidJobState, "illegal proposal status transition")
	}
	p.Status = next
	return nil
}

// SponsorProposal adds sponsor to id's sponsorship set; once min sponsors
// is reached, the proposal moves PendingSponsorship -> Deliberation, per
// spec.md §4.5.
func (g *GovernanceModule) SponsorProposal(id ProposalId, sponsor Did, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return err
	}
	if p.Status != StatusPendingSponsorship {
		return NewError(KindInvalidJobState, "proposal is not awaiting sponsorship")
	}
	if !g.isMember(sponsor) {
		return NewError(KindPermissionDenied, "sponsor is not a member")
	}
	p.Sponsorship.Sponsors[sponsor] = true
	if len(p.Sponsorship.Sponsors) >= g.config.MinSponsors {
		completeAt := now
		p.Sponsorship.CompleteAt = &completeAt
		return g.setStatus(p, StatusDeliberation)
	}
	return nil
}

// OpenVoting implements spec.md §4.5's open_voting: Deliberation ->
// VotingOpen.
func (g *GovernanceModule) OpenVoting(id ProposalId) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return err
	}
	return g.setStatus(p, StatusVotingOpen)
}

// CastVote implements spec.md §4.5's cast_vote: permitted only in
// VotingOpen, before voting_deadline, and only for non-delegating members.
func (g *GovernanceModule) CastVote(voter Did, id ProposalId, option VoteOption, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return err
	}
	if p.Status != StatusVotingOpen {
		return NewError(KindInvalidJobState, "voting is not open")
	}
	if now.After(p.VotingDeadline) {
		return NewError(KindInvalidJobState, "voting deadline has passed")
	}
	if !g.isMember(voter) {
		return NewError(KindPermissionDenied, "voter is not a member")
	}
	if g.delegation.HasDelegated(voter) {
		return NewError(KindPermissionDenied, "voter has delegated their vote")
	}
	p.Votes[voter] = Vote{Option: option, Timestamp: now}
	return nil
}

// DelegateVote implements spec.md §4.5's delegate_vote, rejecting cycles
// and self-delegation via DelegationGraph.
func (g *GovernanceModule) DelegateVote(from, to Did) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isMember(from) || !g.isMember(to) {
		return NewError(KindPermissionDenied, "delegation requires membership")
	}
	return g.delegation.Delegate(from, to)
}

// RevokeDelegation implements spec.md §4.5's revoke_delegation.
func (g *GovernanceModule) RevokeDelegation(from Did) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delegation.Revoke(from)
}

// Tally is the vote count produced by CloseVotingPeriod.
type Tally struct {
	Yes uint64
	No  uint64
}

// CloseVotingPeriod implements spec.md §4.5's close_voting_period:
// tally = Σ (1 + delegations_to(v)) per option; accepted iff
// yes ≥ quorum AND yes/(yes+no) ≥ threshold.
func (g *GovernanceModule) CloseVotingPeriod(id ProposalId, now time.Time) (ProposalStatus, Tally, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return 0, Tally{}, err
	}
	if p.Status != StatusVotingOpen {
		return 0, Tally{}, NewError(KindInvalidJobState, "voting is not open")
	}

	var tally Tally
	for voter, vote := range p.Votes {
		weight := 1 + g.delegation.DelegationsTo(voter)
		switch vote.Option {
		case VoteYes:
			tally.Yes += weight
		case VoteNo:
			tally.No += weight
		}
	}

	accepted := tally.Yes >= p.Quorum && float64(tally.Yes)/float64(tally.Yes+tally.No) >= p.Threshold
	if tally.Yes+tally.No == 0 {
		accepted = false
	}

	next := StatusRejected
	if accepted {
		next = StatusAccepted
	}
	if err := g.setStatus(p, next); err != nil {
		return 0, Tally{}, err
	}

	if accepted {
		g.armPostAcceptance(p, now)
	}
	g.log.Infow("voting closed", "id", id.String(), "status", p.Status.String(), "yes", tally.Yes, "no", tally.No)
	return p.Status, tally, nil
}

// armPostAcceptance enters the veto grace window and/or arms the timelock
// after a successful tally, per spec.md §4.5's state diagram.
func (g *GovernanceModule) armPostAcceptance(p *Proposal, now time.Time) {
	if g.config.VetoGracePeriod > 0 {
		deadline := now.Add(g.config.VetoGracePeriod)
		p.Veto.GraceDeadline = &deadline
	}
	if p.Timelock.DelaySecs > 0 {
		executableAt := now.Add(time.Duration(p.Timelock.DelaySecs) * time.Second)
		p.Timelock.ExecutableAt = &executableAt
		_ = g.setStatus(p, StatusTimelocked)
	}
}

// Veto implements spec.md §4.5's veto: any DID in veto_members may veto an
// Accepted or Timelocked proposal within its grace window.
func (g *GovernanceModule) Veto(id ProposalId, vetoMember Did, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return err
	}
	if !g.vetoMembers[vetoMember] {
		return NewError(KindPermissionDenied, "not a veto member")
	}
	if p.Status != StatusAccepted && p.Status != StatusTimelocked {
		return NewError(KindInvalidJobState, "proposal is not vetoable")
	}
	if p.Veto.GraceDeadline != nil && now.After(*p.Veto.GraceDeadline) {
		return NewError(KindInvalidJobState, "veto grace window has elapsed")
	}
	p.Veto.VetoedBy = &vetoMember
	return g.setStatus(p, StatusVetoed)
}

// Cancel implements spec.md §4.5's cancel edge: PendingSponsorship ->
// Cancelled, proposer-only.
func (g *GovernanceModule) Cancel(id ProposalId, proposer Did) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return err
	}
	if p.Proposer != proposer {
		return NewError(KindPermissionDenied, "only the proposer may cancel")
	}
	if p.Status != StatusPendingSponsorship {
		return NewError(KindInvalidJobState, "proposal is no longer cancellable")
	}
	return g.setStatus(p, StatusCancelled)
}

// ExecuteProposal implements spec.md §4.5's execute_proposal: permitted
// only if status is Accepted directly, or Timelocked with now ≥
// executable_at, and not Vetoed. Dispatches to the static callback table.
func (g *GovernanceModule) ExecuteProposal(ctx context.Context, id ProposalId, now time.Time) error {
	g.mu.Lock()
	p, err := g.get(id)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	switch p.Status {
	case StatusAccepted:
		// executable immediately, no timelock was armed
	case StatusTimelocked:
		if p.Timelock.ExecutableAt == nil || now.Before(*p.Timelock.ExecutableAt) {
			g.mu.Unlock()
			return NewError(KindInvalidJobState, "timelock has not elapsed")
		}
	default:
		g.mu.Unlock()
		return NewError(KindInvalidJobState, "proposal is not executable")
	}
	proposalCopy := *p
	g.mu.Unlock()

	if err := g.dispatch(ctx, proposalCopy); err != nil {
		return WrapError(KindInternal, "callback execution failed", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p, err = g.get(id)
	if err != nil {
		return err
	}
	if err := g.setStatus(p, StatusExecuted); err != nil {
		return err
	}
	g.log.Infow("proposal executed", "id", id.String(), "callback", p.Type.Kind)
	g.recordEvent("proposal_executed", id.String())
	return nil
}

// dispatch routes execution to the statically registered handler for
// proposal.Type.Kind, per spec.md §9's closed-enum callback-id strategy.
func (g *GovernanceModule) dispatch(ctx context.Context, p Proposal) error {
	switch p.Type.Kind {
	case CallbackSystemParameterChange:
		return g.params.Set(ctx, p.Type.ParamKey, p.Type.ParamValue)
	case CallbackNewMemberInvitation:
		g.mu.Lock()
		g.members[p.Type.MemberDid] = true
		g.mu.Unlock()
		return nil
	case CallbackRemoveMember:
		g.mu.Lock()
		delete(g.members, p.Type.MemberDid)
		g.mu.Unlock()
		return nil
	case CallbackSoftwareUpgrade, CallbackGenericText:
		return nil // informational proposals have no side effect to apply
	case CallbackPauseCredential:
		return g.dag.Pin(ctx, p.Type.TargetCid) // pausing == pin so prune_expired never reclaims it
	case CallbackFreezeReputation:
		g.reputation.RecordExecution(p.Type.TargetDid, false, 0, "")
		return nil
	case CallbackNone:
		return nil
	default:
		return NewError(KindInternal, "no handler registered for callback id")
	}
}

func (g *GovernanceModule) recordEvent(kind, proposalID string) {
	if g.events == nil {
		return
	}
	_ = g.events.Append(Event{Kind: kind, Key: proposalID})
}

// IngestExternalProposal deserializes and applies a proposal received over
// gossip, per spec.md §4.5's external ingestion contract. Duplicate ids
// (already-known proposal) are rejected.
func (g *GovernanceModule) IngestExternalProposal(p Proposal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := p.Id.String()
	if _, exists := g.proposals[key]; exists {
		return NewError(KindDuplicateMessage, "proposal already known")
	}
	g.proposals[key] = &p
	return nil
}

// IngestExternalVote applies a vote received over gossip with the same
// validation CastVote performs.
func (g *GovernanceModule) IngestExternalVote(voter Did, id ProposalId, option VoteOption, now time.Time) error {
	return g.CastVote(voter, id, option, now)
}

// Get returns a copy of the proposal for id.
func (g *GovernanceModule) Get(id ProposalId) (Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.get(id)
	if err != nil {
		return Proposal{}, err
	}
	return *p, nil
}
