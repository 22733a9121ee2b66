package core

import "time"

// ProposalId identifies a governance proposal. Proposals are content-
// addressed the same way jobs are, so replay and gossip dedup reuse the
// same Cid machinery.
type ProposalId = Cid

// ProposalStatus is the discriminant of a proposal's position in the state
// machine of spec.md §4.5.
type ProposalStatus int

const (
	StatusPendingSponsorship ProposalStatus = iota
	StatusDeliberation
	StatusVotingOpen
	StatusAccepted
	StatusRejected
	StatusVetoed
	StatusTimelocked
	StatusExecuted
	StatusCancelled
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusPendingSponsorship:
		return "PendingSponsorship"
	case StatusDeliberation:
		return "Deliberation"
	case StatusVotingOpen:
		return "VotingOpen"
	case StatusAccepted:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	case StatusVetoed:
		return "Vetoed"
	case StatusTimelocked:
		return "Timelocked"
	case StatusExecuted:
		return "Executed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// transitionGraph encodes the legal edges of spec.md §4.5's diagram. A
// proposal's status may only move along one of these edges.
var transitionGraph = map[ProposalStatus][]ProposalStatus{
	StatusPendingSponsorship: {StatusDeliberation, StatusCancelled},
	StatusDeliberation:       {StatusVotingOpen},
	StatusVotingOpen:         {StatusAccepted, StatusRejected},
	StatusAccepted:           {StatusVetoed, StatusTimelocked, StatusExecuted},
	StatusTimelocked:         {StatusVetoed, StatusExecuted},
}

func legalTransition(from, to ProposalStatus) bool {
	for _, candidate := range transitionGraph[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CallbackID tags a proposal's resolution with a statically dispatched
// handler, replacing the donor source's dynamically registered closures
// per spec.md §9 ("Governance callbacks ... Strategy: tag proposal types
// with a callback id from a closed enum").
type CallbackID int

const (
	CallbackNone CallbackID = iota
	CallbackSystemParameterChange
	CallbackNewMemberInvitation
	CallbackRemoveMember
	CallbackSoftwareUpgrade
	CallbackGenericText
	CallbackPauseCredential
	CallbackFreezeReputation
)

// ProposalType is the payload carried by a proposal, per spec.md §3.
type ProposalType struct {
	Kind CallbackID

	// SystemParameterChange
	ParamKey   string
	ParamValue string

	// NewMemberInvitation / RemoveMember
	MemberDid Did

	// SoftwareUpgrade
	Version string

	// GenericText
	Text string

	// Resolution actions (PauseCredential / FreezeReputation)
	TargetCid Cid
	TargetDid Did
}

// VoteOption is a ballot choice.
type VoteOption int

const (
	VoteYes VoteOption = iota
	VoteNo
	VoteAbstain
)

// Vote records one voter's choice and when it was cast. Last-writer-wins
// per voter until close_voting_period, per spec.md §5.
type Vote struct {
	Option    VoteOption
	Timestamp time.Time
}

// Sponsorship tracks the sponsor-gating phase of spec.md §4.5.
type Sponsorship struct {
	Sponsors   map[Did]bool
	CompleteAt *time.Time
}

// TimelockInfo tracks the post-acceptance delay of spec.md §4.5.
type TimelockInfo struct {
	DelaySecs    int64
	ExecutableAt *time.Time
}

// VetoInfo tracks the grace window during which veto members may reject an
// accepted proposal, per spec.md §4.5.
type VetoInfo struct {
	GraceDeadline *time.Time
	VetoedBy      *Did
}

// Proposal is one item traversing the governance state machine, per
// spec.md §3.
type Proposal struct {
	Id             ProposalId
	Proposer       Did
	Type           ProposalType
	Description    string
	CreatedAt      time.Time
	VotingDeadline time.Time
	Quorum         uint64
	Threshold      float64
	Status         ProposalStatus
	Votes          map[Did]Vote
	Sponsorship    Sponsorship
	Timelock       TimelockInfo
	Veto           VetoInfo
	ContentCid     *Cid
}
