// Package smr implements the pure propose/prevote/precommit/brake round
// state machine described in spec §4.4. It is a function of events: no
// I/O, no crypto, no clock — every timeout is an explicit input event
// produced by the timer package, and every output is an explicit event the
// state driver reacts to.
package smr

import "mlm/types"

// Step is one stage of a round.
type Step uint8

const (
	StepPropose Step = iota + 1
	StepPrevote
	StepPrecommit
	StepBrake
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepBrake:
		return "brake"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Lock is a node's commitment to a block from an earlier round's
// prevote-QC, restricting future prevotes in the same height (invariant 4).
type Lock struct {
	Round     types.Round
	BlockHash types.Hash
	QC        types.AggregatedVote
}

// InEvent is the tagged union of inputs the SMR core consumes.
//
// ProposalObserved supplements the event list of spec §4.4: step 2 of the
// algorithm ("on proposal observed...") requires the proposal's block hash
// and its carried valid/lock round as explicit input in order to decide
// whether the node's current lock can be released (invariant 4) — the
// enumerated event list names it only in prose, so it is modeled here as
// a first-class event alongside the seven named ones.
type InEvent struct {
	NewHeight            *NewHeight
	ProposalObserved     *ProposalObserved
	PrevoteQC            *QCObserved
	PrecommitQC          *QCObserved
	PrevoteVoteArrived   bool
	PrecommitVoteArrived bool
	Timeout              *TimeoutFired
	ChokeQC              *ChokeQC
}

// ProposalObserved reports that a valid proposal has been received (or
// self-produced) for (height, round). ValidRound is the round whose
// prevote-QC the proposal's PoLC attests to, or nil if the proposal
// carries no PoLC.
type ProposalObserved struct {
	Height     types.Height
	Round      types.Round
	BlockHash  types.Hash
	ValidRound *types.Round
}

// NewHeight starts a fresh height at round 0 with the given authority
// roster size (only used for logging/metrics; the SMR core does not
// itself validate membership).
type NewHeight struct {
	Height        types.Height
	AuthoritySize int
}

// QCObserved reports that a prevote or precommit QC is now available for
// (height, round, blockHash). BlockHash.IsZero() means a Nil QC. QC carries
// the full certificate so a prevote QC can be stored verbatim in the lock
// it sets (invariant 4's PoLC is the actual aggregated signature, not just
// the block hash it attests to).
type QCObserved struct {
	Height    types.Height
	Round     types.Round
	BlockHash types.Hash
	QC        types.AggregatedVote
}

// TimeoutFired reports that a previously scheduled timer for
// (height, round, step) has fired. Stale timeouts (for a height/round/step
// the core has already moved past) are silently ignored.
type TimeoutFired struct {
	Height types.Height
	Round  types.Round
	Step   Step
}

// ChokeQC forces a round advance to r+1 regardless of step, the rescue path
// for a stuck leader.
type ChokeQC struct {
	Height types.Height
	Round  types.Round
}

// OutEvent is the tagged union of outputs the SMR core emits, consumed by
// the state driver.
type OutEvent struct {
	NewRoundInfo  *NewRoundInfo
	PrevoteVote   *VoteIntent
	PrecommitVote *VoteIntent
	Brake         *BrakeEntered
	Commit        *CommitReached
}

// NewRoundInfo announces that the core has entered Propose for a new
// (height, round), and whether this node is the round's proposer.
type NewRoundInfo struct {
	Height     types.Height
	Round      types.Round
	IsProposer bool
}

// VoteIntent asks the driver to cast a prevote or precommit for BlockHash
// (the zero Hash means Nil).
type VoteIntent struct {
	Height    types.Height
	Round     types.Round
	BlockHash types.Hash
}

// BrakeEntered announces the core has entered the Brake step after
// repeated round failures without progress.
type BrakeEntered struct {
	Height types.Height
	Round  types.Round
}

// CommitReached announces the core has decided BlockHash at Height.
type CommitReached struct {
	Height    types.Height
	BlockHash types.Hash
}
