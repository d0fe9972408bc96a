// Package types defines the wire and domain types shared by every mlm
// package: identifiers, the block/vote/proposal/QC data model, and the
// collaborator interfaces a host application implements to embed the
// engine (Codec, Consensus, Crypto, Wal).
package types

import (
	"fmt"
)

// Height is a monotonically non-decreasing chain height.
type Height uint64

// Round is a per-height round counter, reset to zero on every new height.
type Round uint64

// Address identifies a node. It is opaque bytes to the engine; the host's
// Crypto collaborator is the only party that knows how to derive or render
// one.
type Address []byte

// String renders the address as a hex string for logging; it is never used
// on the wire or for equality (callers compare the raw bytes).
func (a Address) String() string {
	return fmt.Sprintf("%x", []byte(a))
}

// Equal reports whether two addresses identify the same node.
func (a Address) Equal(other Address) bool {
	if len(a) != len(other) {
		return false
	}
	for i := range a {
		if a[i] != other[i] {
			return false
		}
	}
	return true
}

// Hash is a fixed-width cryptographic hash output, produced by the host's
// Crypto collaborator.
type Hash [32]byte

// IsZero reports whether h is the all-zero hash, the engine's sentinel for
// "no block" (a Nil vote or a Commit with nothing to commit).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// BlockHash is an alias kept distinct at the type-signature level for
// readability; it is always produced as Hash(Encode(block)).
type BlockHash = Hash

// VoteType distinguishes the two kinds of votes cast during a round.
type VoteType uint8

const (
	// VotePrevote is the first-phase vote of a round.
	VotePrevote VoteType = iota + 1
	// VotePrecommit is the second-phase vote of a round.
	VotePrecommit
)

func (t VoteType) String() string {
	switch t {
	case VotePrevote:
		return "prevote"
	case VotePrecommit:
		return "precommit"
	default:
		return "unknown"
	}
}

// Node describes one member of an authority roster.
type Node struct {
	Address       Address
	ProposeWeight uint64
	VoteWeight    uint64
}

// Status is the host-produced post-commit trigger that advances the engine
// to the next height, optionally swapping tuning knobs.
type Status struct {
	Height        Height
	IntervalMS    *uint64
	TimerConfig   *DurationConfig
	AuthorityList []Node
}

// DurationConfig carries the per-step timeout ratios (numerator/denominator
// against the height interval) that the Timer uses to compute delays.
type DurationConfig struct {
	ProposeNum   uint64
	ProposeDen   uint64
	PrevoteNum   uint64
	PrevoteDen   uint64
	PrecommitNum uint64
	PrecommitDen uint64
	BrakeNum     uint64
	BrakeDen     uint64
}

// Vote is the canonical single-vote payload; it is what every signature
// (individual or aggregated) ultimately signs over.
type Vote struct {
	Height    Height
	Round     Round
	VoteType  VoteType
	BlockHash BlockHash
	Voter     Address
}

// Signature carries a detached signature over hash(encode(payload)).
type Signature struct {
	Bytes []byte
}

// SignedVote bundles a Vote with its signature.
type SignedVote struct {
	Vote      Vote
	Signature Signature
}

// AggregateSignature is an aggregate signature plus the address bitmap
// describing which authorities' votes are included. Bit i corresponds to
// the i-th authority under the Authority Manager's canonical sort order and
// is stored as bit i%8, counting from the least significant bit, of byte
// i/8 (length = ceil(|authority|/8)); bits are not packed
// most-significant-bit first.
type AggregateSignature struct {
	Aggregate     []byte
	AddressBitmap []byte
}

// AggregatedVote is a quorum certificate: an aggregate signature evidencing
// a strict super-majority of weighted votes for one (height, round, type,
// blockHash).
type AggregatedVote struct {
	Height    Height
	Round     Round
	VoteType  VoteType
	BlockHash BlockHash
	Signature AggregateSignature
}

// ToVote derives the canonical single-vote payload the aggregate signs
// over. All voters in a QC sign the identical bytes; only the included-bits
// and the resulting aggregate differ from an individual SignedVote.
func (qc AggregatedVote) ToVote() Vote {
	return Vote{
		Height:    qc.Height,
		Round:     qc.Round,
		VoteType:  qc.VoteType,
		BlockHash: qc.BlockHash,
	}
}

// PoLC (Proof of Lock Certificate) is a prevote QC from an earlier round in
// the same height that a re-proposing proposer must carry forward.
type PoLC struct {
	LockRound Round
	LockVotes AggregatedVote
}

// Proposal[T] is a height/round block proposal, generic in the host's block
// payload type T.
type Proposal[T any] struct {
	Height    Height
	Round     Round
	Content   T
	BlockHash BlockHash
	Lock      *PoLC
	Proposer  Address
}

// SignedProposal bundles a Proposal with the proposer's signature.
type SignedProposal[T any] struct {
	Proposal  Proposal[T]
	Signature Signature
}

// Choke is a signed intent to abandon the current round, the rescue path
// for a stuck leader.
type Choke struct {
	Height Height
	Round  Round
	From   Address
}

// SignedChoke bundles a Choke with its signature.
type SignedChoke struct {
	Choke     Choke
	Signature Signature
}

// MlmMsg is the tagged union of every message variant the engine accepts
// from the network or from the host, mirroring the wire envelope described
// in spec §6.
type MlmMsg[T any] struct {
	SignedProposal *SignedProposal[T]
	SignedVote     *SignedVote
	SignedChoke    *SignedChoke
	AggregatedVote *AggregatedVote
	RichStatus     *Status
	Stop           bool
}

// Kind reports which variant is populated, for logging and metrics labels.
func (m MlmMsg[T]) Kind() string {
	switch {
	case m.SignedProposal != nil:
		return "signed_proposal"
	case m.SignedVote != nil:
		return "signed_vote"
	case m.SignedChoke != nil:
		return "signed_choke"
	case m.AggregatedVote != nil:
		return "aggregated_vote"
	case m.RichStatus != nil:
		return "rich_status"
	case m.Stop:
		return "stop"
	default:
		return "empty"
	}
}
