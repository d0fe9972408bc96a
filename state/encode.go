package state

import (
	"github.com/ethereum/go-ethereum/rlp"

	"mlm/types"
)

// voteHeader is the signed payload for a vote: every Vote field except
// Voter. An aggregate QC's digest is hash(encode(qc.ToVote())), and
// ToVote() leaves Voter zero, so every voter in a QC must sign this same
// voter-less digest for VerifyAggregatedSignature to recover each of
// their addresses against one shared hash.
type voteHeader struct {
	Height    types.Height
	Round     types.Round
	VoteType  types.VoteType
	BlockHash types.BlockHash
}

// encodeVote canonically encodes the payload every vote signature (single
// or aggregate) signs over. Voter is deliberately excluded; see voteHeader.
func encodeVote(v types.Vote) []byte {
	b, _ := rlp.EncodeToBytes(voteHeader{Height: v.Height, Round: v.Round, VoteType: v.VoteType, BlockHash: v.BlockHash})
	return b
}

// encodeChoke canonically encodes a Choke signal.
func encodeChoke(c types.Choke) []byte {
	b, _ := rlp.EncodeToBytes(c)
	return b
}

// proposalHeader is the RLP-encodable subset of Proposal[T]: everything
// but Content, which the caller encodes separately via the host's Codec
// and appends, since T itself carries no RLP guarantee.
type proposalHeader struct {
	Height    types.Height
	Round     types.Round
	BlockHash types.BlockHash
	Lock      *types.PoLC
	Proposer  types.Address
}

// encodeProposalFields reproduces hash(encode(proposal)) without requiring
// Proposal[T] itself to be RLP-encodable, by encoding the header fields and
// the host-codec-encoded content body separately and concatenating them.
func encodeProposalFields[T any](p types.Proposal[T], encodedContent []byte) []byte {
	header, _ := rlp.EncodeToBytes(proposalHeader{
		Height:    p.Height,
		Round:     p.Round,
		BlockHash: p.BlockHash,
		Lock:      p.Lock,
		Proposer:  p.Proposer,
	})
	return append(header, encodedContent...)
}
