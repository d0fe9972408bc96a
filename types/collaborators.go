package types

import "context"

// Commit is what the driver hands to the host on a successful precommit
// quorum: the committed content plus the QC that proves it.
type Commit[T any] struct {
	Height  Height
	Content T
	Proof   AggregatedVote
}

// ViewChangeReason explains why the driver reported a round change to the
// host, for observability rather than protocol logic.
type ViewChangeReason string

const (
	ViewChangeProposeTimeout   ViewChangeReason = "propose_timeout"
	ViewChangePrevoteTimeout   ViewChangeReason = "prevote_timeout"
	ViewChangePrecommitTimeout ViewChangeReason = "precommit_timeout"
	ViewChangeChoke            ViewChangeReason = "choke_qc"
)

// Codec is the capability a host's block payload type must support: a
// lossless byte round-trip. The engine never inspects T beyond this and
// Hash(Encode(block)).
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// Consensus is the host application collaborator: block production,
// validation, commit, roster lookup, and message transmission.
type Consensus[T any] interface {
	GetBlock(ctx context.Context, h Height) (T, BlockHash, error)
	CheckBlock(ctx context.Context, h Height, hash BlockHash, block T) error
	Commit(ctx context.Context, h Height, commit Commit[T]) (Status, error)
	GetAuthorityList(ctx context.Context, h Height) ([]Node, error)
	BroadcastToOther(ctx context.Context, msg MlmMsg[T]) error
	TransmitToRelayer(ctx context.Context, to Address, msg MlmMsg[T]) error
	ReportError(ctx context.Context, err *ConsensusError)
	ReportViewChange(ctx context.Context, h Height, r Round, reason ViewChangeReason)
}

// Crypto is the cryptographic collaborator: hashing, signing, and
// signature/aggregate verification.
type Crypto interface {
	Hash(b []byte) Hash
	Sign(h Hash) (Signature, error)
	VerifySignature(sig Signature, h Hash, addr Address) error
	AggregateSignatures(sigs []SignatureWithAddress) (AggregateSignature, error)
	VerifyAggregatedSignature(agg AggregateSignature, h Hash, voters []Address) error
}

// SignatureWithAddress pairs a signature with the address that produced it,
// the input shape AggregateSignatures consumes.
type SignatureWithAddress struct {
	Signature Signature
	Address   Address
}

// Wal is the write-ahead log collaborator. Keys are engine-defined;
// contents are an opaque encoding of the driver's step record.
type Wal interface {
	Save(key []byte, value []byte) error
	Load(key []byte) ([]byte, error)
}
