package wal

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"mlm/smr"
	"mlm/types"
)

// Checkpoint is the minimal step record the state driver persists after
// every SMR transition: enough to resume a round in flight without
// re-deriving anything from collector state, which is not itself
// persisted (collected votes are re-solicited after a restart).
type Checkpoint struct {
	Height types.Height
	Round  types.Round
	Step   smr.Step
	Seq    uint64 // monotonic write counter, restored on recovery and continued from there

	HasLock       bool
	LockRound     types.Round
	LockBlockHash types.Hash
	LockQC        types.AggregatedVote
}

// CheckpointKey is the fixed Wal key the driver reads on startup and
// overwrites on every transition. A single key (rather than one per
// height) is sufficient since only the latest checkpoint is ever needed
// for recovery.
var CheckpointKey = []byte("mlm/checkpoint")

// EncodeCheckpoint RLP-encodes c and appends a blake3 checksum so a
// truncated write (e.g. a crash mid-Put) is detected on load rather than
// silently decoded into a corrupt record.
func EncodeCheckpoint(c Checkpoint) ([]byte, error) {
	body, err := rlp.EncodeToBytes(c)
	if err != nil {
		return nil, fmt.Errorf("wal: encode checkpoint: %w", err)
	}
	sum := blake3.Sum256(body)
	return append(body, sum[:]...), nil
}

// DecodeCheckpoint verifies the trailing checksum and RLP-decodes the
// remainder.
func DecodeCheckpoint(raw []byte) (Checkpoint, error) {
	const sumLen = 32
	var c Checkpoint
	if len(raw) < sumLen {
		return c, fmt.Errorf("wal: checkpoint record too short")
	}
	body, sum := raw[:len(raw)-sumLen], raw[len(raw)-sumLen:]
	want := blake3.Sum256(body)
	if string(sum) != string(want[:]) {
		return c, fmt.Errorf("wal: checkpoint checksum mismatch")
	}
	if err := rlp.DecodeBytes(body, &c); err != nil {
		return c, fmt.Errorf("wal: decode checkpoint: %w", err)
	}
	// RLP decodes an empty byte string as a non-nil empty slice; map it back
	// to nil so a decoded record equals the one that was encoded.
	if len(c.LockQC.Signature.Aggregate) == 0 {
		c.LockQC.Signature.Aggregate = nil
	}
	if len(c.LockQC.Signature.AddressBitmap) == 0 {
		c.LockQC.Signature.AddressBitmap = nil
	}
	return c, nil
}
