package state

import (
	"context"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"mlm/cryptoref"
	"mlm/types"
	"mlm/wal"
)

type block struct {
	Height uint64
	Data   []byte
}

type fakeCodec struct{}

func (fakeCodec) Encode(b block) ([]byte, error) { return append([]byte{byte(b.Height)}, b.Data...), nil }
func (fakeCodec) Decode(b []byte) (block, error) {
	if len(b) == 0 {
		return block{}, nil
	}
	return block{Height: uint64(b[0]), Data: b[1:]}, nil
}

// fakeConsensus is a single-node harness: it always proposes the same
// deterministic block per height and records every commit.
type fakeConsensus struct {
	codec    fakeCodec
	crypto   *cryptoref.Crypto
	commits  chan types.Commit[block]
	nextAuth []types.Node
}

func (f *fakeConsensus) GetBlock(ctx context.Context, h types.Height) (block, types.BlockHash, error) {
	b := block{Height: uint64(h), Data: []byte("payload")}
	enc, _ := f.codec.Encode(b)
	return b, f.crypto.Hash(enc), nil
}

func (f *fakeConsensus) CheckBlock(ctx context.Context, h types.Height, hash types.BlockHash, b block) error {
	enc, _ := f.codec.Encode(b)
	if f.crypto.Hash(enc) != hash {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeConsensus) Commit(ctx context.Context, h types.Height, c types.Commit[block]) (types.Status, error) {
	select {
	case f.commits <- c:
	default:
	}
	return types.Status{Height: h + 1, AuthorityList: f.nextAuth}, nil
}

func (f *fakeConsensus) GetAuthorityList(ctx context.Context, h types.Height) ([]types.Node, error) {
	return f.nextAuth, nil
}
func (f *fakeConsensus) BroadcastToOther(ctx context.Context, msg types.MlmMsg[block]) error { return nil }
func (f *fakeConsensus) TransmitToRelayer(ctx context.Context, to types.Address, msg types.MlmMsg[block]) error {
	return nil
}
func (f *fakeConsensus) ReportError(ctx context.Context, err *types.ConsensusError) {}
func (f *fakeConsensus) ReportViewChange(ctx context.Context, h types.Height, r types.Round, reason types.ViewChangeReason) {
}

// TestSingleNodeReachesCommit drives a lone-validator driver (trivially its
// own quorum) through a full height and checks the host sees a Commit.
func TestSingleNodeReachesCommit(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	c, err := cryptoref.New(ethcrypto.FromECDSA(key))
	require.NoError(t, err)

	self := types.Node{Address: c.Address(), ProposeWeight: 1, VoteWeight: 1}
	fc := &fakeConsensus{crypto: c, commits: make(chan types.Commit[block], 4), nextAuth: []types.Node{self}}

	d := New[block](c.Address(), fc, c, fakeCodec{}, wal.NewMemory(), Config{
		InitHeight: 1,
		IntervalMS: 50,
		Authority:  []types.Node{self},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	select {
	case commit := <-fc.commits:
		require.Equal(t, types.Height(1), commit.Height)
		require.Equal(t, uint64(1), commit.Content.Height)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("driver never committed height 1")
	}
}
