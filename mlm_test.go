package mlm

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
}

type blockCodec struct{}

func (blockCodec) Encode(b block) ([]byte, error) { return []byte{byte(b.Height)}, nil }
func (blockCodec) Decode(b []byte) (block, error) {
	if len(b) == 0 {
		return block{}, nil
	}
	return block{Height: uint64(b[0])}, nil
}

type stubConsensus struct {
	crypto   *cryptoref.Crypto
	codec    blockCodec
	nextAuth []types.Node
	commits  chan types.Commit[block]
}

func (s *stubConsensus) GetBlock(ctx context.Context, h types.Height) (block, types.BlockHash, error) {
	b := block{Height: uint64(h)}
	enc, _ := s.codec.Encode(b)
	return b, s.crypto.Hash(enc), nil
}
func (s *stubConsensus) CheckBlock(ctx context.Context, h types.Height, hash types.BlockHash, b block) error {
	return nil
}
func (s *stubConsensus) Commit(ctx context.Context, h types.Height, c types.Commit[block]) (types.Status, error) {
	select {
	case s.commits <- c:
	default:
	}
	return types.Status{Height: h + 1, AuthorityList: s.nextAuth}, nil
}
func (s *stubConsensus) GetAuthorityList(ctx context.Context, h types.Height) ([]types.Node, error) {
	return s.nextAuth, nil
}
func (s *stubConsensus) BroadcastToOther(ctx context.Context, msg types.MlmMsg[block]) error {
	return nil
}
func (s *stubConsensus) TransmitToRelayer(ctx context.Context, to types.Address, msg types.MlmMsg[block]) error {
	return nil
}
func (s *stubConsensus) ReportError(ctx context.Context, err *types.ConsensusError)          {}
func (s *stubConsensus) ReportViewChange(ctx context.Context, h types.Height, r types.Round, reason types.ViewChangeReason) {
}

func TestMlmRunSecondCallReturnsAlreadyRunning(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	c, err := cryptoref.New(ethcrypto.FromECDSA(key))
	require.NoError(t, err)

	self := types.Node{Address: c.Address(), ProposeWeight: 1, VoteWeight: 1}
	sc := &stubConsensus{crypto: c, nextAuth: []types.Node{self}, commits: make(chan types.Commit[block], 2)}

	instance := New[block](c.Address(), sc, c, blockCodec{}, wal.NewMemory(), Config{
		InitHeight: 1, IntervalMS: 50, Authority: []types.Node{self},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- instance.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	err = instance.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	<-done
}

func TestMlmHandlerSendMsg(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	c, err := cryptoref.New(ethcrypto.FromECDSA(key))
	require.NoError(t, err)

	self := types.Node{Address: c.Address(), ProposeWeight: 1, VoteWeight: 1}
	sc := &stubConsensus{crypto: c, nextAuth: []types.Node{self}, commits: make(chan types.Commit[block], 2)}

	instance := New[block](c.Address(), sc, c, blockCodec{}, wal.NewMemory(), Config{
		InitHeight: 1, IntervalMS: 50, Authority: []types.Node{self},
	})
	handler := instance.GetHandler()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go instance.Run(ctx)

	select {
	case c := <-sc.commits:
		require.Equal(t, types.Height(1), c.Height)
	case <-time.After(800 * time.Millisecond):
		t.Fatal("never committed height 1")
	}

	require.NoError(t, handler.SendMsg(ctx, types.MlmMsg[block]{Stop: true}))
}
