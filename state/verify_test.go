package state

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"mlm/cryptoref"
	"mlm/types"
	"mlm/wal"
)

// TestVerifyQCValueAcceptsAssembledAggregate builds a real multi-voter QC
// the way castVote/TryGetQC produce one and checks it survives
// verifyQCValue's VerifyAggregatedSignature check. This is the case a
// single-node harness can never exercise: with one voter, the signed
// digest and the QC digest only ever differ by a field no single-signer
// test can notice going missing.
func TestVerifyQCValueAcceptsAssembledAggregate(t *testing.T) {
	nodes := make([]types.Node, 3)
	cryptos := make([]*cryptoref.Crypto, 3)
	for i := range nodes {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		c, err := cryptoref.New(ethcrypto.FromECDSA(key))
		require.NoError(t, err)
		cryptos[i] = c
		nodes[i] = types.Node{Address: c.Address(), ProposeWeight: 1, VoteWeight: 1}
	}

	d := New[block](nodes[0].Address, &fakeConsensus{crypto: cryptos[0], nextAuth: nodes}, cryptos[0], fakeCodec{}, wal.NewMemory(), Config{
		InitHeight: 1, IntervalMS: 1000, Authority: nodes,
	})

	blockHash := types.Hash{0xAB}
	for _, c := range cryptos {
		vote := types.Vote{Height: 1, Round: 0, VoteType: types.VotePrevote, BlockHash: blockHash, Voter: c.Address()}
		sig, err := c.Sign(c.Hash(encodeVote(vote)))
		require.NoError(t, err)
		d.collector.InsertVote(types.SignedVote{Vote: vote, Signature: sig}, d.authority)
	}

	qc, err := d.collector.TryGetQC(1, 0, types.VotePrevote, d.authority, d.crypto.AggregateSignatures)
	require.NoError(t, err)
	require.NotNil(t, qc)

	require.NoError(t, d.verifyQCValue(*qc))
}
