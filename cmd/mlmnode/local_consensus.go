package main

import (
	"context"
	"log/slog"
	"sync"

	"mlm/codecref"
	"mlm/cryptoref"
	"mlm/types"
)

// localConsensus is a single-process demo of the types.Consensus[Block]
// collaborator: it proposes an empty block per height, accepts any block
// whose hash matches the proposed block hash, and keeps the
// committed chain in memory. It has no real peer transport — BroadcastToOther
// and TransmitToRelayer just log, since wiring an actual network is a host
// application's job, not the engine's.
type localConsensus struct {
	crypto *cryptoref.Crypto
	codec  codecref.Codec[Block]
	log    *slog.Logger

	mu        sync.Mutex
	authority []types.Node
	chain     []Block
}

func newLocalConsensus(crypto *cryptoref.Crypto, authority []types.Node, log *slog.Logger) *localConsensus {
	return &localConsensus{
		crypto:    crypto,
		codec:     codecref.New[Block](),
		log:       log,
		authority: authority,
		chain:     []Block{{Height: 0}},
	}
}

func (c *localConsensus) GetBlock(ctx context.Context, h types.Height) (Block, types.BlockHash, error) {
	c.mu.Lock()
	prev := c.chain[len(c.chain)-1]
	c.mu.Unlock()

	b := Block{Height: uint64(h), PrevHash: c.crypto.Hash(mustEncode(c.codec, prev))}
	enc, err := c.codec.Encode(b)
	if err != nil {
		return Block{}, types.BlockHash{}, err
	}
	return b, c.crypto.Hash(enc), nil
}

func (c *localConsensus) CheckBlock(ctx context.Context, h types.Height, hash types.BlockHash, b Block) error {
	enc, err := c.codec.Encode(b)
	if err != nil {
		return err
	}
	if c.crypto.Hash(enc) != hash {
		return errBlockHashMismatch
	}
	return nil
}

func (c *localConsensus) Commit(ctx context.Context, h types.Height, commit types.Commit[Block]) (types.Status, error) {
	c.mu.Lock()
	c.chain = append(c.chain, commit.Content)
	authority := c.authority
	c.mu.Unlock()

	c.log.Info("committed block", "height", h, "bitmap_bytes", len(commit.Proof.Signature.AddressBitmap))
	return types.Status{Height: h + 1, AuthorityList: authority}, nil
}

func (c *localConsensus) GetAuthorityList(ctx context.Context, h types.Height) ([]types.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authority, nil
}

func (c *localConsensus) BroadcastToOther(ctx context.Context, msg types.MlmMsg[Block]) error {
	c.log.Debug("broadcast (no transport wired)", "kind", msg.Kind())
	return nil
}

func (c *localConsensus) TransmitToRelayer(ctx context.Context, to types.Address, msg types.MlmMsg[Block]) error {
	c.log.Debug("relay (no transport wired)", "to", cryptoref.Bech32(to))
	return nil
}

func (c *localConsensus) ReportError(ctx context.Context, err *types.ConsensusError) {
	c.log.Error("consensus error", "err", err)
}

func (c *localConsensus) ReportViewChange(ctx context.Context, h types.Height, r types.Round, reason types.ViewChangeReason) {
	c.log.Warn("view change", "height", h, "round", r, "reason", reason)
}

func mustEncode(codec codecref.Codec[Block], b Block) []byte {
	enc, err := codec.Encode(b)
	if err != nil {
		return nil
	}
	return enc
}

var errBlockHashMismatch = blockHashMismatchError{}

type blockHashMismatchError struct{}

func (blockHashMismatchError) Error() string { return "mlmnode: block hash does not match proposal" }
