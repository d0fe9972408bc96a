package state

import (
	"context"
	"log/slog"
	"time"

	"mlm/observability"
	"mlm/smr"
	"mlm/types"
)

// applyOut carries out every OutEvent the SMR core just produced, then
// persists a checkpoint once — the events from a single Process call are
// never partially applied, so one checkpoint per call is sufficient (spec
// §4.4's tie-break order is moot here since every handler in package smr
// produces at most one OutEvent per call).
func (d *Driver[T]) applyOut(ctx context.Context, events []smr.OutEvent) {
	for _, ev := range events {
		switch {
		case ev.NewRoundInfo != nil:
			d.onNewRoundInfo(ctx, *ev.NewRoundInfo)
		case ev.PrevoteVote != nil:
			d.castVote(ctx, types.VotePrevote, *ev.PrevoteVote)
		case ev.PrecommitVote != nil:
			d.castVote(ctx, types.VotePrecommit, *ev.PrecommitVote)
		case ev.Brake != nil:
			d.onBrake(ctx, *ev.Brake)
		case ev.Commit != nil:
			d.onCommit(ctx, *ev.Commit)
		}
	}
	if len(events) > 0 {
		m := observability.Consensus()
		m.SetHeightRound(uint64(d.core.Height()), uint64(d.core.Round()))
		m.SetStep(d.core.Step().String(), knownSteps)
		if err := d.checkpoint(); err != nil {
			d.consensus.ReportError(ctx, types.NewError(types.StorageErr, "checkpoint write failed", err))
		}
	}
}

func (d *Driver[T]) onNewRoundInfo(ctx context.Context, info smr.NewRoundInfo) {
	d.tmr.Arm(info.Height, info.Round, smr.StepPropose)
	if info.IsProposer {
		go d.propose(ctx, info.Height, info.Round)
	}
}

// propose produces this node's block proposal for (height, round) and
// feeds it back into the driver as if it had arrived over the network,
// skipping the verify stage since the proposal is self-authored.
func (d *Driver[T]) propose(ctx context.Context, height types.Height, round types.Round) {
	content, hash, err := d.consensus.GetBlock(ctx, height)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.BlockErr, "get_block failed", err))
		return
	}

	var polc *types.PoLC
	if lock := d.core.Lock(); lock != nil {
		polc = &types.PoLC{LockRound: lock.Round, LockVotes: lock.QC}
	}

	proposal := types.Proposal[T]{
		Height: height, Round: round, Content: content,
		BlockHash: hash, Lock: polc, Proposer: d.address,
	}
	body, err := d.codec.Encode(content)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.BlockErr, "encode proposal content failed", err))
		return
	}
	sigHash := d.crypto.Hash(encodeProposalFields(proposal, body))
	sig, err := d.crypto.Sign(sigHash)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.CryptoErr, "sign proposal failed", err))
		return
	}

	msg := types.MlmMsg[T]{SignedProposal: &types.SignedProposal[T]{Proposal: proposal, Signature: sig}}
	if err := d.consensus.BroadcastToOther(ctx, msg); err != nil {
		slog.Warn("state: broadcast proposal failed", "height", height, "round", round, "err", err)
	}
	select {
	case d.verified <- msg:
	case <-ctx.Done():
	}
}

// castVote signs and broadcasts a prevote or precommit for intent, records
// it in the local collector (a node's own vote counts toward its own
// quorum observation), and arms the timer for the step the vote enters.
func (d *Driver[T]) castVote(ctx context.Context, t types.VoteType, intent smr.VoteIntent) {
	vote := types.Vote{Height: intent.Height, Round: intent.Round, VoteType: t, BlockHash: intent.BlockHash, Voter: d.address}
	hash := d.crypto.Hash(encodeVote(vote))
	sig, err := d.crypto.Sign(hash)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.CryptoErr, "sign vote failed", err))
		return
	}
	sv := types.SignedVote{Vote: vote, Signature: sig}

	if err := d.consensus.BroadcastToOther(ctx, types.MlmMsg[T]{SignedVote: &sv}); err != nil {
		slog.Warn("state: broadcast vote failed", "height", intent.Height, "round", intent.Round, "err", err)
	}

	step := smr.StepPrevote
	if t == types.VotePrecommit {
		step = smr.StepPrecommit
	}
	d.tmr.Arm(intent.Height, intent.Round, step)

	if d.collector.InsertVote(sv, d.authority) {
		d.resolveQC(ctx, intent.Height, intent.Round, t)
	}
}

// onBrake arms the Brake timer and broadcasts this node's choke vote, the
// rescue path for a stuck leader (spec §4.4 step 7).
func (d *Driver[T]) onBrake(ctx context.Context, ev smr.BrakeEntered) {
	observability.Consensus().RecordBrakeEntered()
	d.tmr.Arm(ev.Height, ev.Round, smr.StepBrake)

	choke := types.Choke{Height: ev.Height, Round: ev.Round, From: d.address}
	hash := d.crypto.Hash(encodeChoke(choke))
	sig, err := d.crypto.Sign(hash)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.CryptoErr, "sign choke failed", err))
		return
	}
	sc := types.SignedChoke{Choke: choke, Signature: sig}
	if err := d.consensus.BroadcastToOther(ctx, types.MlmMsg[T]{SignedChoke: &sc}); err != nil {
		slog.Warn("state: broadcast choke failed", "height", ev.Height, "round", ev.Round, "err", err)
	}
	d.collector.InsertChoke(ev.Height, ev.Round, d.address)
	d.resolveChoke(ctx, ev.Height, ev.Round)
}

// onCommit hands the committed content and its proof to the host, then
// advances to the height the host reports back.
func (d *Driver[T]) onCommit(ctx context.Context, ev smr.CommitReached) {
	content, ok := d.contentByHash[ev.BlockHash]
	if !ok {
		// Stale content: this node never locally accepted the winning
		// proposal (e.g. it voted Prevote-Nil then saw others' QC), so
		// re-request the committed block directly from the host.
		got, hash, err := d.consensus.GetBlock(ctx, ev.Height)
		if err != nil || hash != ev.BlockHash {
			d.consensus.ReportError(ctx, types.NewError(types.BlockErr, "commit content unavailable", err))
			return
		}
		content = got
	}

	qc := d.lastPrecommitQC
	if qc == nil {
		d.consensus.ReportError(ctx, types.NewError(types.Other, "commit reached with no cached precommit QC", nil))
		return
	}

	status, err := d.consensus.Commit(ctx, ev.Height, types.Commit[T]{Height: ev.Height, Content: content, Proof: *qc})
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.StorageErr, "commit failed", err))
		return
	}
	if now := time.Now(); !d.lastCommitAt.IsZero() {
		observability.Consensus().RecordBlockInterval(now.Sub(d.lastCommitAt))
		d.lastCommitAt = now
	} else {
		d.lastCommitAt = now
	}
	d.enterHeight(ctx, status.Height, &status)
}

// enterHeight flushes collector state below h, rotates the authority
// roster, re-configures the Timer, resets per-height caches, and drives
// the core into a fresh NewHeight (spec §4.5's height advancement path).
func (d *Driver[T]) enterHeight(ctx context.Context, h types.Height, status *types.Status) {
	d.collector.Flush(h)

	var nextRoster []types.Node
	if status != nil {
		if status.IntervalMS != nil {
			d.tmrConfig.SetInterval(*status.IntervalMS)
		}
		if status.TimerConfig != nil {
			d.tmrConfig.Update(*status.TimerConfig)
		}
		nextRoster = status.AuthorityList
	}
	d.authority.Rotate(nextRoster)

	d.contentByHash = make(map[types.Hash]T)
	d.lastPrecommitQC = nil
	d.seenQC = make(map[qcKey]bool)
	d.height = h

	d.mu.Lock()
	for height := range d.higherObservations {
		if height <= h {
			delete(d.higherObservations, height)
		}
	}
	d.mu.Unlock()

	d.applyOut(ctx, d.core.Process(smr.InEvent{NewHeight: &smr.NewHeight{Height: h, AuthoritySize: d.authority.CurrentSize()}}))
}
