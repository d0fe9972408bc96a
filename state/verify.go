package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mlm/observability"
	"mlm/observability/logging"
	"mlm/types"
)

// verify runs the cryptographic checks for one inbound message off the hot
// path, forwarding it to the main loop's verified channel only on success
// (spec §4.5's parallel verify stage, grounded on the reference engine's
// parallel_verify/verify_qc split). Run starts one of these goroutines per
// inbound message; verifyLimiter bounds how many of them proceed to
// verification per second, and the rest wait on it. It does not bound the
// number of goroutines started.
func (d *Driver[T]) verify(ctx context.Context, tagged taggedMsg[T]) {
	ctx, span := tracer.Start(ctx, "state.verify")
	defer span.End()

	if err := d.verifyLimiter.Wait(ctx); err != nil {
		return
	}

	msg := tagged.msg
	kind := "status"
	start := time.Now()
	switch {
	case msg.SignedProposal != nil:
		kind = "proposal"
		d.verifyProposal(ctx, tagged.id, msg)
	case msg.SignedVote != nil:
		kind = "vote"
		d.verifyVote(ctx, tagged.id, msg)
	case msg.SignedChoke != nil:
		kind = "choke"
		d.verifyChoke(ctx, tagged.id, msg)
	case msg.AggregatedVote != nil:
		kind = "qc"
		d.verifyQC(ctx, tagged.id, msg)
	default:
		// RichStatus and Stop carry no signature to verify.
		d.forward(ctx, msg)
	}
	observability.Consensus().ObserveVerifyDuration(kind, time.Since(start))
}

func (d *Driver[T]) verifyProposal(ctx context.Context, id uuid.UUID, msg types.MlmMsg[T]) {
	sp := msg.SignedProposal
	body, err := d.codec.Encode(sp.Proposal.Content)
	if err != nil {
		slog.Warn("state: encode proposal content failed", "msg_id", id, "err", err)
		observability.Consensus().RecordVerifyDropped("proposal_encode")
		return
	}
	hash := d.crypto.Hash(encodeProposalFields(sp.Proposal, body))
	if err := d.crypto.VerifySignature(sp.Signature, hash, sp.Proposal.Proposer); err != nil {
		slog.Warn("state: proposal signature verification failed", "msg_id", id, logging.MaskField("proposer", sp.Proposal.Proposer.String()), "err", err)
		observability.Consensus().RecordVerifyDropped("proposal_signature")
		return
	}
	if sp.Proposal.Lock != nil {
		if err := d.verifyQCValue(sp.Proposal.Lock.LockVotes); err != nil {
			slog.Warn("state: proposal PoLC verification failed", "msg_id", id, "err", err)
			observability.Consensus().RecordVerifyDropped("proposal_polc")
			return
		}
	}
	d.forward(ctx, msg)
}

func (d *Driver[T]) verifyVote(ctx context.Context, id uuid.UUID, msg types.MlmMsg[T]) {
	sv := msg.SignedVote
	hash := d.crypto.Hash(encodeVote(sv.Vote))
	if err := d.crypto.VerifySignature(sv.Signature, hash, sv.Vote.Voter); err != nil {
		slog.Warn("state: vote signature verification failed", "msg_id", id, logging.MaskField("voter", sv.Vote.Voter.String()), "err", err)
		observability.Consensus().RecordVerifyDropped("vote_signature")
		return
	}
	d.forward(ctx, msg)
}

func (d *Driver[T]) verifyChoke(ctx context.Context, id uuid.UUID, msg types.MlmMsg[T]) {
	sc := msg.SignedChoke
	hash := d.crypto.Hash(encodeChoke(sc.Choke))
	if err := d.crypto.VerifySignature(sc.Signature, hash, sc.Choke.From); err != nil {
		slog.Warn("state: choke signature verification failed", "msg_id", id, logging.MaskField("from", sc.Choke.From.String()), "err", err)
		observability.Consensus().RecordVerifyDropped("choke_signature")
		return
	}
	d.forward(ctx, msg)
}

func (d *Driver[T]) verifyQC(ctx context.Context, id uuid.UUID, msg types.MlmMsg[T]) {
	if err := d.verifyQCValue(*msg.AggregatedVote); err != nil {
		slog.Warn("state: aggregated vote verification failed", "msg_id", id, "err", err)
		observability.Consensus().RecordVerifyDropped("qc")
		return
	}
	d.forward(ctx, msg)
}

// verifyQCValue resolves qc's voters via the Authority Manager and verifies
// the aggregate signature, the logic original_source's verify_qc shares
// between a bare AggregatedVote message and a proposal's embedded PoLC.
func (d *Driver[T]) verifyQCValue(qc types.AggregatedVote) error {
	if err := d.authority.IsAboveThreshold(qc.Signature.AddressBitmap); err != nil {
		return err
	}
	voters, err := d.authority.GetVoters(qc.Signature.AddressBitmap)
	if err != nil {
		return err
	}
	hash := d.crypto.Hash(encodeVote(qc.ToVote()))
	return d.crypto.VerifyAggregatedSignature(qc.Signature, hash, voters)
}

func (d *Driver[T]) forward(ctx context.Context, msg types.MlmMsg[T]) {
	select {
	case d.verified <- msg:
	case <-ctx.Done():
	}
}
