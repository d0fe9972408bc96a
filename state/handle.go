package state

import (
	"context"
	"log/slog"

	"mlm/observability"
	"mlm/smr"
	"mlm/types"
)

// lastPrecommitQC and contentByHash are plain (non-atomic) Driver fields,
// safe because only the single Run loop ever touches them — verify
// goroutines never read or write these two fields.

// handle dispatches one verified message to the right collaborator/SMR
// reaction (spec §4.5).
func (d *Driver[T]) handle(ctx context.Context, msg types.MlmMsg[T]) {
	switch {
	case msg.SignedProposal != nil:
		d.handleProposal(ctx, msg.SignedProposal)
	case msg.SignedVote != nil:
		d.handleVote(ctx, msg.SignedVote)
	case msg.SignedChoke != nil:
		d.handleChoke(ctx, msg.SignedChoke)
	case msg.AggregatedVote != nil:
		d.handleQC(ctx, msg.AggregatedVote)
	case msg.RichStatus != nil:
		d.enterHeight(ctx, msg.RichStatus.Height, msg.RichStatus)
	}
}

func (d *Driver[T]) handleProposal(ctx context.Context, sp *types.SignedProposal[T]) {
	p := sp.Proposal
	if p.Height != d.core.Height() {
		if p.Height > d.core.Height() {
			d.observeHigher(ctx, p.Height, p.Proposer)
		}
		return
	}
	if err := d.consensus.CheckBlock(ctx, p.Height, p.BlockHash, p.Content); err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.BlockErr, "proposal failed content check", err))
		return
	}
	d.contentByHash[p.BlockHash] = p.Content

	var validRound *types.Round
	if p.Lock != nil {
		vr := p.Lock.LockRound
		validRound = &vr
	}
	d.applyOut(ctx, d.core.Process(smr.InEvent{ProposalObserved: &smr.ProposalObserved{
		Height: p.Height, Round: p.Round, BlockHash: p.BlockHash, ValidRound: validRound,
	}}))
}

func (d *Driver[T]) handleVote(ctx context.Context, sv *types.SignedVote) {
	v := sv.Vote
	if v.Height != d.core.Height() {
		if v.Height > d.core.Height() {
			d.observeHigher(ctx, v.Height, v.Voter)
		}
		return
	}
	if d.collector.InsertVote(*sv, d.authority) {
		d.resolveQC(ctx, v.Height, v.Round, v.VoteType)
	}
}

func (d *Driver[T]) handleChoke(ctx context.Context, sc *types.SignedChoke) {
	c := sc.Choke
	if c.Height != d.core.Height() {
		return
	}
	d.collector.InsertChoke(c.Height, c.Round, c.From)
	d.resolveChoke(ctx, c.Height, c.Round)
}

func (d *Driver[T]) handleQC(ctx context.Context, qc *types.AggregatedVote) {
	if qc.Height != d.core.Height() {
		if qc.Height > d.core.Height() {
			d.observeHigher(ctx, qc.Height, nil)
		}
		return
	}
	d.applyQC(ctx, *qc)
}

// resolveQC asks the collector whether (h, r, t) has a reachable QC and, if
// so, assembles it via the Crypto collaborator and feeds it into the core.
func (d *Driver[T]) resolveQC(ctx context.Context, h types.Height, r types.Round, t types.VoteType) {
	qc, err := d.collector.TryGetQC(h, r, t, d.authority, d.crypto.AggregateSignatures)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.CryptoErr, "qc aggregation failed", err))
		return
	}
	if qc == nil {
		return
	}
	d.applyQC(ctx, *qc)
}

func (d *Driver[T]) applyQC(ctx context.Context, qc types.AggregatedVote) {
	observability.Consensus().RecordQC(qc.VoteType.String())

	key := qcKey{Height: qc.Height, Round: qc.Round, VoteType: qc.VoteType}
	if !d.seenQC[key] {
		d.seenQC[key] = true
		if err := d.consensus.BroadcastToOther(ctx, types.MlmMsg[T]{AggregatedVote: &qc}); err != nil {
			slog.Warn("state: broadcast qc failed", "height", qc.Height, "round", qc.Round, "vote_type", qc.VoteType, "err", err)
		}
	}

	switch qc.VoteType {
	case types.VotePrevote:
		d.applyOut(ctx, d.core.Process(smr.InEvent{PrevoteQC: &smr.QCObserved{
			Height: qc.Height, Round: qc.Round, BlockHash: qc.BlockHash, QC: qc,
		}}))
	case types.VotePrecommit:
		d.lastPrecommitQC = &qc
		d.applyOut(ctx, d.core.Process(smr.InEvent{PrecommitQC: &smr.QCObserved{
			Height: qc.Height, Round: qc.Round, BlockHash: qc.BlockHash, QC: qc,
		}}))
	}
}

// resolveChoke asks the Authority Manager whether the current round's
// choke set has crossed quorum and, if so, forces a round advance.
func (d *Driver[T]) resolveChoke(ctx context.Context, h types.Height, r types.Round) {
	addrs := d.collector.ChokeAddresses(h, r)
	bitmap := d.authority.BitmapFor(addrs)
	if d.authority.IsAboveThreshold(bitmap) != nil {
		return
	}
	d.applyOut(ctx, d.core.Process(smr.InEvent{ChokeQC: &smr.ChokeQC{Height: h, Round: r}}))
}

// observeHigher tracks distinct addresses reporting activity at a height
// above the driver's current one. Once at least f+1 distinct addresses
// have been seen (more than any single Byzantine minority could produce
// alone), the driver asks the host to catch it up rather than guessing at
// the missing commits itself — this supplements spec §4.5's height
// advancement path, which otherwise only reacts to an explicit RichStatus.
func (d *Driver[T]) observeHigher(ctx context.Context, h types.Height, from types.Address) {
	d.mu.Lock()
	set, ok := d.higherObservations[h]
	if !ok {
		set = make(map[string]bool)
		d.higherObservations[h] = set
	}
	if from != nil {
		set[string(from)] = true
	}
	n := len(set)
	f := (d.authority.CurrentSize() - 1) / 3
	d.mu.Unlock()

	if n < f+1 {
		return
	}
	slog.Info("state: leap-ahead threshold reached", "height", h, "observations", n)
	d.consensus.ReportViewChange(ctx, h, 0, types.ViewChangeChoke)

	roster, err := d.consensus.GetAuthorityList(ctx, h)
	if err != nil {
		d.consensus.ReportError(ctx, types.NewError(types.AuthorityErr, "leap-ahead authority lookup failed", err))
		return
	}
	d.enterHeight(ctx, h, &types.Status{Height: h, AuthorityList: roster})
}
