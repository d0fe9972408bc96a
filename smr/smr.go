package smr

import "mlm/types"

// defaultBrakeEntryRounds is the number of consecutive round failures
// (round advances without a commit) after which the core enters Brake.
// See spec §9 Open Questions; overridable via SetBrakeEntryRounds.
const defaultBrakeEntryRounds = 4

// SMR is the pure round/step state machine. It owns (height, round, step,
// lock) and nothing else: no channels, no timers, no collaborator
// references. Process is the only entry point and is not safe for
// concurrent use — the state driver serializes all calls from its single
// main-loop task (spec §5).
type SMR struct {
	height types.Height
	round  types.Round
	step   Step
	lock   *Lock

	isProposer func(h types.Height, r types.Round) bool

	consecutiveFailures uint64
	brakeEntryRounds    uint64
	brakeExitOnQC       bool
}

// New constructs an SMR core. isProposer decides, for the local node,
// whether it is the proposer of (height, round) — the Authority Manager
// supplies this via its GetProposer method, compared against the node's
// own address by the caller.
func New(isProposer func(h types.Height, r types.Round) bool) *SMR {
	return &SMR{
		isProposer:       isProposer,
		brakeEntryRounds: defaultBrakeEntryRounds,
		brakeExitOnQC:    true,
	}
}

// SetBrakeThresholds overrides the Brake entry/exit policy (spec §9).
func (s *SMR) SetBrakeThresholds(entryRounds uint64, exitOnQC bool) {
	if entryRounds > 0 {
		s.brakeEntryRounds = entryRounds
	}
	s.brakeExitOnQC = exitOnQC
}

// Height, Round, Step, and Lock report the current tuple for the driver's
// own bookkeeping (e.g. to persist a WAL checkpoint).
func (s *SMR) Height() types.Height { return s.height }
func (s *SMR) Round() types.Round   { return s.round }
func (s *SMR) Step() Step           { return s.step }
func (s *SMR) Lock() *Lock          { return s.lock }

// Restore seeds the core's tuple from a WAL checkpoint on startup, before
// any events are processed (spec §4.5 WAL recovery).
func (s *SMR) Restore(h types.Height, r types.Round, step Step, lock *Lock) {
	s.height, s.round, s.step, s.lock = h, r, step, lock
	s.consecutiveFailures = 0
}

// current reports whether (h, r) is the core's current instance; inputs
// for any other (h, r) are stale and dropped silently per spec §4.4.
func (s *SMR) current(h types.Height, r types.Round) bool {
	return h == s.height && r == s.round
}

// aheadOrCurrent reports whether (h, r) is at the core's current height and
// at or after its current round (used only for ChokeQC, which may
// legitimately target a round greater than the current one to force an
// advance).
func (s *SMR) aheadOrCurrent(h types.Height, r types.Round) bool {
	if h != s.height {
		return false
	}
	return r >= s.round
}

// Process consumes one InEvent and returns the OutEvents it produces, in
// the tie-break order Commit > PrecommitVote > PrevoteVote > NewRoundInfo
// (spec §4.4). Stale inputs are dropped and return no events.
func (s *SMR) Process(ev InEvent) []OutEvent {
	switch {
	case ev.NewHeight != nil:
		return s.onNewHeight(*ev.NewHeight)
	case ev.ProposalObserved != nil:
		return s.onProposalObserved(*ev.ProposalObserved)
	case ev.PrevoteQC != nil:
		return s.onPrevoteQC(*ev.PrevoteQC)
	case ev.PrecommitQC != nil:
		return s.onPrecommitQC(*ev.PrecommitQC)
	case ev.Timeout != nil:
		return s.onTimeout(*ev.Timeout)
	case ev.ChokeQC != nil:
		return s.onChokeQC(*ev.ChokeQC)
	default:
		return nil
	}
}

// onNewHeight enters round 0 of a fresh height (step 1: Propose entry).
func (s *SMR) onNewHeight(e NewHeight) []OutEvent {
	s.height = e.Height
	s.round = 0
	s.step = StepPropose
	s.lock = nil
	s.consecutiveFailures = 0
	return s.enterPropose()
}

func (s *SMR) enterPropose() []OutEvent {
	return []OutEvent{{NewRoundInfo: &NewRoundInfo{
		Height:     s.height,
		Round:      s.round,
		IsProposer: s.isProposer != nil && s.isProposer(s.height, s.round),
	}}}
}

// onProposalObserved implements step 2: transition Propose -> Prevote once
// a proposal is seen, honoring the lock rule (invariant 4).
func (s *SMR) onProposalObserved(e ProposalObserved) []OutEvent {
	if !s.current(e.Height, e.Round) || s.step != StepPropose {
		return nil
	}

	voteFor := e.BlockHash
	if s.lock != nil {
		unlockable := e.ValidRound != nil && *e.ValidRound >= s.lock.Round
		sameBlock := e.BlockHash == s.lock.BlockHash
		if !sameBlock && !unlockable {
			voteFor = types.Hash{}
		}
	}

	s.step = StepPrevote
	return []OutEvent{{PrevoteVote: &VoteIntent{
		Height:    s.height,
		Round:     s.round,
		BlockHash: voteFor,
	}}}
}

// onPrevoteQC implements steps 3 and 4: a prevote QC (for a value or Nil)
// advances Prevote -> Precommit.
func (s *SMR) onPrevoteQC(e QCObserved) []OutEvent {
	inBrake := s.step == StepBrake && s.brakeExitOnQC
	if !s.current(e.Height, e.Round) || (s.step != StepPrevote && !inBrake) {
		return nil
	}
	if !e.BlockHash.IsZero() {
		s.lock = &Lock{Round: s.round, BlockHash: e.BlockHash, QC: e.QC}
	}
	s.step = StepPrecommit
	return []OutEvent{{PrecommitVote: &VoteIntent{
		Height:    s.height,
		Round:     s.round,
		BlockHash: e.BlockHash,
	}}}
}

// onPrecommitQC implements steps 5 and 6: a precommit QC for a value
// commits; a precommit QC for Nil advances the round, carrying the lock
// forward.
func (s *SMR) onPrecommitQC(e QCObserved) []OutEvent {
	inBrake := s.step == StepBrake && s.brakeExitOnQC
	if !s.current(e.Height, e.Round) || (s.step != StepPrecommit && !inBrake) {
		return nil
	}
	if !e.BlockHash.IsZero() {
		s.step = StepCommit
		s.consecutiveFailures = 0
		return []OutEvent{{Commit: &CommitReached{Height: s.height, BlockHash: e.BlockHash}}}
	}
	return s.advanceRound(true)
}

// onTimeout implements the Prevote-timeout and Precommit-timeout arms of
// steps 4 and 6. Stale timeouts (referring to a step the core has already
// left) are dropped, per spec §4.3/§4.4.
func (s *SMR) onTimeout(e TimeoutFired) []OutEvent {
	if !s.current(e.Height, e.Round) || e.Step != s.step {
		return nil
	}
	switch s.step {
	case StepPrevote:
		s.step = StepPrecommit
		return []OutEvent{{PrecommitVote: &VoteIntent{
			Height:    s.height,
			Round:     s.round,
			BlockHash: types.Hash{},
		}}}
	case StepPrecommit:
		return s.advanceRound(true)
	default:
		return nil
	}
}

// onChokeQC implements step 8: force a round advance regardless of step.
func (s *SMR) onChokeQC(e ChokeQC) []OutEvent {
	if !s.aheadOrCurrent(e.Height, e.Round) {
		return nil
	}
	target := e.Round
	if s.round > target {
		target = s.round
	}
	s.round = target
	return s.advanceRound(true)
}

// advanceRound bumps the round (carrying the lock forward per invariant 4)
// and re-enters Propose, tracking consecutive failures for Brake entry/exit
// (step 7).
func (s *SMR) advanceRound(failure bool) []OutEvent {
	s.round++
	s.step = StepPropose

	if failure {
		s.consecutiveFailures++
	} else {
		s.consecutiveFailures = 0
	}

	if s.consecutiveFailures >= s.brakeEntryRounds {
		s.step = StepBrake
		return []OutEvent{
			{Brake: &BrakeEntered{Height: s.height, Round: s.round}},
		}
	}
	return s.enterPropose()
}
