package smr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mlm/types"
)

func alwaysProposer(h types.Height, r types.Round) bool { return true }
func neverProposer(h types.Height, r types.Round) bool   { return false }

func hash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestNewHeightEntersProposeRoundZero(t *testing.T) {
	s := New(alwaysProposer)
	events := s.Process(InEvent{NewHeight: &NewHeight{Height: 1, AuthoritySize: 4}})

	require.Equal(t, types.Height(1), s.Height())
	require.Equal(t, types.Round(0), s.Round())
	require.Equal(t, StepPropose, s.Step())
	require.Len(t, events, 1)
	require.NotNil(t, events[0].NewRoundInfo)
	require.True(t, events[0].NewRoundInfo.IsProposer)
}

func TestHappyPathReachesCommit(t *testing.T) {
	s := New(alwaysProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})

	bh := hash(0xAA)
	events := s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: bh}})
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PrevoteVote)
	require.Equal(t, bh, events[0].PrevoteVote.BlockHash)
	require.Equal(t, StepPrevote, s.Step())

	events = s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: bh}})
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PrecommitVote)
	require.Equal(t, StepPrecommit, s.Step())
	require.NotNil(t, s.Lock())
	require.Equal(t, bh, s.Lock().BlockHash)

	events = s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 0, BlockHash: bh}})
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Commit)
	require.Equal(t, bh, events[0].Commit.BlockHash)
	require.Equal(t, StepCommit, s.Step())
}

func TestNilPrevoteQCAdvancesToPrecommitNil(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})

	events := s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: types.Hash{}}})
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PrecommitVote)
	require.True(t, events[0].PrecommitVote.BlockHash.IsZero())
	require.Nil(t, s.Lock(), "a Nil prevote QC must not set a lock")
}

func TestNilPrecommitQCAdvancesRoundCarryingLock(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	bh := hash(0x02)
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: bh}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: bh}})
	require.NotNil(t, s.Lock())

	events := s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 0, BlockHash: types.Hash{}}})
	require.Len(t, events, 1)
	require.NotNil(t, events[0].NewRoundInfo)
	require.Equal(t, types.Round(1), s.Round())
	require.Equal(t, StepPropose, s.Step())
	require.NotNil(t, s.Lock(), "the lock must carry forward across a failed round")
	require.Equal(t, bh, s.Lock().BlockHash)
}

func TestLockPreventsVotingForDifferentUnlockableBlock(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	locked := hash(0x03)
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: locked}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: locked}})
	s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 0, BlockHash: types.Hash{}}}) // round -> 1, lock carries

	// Round 1: a different proposal arrives with no PoLC (ValidRound nil):
	// the node must prevote Nil, not the new block, since it cannot prove
	// the lock is releasable.
	events := s.Process(InEvent{ProposalObserved: &ProposalObserved{
		Height: 1, Round: 1, BlockHash: hash(0x04), ValidRound: nil,
	}})
	require.Len(t, events, 1)
	require.True(t, events[0].PrevoteVote.BlockHash.IsZero())
}

func TestLockReleasedByHigherValidRound(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	locked := hash(0x03)
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: locked}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: locked}})
	s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 0, BlockHash: types.Hash{}}}) // round -> 1

	vr := types.Round(0)
	newBlock := hash(0x05)
	events := s.Process(InEvent{ProposalObserved: &ProposalObserved{
		Height: 1, Round: 1, BlockHash: newBlock, ValidRound: &vr,
	}})
	require.Equal(t, newBlock, events[0].PrevoteVote.BlockHash)
}

func TestTimeoutOnlyAppliesToCurrentStep(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})

	// A Prevote timeout while still in Propose is stale and dropped.
	events := s.Process(InEvent{Timeout: &TimeoutFired{Height: 1, Round: 0, Step: StepPrevote}})
	require.Nil(t, events)
	require.Equal(t, StepPropose, s.Step())
}

func TestPrevoteTimeoutAdvancesToPrecommitNil(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	require.Equal(t, StepPrevote, s.Step())

	events := s.Process(InEvent{Timeout: &TimeoutFired{Height: 1, Round: 0, Step: StepPrevote}})
	require.NotNil(t, events[0].PrecommitVote)
	require.True(t, events[0].PrecommitVote.BlockHash.IsZero())
	require.Equal(t, StepPrecommit, s.Step())
}

func TestPrecommitTimeoutAdvancesRound(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	require.Equal(t, StepPrecommit, s.Step())

	events := s.Process(InEvent{Timeout: &TimeoutFired{Height: 1, Round: 0, Step: StepPrecommit}})
	require.NotNil(t, events[0].NewRoundInfo)
	require.Equal(t, types.Round(1), s.Round())
}

func TestStaleInputsAreDropped(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 5}})

	events := s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 4, Round: 0, BlockHash: hash(0x01)}})
	require.Nil(t, events)
	events = s.Process(InEvent{PrevoteQC: &QCObserved{Height: 5, Round: 3, BlockHash: hash(0x01)}})
	require.Nil(t, events)
}

func TestBrakeEntryAfterConsecutiveFailures(t *testing.T) {
	s := New(neverProposer)
	s.SetBrakeThresholds(2, true)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})

	// Two consecutive Precommit-Nil-driven round failures should enter Brake.
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 0, BlockHash: types.Hash{}}}) // round -> 1, failure 1

	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 1, BlockHash: hash(0x02), ValidRound: roundPtr(0)}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 1, BlockHash: hash(0x02)}})
	events := s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 1, BlockHash: types.Hash{}}}) // round -> 2, failure 2 -> Brake

	require.Equal(t, StepBrake, s.Step())
	require.NotNil(t, events[0].Brake)
}

func TestBrakeExitsOnResumingQC(t *testing.T) {
	s := New(neverProposer)
	s.SetBrakeThresholds(1, true)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	s.Process(InEvent{ProposalObserved: &ProposalObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 0, BlockHash: hash(0x01)}})
	events := s.Process(InEvent{PrecommitQC: &QCObserved{Height: 1, Round: 0, BlockHash: types.Hash{}}}) // -> Brake
	require.Equal(t, StepBrake, s.Step())
	require.NotNil(t, events[0].Brake)

	// A prevote QC for the (now current) round resumes normal flow out of Brake.
	events = s.Process(InEvent{PrevoteQC: &QCObserved{Height: 1, Round: 1, BlockHash: hash(0x09)}})
	require.NotNil(t, events[0].PrecommitVote)
	require.Equal(t, StepPrecommit, s.Step())
}

func TestChokeQCForcesRoundAdvanceRegardlessOfStep(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})
	require.Equal(t, StepPropose, s.Step())

	events := s.Process(InEvent{ChokeQC: &ChokeQC{Height: 1, Round: 0}})
	require.NotNil(t, events[0].NewRoundInfo)
	require.Equal(t, types.Round(1), s.Round())
	require.Equal(t, StepPropose, s.Step())
}

func TestChokeQCCanTargetAheadRound(t *testing.T) {
	s := New(neverProposer)
	s.Process(InEvent{NewHeight: &NewHeight{Height: 1}})

	events := s.Process(InEvent{ChokeQC: &ChokeQC{Height: 1, Round: 3}})
	require.NotNil(t, events[0].NewRoundInfo)
	require.Equal(t, types.Round(4), s.Round())
}

func TestRestoreSeedsFromCheckpoint(t *testing.T) {
	s := New(neverProposer)
	lock := &Lock{Round: 2, BlockHash: hash(0x07)}
	s.Restore(10, 3, StepPrecommit, lock)

	require.Equal(t, types.Height(10), s.Height())
	require.Equal(t, types.Round(3), s.Round())
	require.Equal(t, StepPrecommit, s.Step())
	require.Equal(t, lock, s.Lock())
}

func roundPtr(r types.Round) *types.Round { return &r }
