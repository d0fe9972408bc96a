package wal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mlm/smr"
	"mlm/types"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	w := NewMemory()
	require.NoError(t, w.Save([]byte("k"), []byte("v")))
	got, err := w.Load([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestLoadMissingKeyReturnsNilNoError(t *testing.T) {
	w := NewMemory()
	got, err := w.Load([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCheckpointEncodeDecodeRoundTrip(t *testing.T) {
	cp := Checkpoint{
		Height: 10, Round: 2, Step: smr.StepPrecommit, Seq: 7,
		HasLock: true, LockRound: 1, LockBlockHash: types.Hash{0xAB},
	}
	raw, err := EncodeCheckpoint(cp)
	require.NoError(t, err)

	got, err := DecodeCheckpoint(raw)
	require.NoError(t, err)
	require.Equal(t, cp, got)
}

func TestCheckpointDecodeRejectsCorruption(t *testing.T) {
	cp := Checkpoint{Height: 1, Round: 0, Step: smr.StepPropose}
	raw, err := EncodeCheckpoint(cp)
	require.NoError(t, err)

	raw[0] ^= 0xFF // corrupt the RLP body
	_, err = DecodeCheckpoint(raw)
	require.Error(t, err)
}

func TestSaveLoadCheckpointThroughWal(t *testing.T) {
	w := NewMemory()
	cp := Checkpoint{Height: 5, Round: 1, Step: smr.StepPrevote}
	raw, err := EncodeCheckpoint(cp)
	require.NoError(t, err)
	require.NoError(t, w.Save(CheckpointKey, raw))

	loaded, err := w.Load(CheckpointKey)
	require.NoError(t, err)
	got, err := DecodeCheckpoint(loaded)
	require.NoError(t, err)
	require.Equal(t, cp, got)
}
