// Package state implements the State Driver (spec §4.5): the single
// main-loop task that owns height memory, the vote collectors, the lock,
// and the collaborator references, fed by a parallel verification stage
// and the Timer's timeout events.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"mlm/authority"
	"mlm/collector"
	"mlm/observability"
	"mlm/smr"
	"mlm/timer"
	"mlm/types"
	"mlm/wal"
)

var knownSteps = []string{
	smr.StepPropose.String(), smr.StepPrevote.String(), smr.StepPrecommit.String(),
	smr.StepBrake.String(), smr.StepCommit.String(),
}

var tracer = otel.Tracer("mlm/state")

// taggedMsg pairs an inbound message with a correlation ID, assigned at
// ingress so a message's path through the verify stage and the main loop
// can be traced end to end (spec §6's RichStatus/MlmMsg envelope carries
// no such ID itself; the driver adds one for observability only).
type taggedMsg[T any] struct {
	id  uuid.UUID
	msg types.MlmMsg[T]
}

// Driver is the State Driver. One Driver owns one running consensus
// instance; it is not safe to call Run more than once (mirrors the
// one-shot construction of the Mlm wrapper in the root package).
type Driver[T any] struct {
	address types.Address

	core      *smr.SMR
	authority *authority.Manager
	collector *collector.Collector
	tmr       *timer.Timer
	tmrConfig *timer.Config

	consensus types.Consensus[T]
	crypto    types.Crypto
	codec     types.Codec[T]
	wal       types.Wal

	height types.Height
	seq    uint64

	// contentByHash and lastPrecommitQC are touched only by the single Run
	// goroutine, never by the verify goroutines, so they need no lock.
	contentByHash   map[types.Hash]T
	lastPrecommitQC *types.AggregatedVote
	lastCommitAt    time.Time

	verifyLimiter *rate.Limiter

	ingress  chan taggedMsg[T]
	verified chan types.MlmMsg[T]

	higherObservations map[types.Height]map[string]bool
	seenQC             map[qcKey]bool
	mu                 sync.Mutex
}

// qcKey identifies one (height, round, vote type) QC slot, for the
// already-broadcast dedupe in applyQC.
type qcKey struct {
	Height   types.Height
	Round    types.Round
	VoteType types.VoteType
}

// Config bundles a Driver's tunables that aren't collaborator references.
type Config struct {
	InitHeight  types.Height
	IntervalMS  uint64
	Authority   []types.Node
	TimerConfig *types.DurationConfig
}

// New constructs a Driver. The returned Driver has not started consuming
// events; call Run to do so.
func New[T any](
	address types.Address,
	consensus types.Consensus[T],
	crypto types.Crypto,
	codec types.Codec[T],
	w types.Wal,
	cfg Config,
) *Driver[T] {
	tmrConfig := timer.NewConfig(cfg.IntervalMS)
	if cfg.TimerConfig != nil {
		tmrConfig.Update(*cfg.TimerConfig)
	}

	d := &Driver[T]{
		address:            address,
		authority:          authority.New(cfg.Authority),
		collector:          collector.New(),
		tmr:                timer.New(tmrConfig),
		tmrConfig:          tmrConfig,
		consensus:          consensus,
		crypto:             crypto,
		codec:              codec,
		wal:                w,
		height:             cfg.InitHeight,
		verifyLimiter:      rate.NewLimiter(rate.Limit(2000), 200),
		ingress:            make(chan taggedMsg[T], 256),
		verified:           make(chan types.MlmMsg[T], 256),
		higherObservations: make(map[types.Height]map[string]bool),
		seenQC:             make(map[qcKey]bool),
		contentByHash:      make(map[types.Hash]T),
	}
	d.core = smr.New(func(h types.Height, r types.Round) bool {
		return d.authority.GetProposer(h, r).Equal(address)
	})
	return d
}

// Ingress enqueues msg for the parallel verify stage. It never blocks the
// caller: if the raw ingress buffer is full, signalling sustained overload,
// it returns a ChannelErr-kind ConsensusError and drops msg.
func (d *Driver[T]) Ingress(msg types.MlmMsg[T]) error {
	select {
	case d.ingress <- taggedMsg[T]{id: uuid.New(), msg: msg}:
		return nil
	default:
		return types.NewError(types.ChannelErr, "ingress buffer full", nil)
	}
}

// Run recovers from the WAL (if a checkpoint exists), enters height
// cfg.InitHeight if no checkpoint was found, and then serves the main loop
// until ctx is cancelled or a Stop message arrives.
func (d *Driver[T]) Run(ctx context.Context) error {
	if err := d.recover(); err != nil {
		return fmt.Errorf("state: wal recovery: %w", err)
	}
	d.enterHeight(ctx, d.height, nil)

	for {
		select {
		case <-ctx.Done():
			d.tmr.Stop()
			return ctx.Err()

		case tagged := <-d.ingress:
			go d.verify(ctx, tagged)

		case msg := <-d.verified:
			if msg.Stop {
				d.tmr.Stop()
				return nil
			}
			d.handle(ctx, msg)

		case ev := <-d.tmr.Events():
			observability.Consensus().RecordTimerFired(ev.Step.String())
			d.applyOut(ctx, d.core.Process(smr.InEvent{Timeout: &ev}))
		}
	}
}

// recover seeds the SMR core from the last persisted checkpoint, if any.
func (d *Driver[T]) recover() error {
	raw, err := d.wal.Load(wal.CheckpointKey)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil // first-ever startup, nothing to recover
	}
	cp, err := wal.DecodeCheckpoint(raw)
	if err != nil {
		return err
	}
	var lock *smr.Lock
	if cp.HasLock {
		lock = &smr.Lock{Round: cp.LockRound, BlockHash: cp.LockBlockHash, QC: cp.LockQC}
	}
	d.core.Restore(cp.Height, cp.Round, cp.Step, lock)
	d.height = cp.Height
	d.seq = cp.Seq
	return nil
}

// checkpoint persists the core's current tuple.
func (d *Driver[T]) checkpoint() error {
	d.seq++
	cp := wal.Checkpoint{
		Height: d.core.Height(),
		Round:  d.core.Round(),
		Step:   d.core.Step(),
		Seq:    d.seq,
	}
	if lock := d.core.Lock(); lock != nil {
		cp.HasLock = true
		cp.LockRound = lock.Round
		cp.LockBlockHash = lock.BlockHash
		cp.LockQC = lock.QC
	}
	raw, err := wal.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	return d.wal.Save(wal.CheckpointKey, raw)
}
