// Package mlm is the engine's top-level entry point: a one-shot Mlm[T]
// instance that wires the State Driver and exposes a cloneable handler for
// feeding it inbound messages, grounded on the reference engine's
// Pile<T> = RwLock<Option<T>> one-shot construction (original_source's
// mlm.rs), expressed with a sync.Once guard rather than a consumed-Option
// type, since Go has no affine-type equivalent to take(). Unlike the
// reference, the run-time tunables (init height, interval, authority list,
// timer ratios) are supplied at New rather than at Run: Go constructors
// build a fully usable value up front, so GetHandler can hand out a working
// Driver reference before Run is ever called without risking a stale
// configuration being silently locked in.
package mlm

import (
	"context"
	"sync"

	"mlm/state"
	"mlm/types"
)

// Config bundles an Mlm instance's run-time tunables.
type Config struct {
	InitHeight  types.Height
	IntervalMS  uint64
	Authority   []types.Node
	TimerConfig *types.DurationConfig
}

// Mlm is a single BFT consensus instance for host payload type T. Construct
// one with New, obtain a handler with GetHandler, then call Run exactly
// once — a second call returns ErrAlreadyRunning.
type Mlm[T any] struct {
	driver  *state.Driver[T]
	runOnce sync.Once
}

// New constructs an Mlm instance, wiring its State Driver. The returned
// value has not started consuming events — call Run (after optionally
// calling GetHandler) to do so.
func New[T any](address types.Address, consensus types.Consensus[T], crypto types.Crypto, codec types.Codec[T], w types.Wal, cfg Config) *Mlm[T] {
	driver := state.New[T](address, consensus, crypto, codec, w, state.Config{
		InitHeight: cfg.InitHeight, IntervalMS: cfg.IntervalMS, Authority: cfg.Authority, TimerConfig: cfg.TimerConfig,
	})
	return &Mlm[T]{driver: driver}
}

// GetHandler returns a cloneable handle for sending messages into this
// instance. It may be called before or after Run starts; messages sent
// before Run starts queue in the Driver's ingress buffer.
func (m *Mlm[T]) GetHandler() MlmHandler[T] {
	return MlmHandler[T]{driver: m.driver}
}

// Run starts the State Driver's main loop, blocking until ctx is cancelled
// or a Stop message is processed. Calling Run a second time on the same
// instance returns ErrAlreadyRunning without starting anything.
func (m *Mlm[T]) Run(ctx context.Context) error {
	var runErr error
	ran := false
	m.runOnce.Do(func() {
		ran = true
	})
	if !ran {
		return types.NewError(types.ChannelErr, "mlm: already running", ErrAlreadyRunning)
	}
	runErr = m.driver.Run(ctx)
	return runErr
}

// ErrAlreadyRunning is the sentinel wrapped by Run's error on a second call.
var ErrAlreadyRunning = &alreadyRunningError{}

type alreadyRunningError struct{}

func (*alreadyRunningError) Error() string { return "mlm: instance already running" }

// MlmHandler is a cheaply cloneable send endpoint into one Mlm instance.
type MlmHandler[T any] struct {
	driver *state.Driver[T]
}

// SendMsg enqueues msg for the instance's verify/handle pipeline. It
// returns a ChannelErr-kind ConsensusError if the ingress buffer is full.
func (h MlmHandler[T]) SendMsg(ctx context.Context, msg types.MlmMsg[T]) error {
	return h.driver.Ingress(msg)
}
