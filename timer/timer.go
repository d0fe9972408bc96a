package timer

import (
	"sync"
	"time"

	"mlm/smr"
	"mlm/types"
)

// Timer arms exactly one wall-clock timeout at a time, keyed to the
// (height, round, step) it was armed for. Each state-driver reaction to an
// SMR OutEvent re-arms it for the newly entered step; a timer left over
// from a step the core has already left is stopped and drained before the
// new one starts, so the driver never needs to de-duplicate stale fires
// itself beyond the (height, round, step) check smr.Process already does.
type Timer struct {
	config *Config

	mu      sync.Mutex
	active  *time.Timer
	current token

	fired chan smr.TimeoutFired
}

type token struct {
	height types.Height
	round  types.Round
	step   smr.Step
}

// New constructs a Timer using config for step durations. Fired events are
// delivered on Events() and must be drained by the caller; New buffers one
// slot so Arm never blocks on a slow consumer for a single in-flight fire.
func New(config *Config) *Timer {
	return &Timer{
		config: config,
		fired:  make(chan smr.TimeoutFired, 1),
	}
}

// Events returns the channel of fired timeouts. The state driver selects
// on it alongside its message and collaborator-reply channels.
func (t *Timer) Events() <-chan smr.TimeoutFired {
	return t.fired
}

// Arm cancels any in-flight timer and schedules a new one for
// (height, round, step), using the duration Config.Timeout computes for
// step. Brake uses the Brake ratio; Commit is not armed by the driver
// since it is resolved synchronously by the collaborator Commit call.
func (t *Timer) Arm(height types.Height, round types.Round, step smr.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.current = token{height, round, step}
	d := t.config.Timeout(step)
	tok := t.current
	t.active = time.AfterFunc(d, func() {
		select {
		case t.fired <- smr.TimeoutFired{Height: tok.height, Round: tok.round, Step: tok.step}:
		default:
			// A previous fire is still unconsumed; the driver is behind
			// and will re-check staleness on (height, round, step) once
			// it catches up, so dropping this one is safe.
		}
	})
}

// Stop cancels any in-flight timer without arming a new one, used on
// shutdown.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.active != nil {
		t.active.Stop()
		t.active = nil
	}
	select {
	case <-t.fired:
	default:
	}
}
