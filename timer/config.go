// Package timer turns the SMR core's step transitions into scheduled
// timeouts. It is the engine's only source of wall-clock events: every
// other package either reacts to them (smr.TimeoutFired) or is indifferent
// to time entirely.
package timer

import (
	"sync/atomic"
	"time"

	"mlm/smr"
	"mlm/types"
)

// ratio is a numerator/denominator pair applied to the height interval to
// derive a step's timeout, e.g. propose = interval * 24/10.
type ratio struct {
	num uint64
	den uint64
}

func (r ratio) apply(intervalMS uint64) time.Duration {
	if r.den == 0 {
		return time.Duration(intervalMS) * time.Millisecond
	}
	return time.Duration(intervalMS*r.num/r.den) * time.Millisecond
}

// Config holds the per-step timeout ratios against the height interval.
// The interval itself is hot-swappable (it changes every height, per the
// host's Status.IntervalMS) independently of the ratios (which only change
// on a governance-driven Status.TimerConfig update), so the two are stored
// and guarded separately.
type Config struct {
	intervalMS uint64 // atomic

	propose   ratio
	prevote   ratio
	precommit ratio
	brake     ratio
}

// defaultDurationConfig mirrors the reference ratios: propose is the
// longest phase (blocks must be built and gossiped), prevote and precommit
// shrink progressively, and brake is the shortest since it only waits for
// a rescue QC or choke quorum.
var defaultDurationConfig = types.DurationConfig{
	ProposeNum: 24, ProposeDen: 10,
	PrevoteNum: 10, PrevoteDen: 10,
	PrecommitNum: 5, PrecommitDen: 10,
	BrakeNum: 3, BrakeDen: 10,
}

// NewConfig constructs a timer Config for the given starting interval,
// using the reference default ratios until Update overrides them.
func NewConfig(intervalMS uint64) *Config {
	c := &Config{}
	atomic.StoreUint64(&c.intervalMS, intervalMS)
	c.Update(defaultDurationConfig)
	return c
}

// SetInterval changes the height interval in place; it takes effect on the
// next Timeout call, safe for concurrent use with Timeout/Update.
func (c *Config) SetInterval(intervalMS uint64) {
	atomic.StoreUint64(&c.intervalMS, intervalMS)
}

// Update replaces the per-step ratios wholesale, per a host-issued
// Status.TimerConfig.
func (c *Config) Update(d types.DurationConfig) {
	c.propose = ratio{d.ProposeNum, d.ProposeDen}
	c.prevote = ratio{d.PrevoteNum, d.PrevoteDen}
	c.precommit = ratio{d.PrecommitNum, d.PrecommitDen}
	c.brake = ratio{d.BrakeNum, d.BrakeDen}
}

// Timeout returns the configured timeout for step, computed against the
// current interval. Commit (and any other step without a ratio of its own)
// gets the Propose duration; no error is returned for it.
func (c *Config) Timeout(step smr.Step) time.Duration {
	interval := atomic.LoadUint64(&c.intervalMS)
	switch step {
	case smr.StepPropose:
		return c.propose.apply(interval)
	case smr.StepPrevote:
		return c.prevote.apply(interval)
	case smr.StepPrecommit:
		return c.precommit.apply(interval)
	case smr.StepBrake:
		return c.brake.apply(interval)
	default:
		return c.propose.apply(interval)
	}
}
