// Package observability holds the engine's Prometheus metrics registry,
// generalized from the teacher's per-service moduleMetrics/consensusMetrics
// pattern into a single registry covering the SMR core, vote collector, and
// parallel verification gate.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type consensusMetrics struct {
	height         prometheus.Gauge
	round          prometheus.Gauge
	step           *prometheus.GaugeVec
	blockInterval  prometheus.Gauge
	qcAssembled    *prometheus.CounterVec
	verifyDropped  *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	timerFired     *prometheus.CounterVec
	brakeEntered   prometheus.Counter
}

var (
	consensusMetricsOnce sync.Once
	consensusRegistry    *consensusMetrics
)

// Consensus returns the lazily-initialized metrics registry for the SMR
// core, vote collector, and verification gate.
func Consensus() *consensusMetrics {
	consensusMetricsOnce.Do(func() {
		consensusRegistry = &consensusMetrics{
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "height",
				Help:      "Current SMR height.",
			}),
			round: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "round",
				Help:      "Current round within the SMR height.",
			}),
			step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "step",
				Help:      "1 if the core is currently in the named step, else 0.",
			}, []string{"step"}),
			blockInterval: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "block_interval_seconds",
				Help:      "Interval in seconds between the timestamps of consecutive committed heights.",
			}),
			qcAssembled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "qc_assembled_total",
				Help:      "Count of quorum certificates assembled by vote type.",
			}, []string{"vote_type"}),
			verifyDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "verify_dropped_total",
				Help:      "Count of inbound messages dropped by parallel verification, by reason.",
			}, []string{"reason"}),
			verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "verify_duration_seconds",
				Help:      "Latency distribution of parallel message verification.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			timerFired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "timer_fired_total",
				Help:      "Count of step timeouts that fired, by step.",
			}, []string{"step"}),
			brakeEntered: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mlm",
				Subsystem: "consensus",
				Name:      "brake_entered_total",
				Help:      "Count of times the core entered the Brake step.",
			}),
		}
		prometheus.MustRegister(
			consensusRegistry.height,
			consensusRegistry.round,
			consensusRegistry.step,
			consensusRegistry.blockInterval,
			consensusRegistry.qcAssembled,
			consensusRegistry.verifyDropped,
			consensusRegistry.verifyDuration,
			consensusRegistry.timerFired,
			consensusRegistry.brakeEntered,
		)
	})
	return consensusRegistry
}

// SetHeightRound records the core's current position.
func (m *consensusMetrics) SetHeightRound(height, round uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.round.Set(float64(round))
}

// SetStep marks the named step active and every other known step inactive.
func (m *consensusMetrics) SetStep(current string, known []string) {
	if m == nil {
		return
	}
	for _, s := range known {
		if s == current {
			m.step.WithLabelValues(s).Set(1)
		} else {
			m.step.WithLabelValues(s).Set(0)
		}
	}
}

// RecordBlockInterval updates the block interval gauge with the supplied duration.
func (m *consensusMetrics) RecordBlockInterval(interval time.Duration) {
	if m == nil {
		return
	}
	seconds := interval.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.blockInterval.Set(seconds)
}

// RecordQC increments the QC-assembled counter for the given vote type.
func (m *consensusMetrics) RecordQC(voteType string) {
	if m == nil {
		return
	}
	m.qcAssembled.WithLabelValues(voteType).Inc()
}

// RecordVerifyDropped increments the verify-dropped counter for the given reason.
func (m *consensusMetrics) RecordVerifyDropped(reason string) {
	if m == nil {
		return
	}
	m.verifyDropped.WithLabelValues(reason).Inc()
}

// ObserveVerifyDuration records how long verifying one message of kind took.
func (m *consensusMetrics) ObserveVerifyDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifyDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordTimerFired increments the timer-fired counter for the given step.
func (m *consensusMetrics) RecordTimerFired(step string) {
	if m == nil {
		return
	}
	m.timerFired.WithLabelValues(step).Inc()
}

// RecordBrakeEntered increments the Brake-entry counter.
func (m *consensusMetrics) RecordBrakeEntered() {
	if m == nil {
		return
	}
	m.brakeEntered.Inc()
}
