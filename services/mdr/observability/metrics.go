// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the fault pipeline.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records pipeline events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Metrics interface {
	FaultRaised(core string)
	FaultSuppressed(reason string)
	FaultProcessed(core, outcome string, elapsed time.Duration)
	QueueDepth(n int)
	AckTimeout()
	HandoffFailure(reason string)
	DomainReset(core string)
}

// Suppression reasons.
const (
	ReasonDuplicate    = "duplicate"
	ReasonOverflow     = "overflow"
	ReasonUnregistered = "unregistered"
)

// Processing outcomes.
const (
	OutcomeHandled   = "handled"
	OutcomeRestarted = "restarted"
)

// =============================================================================
// NoOpMetrics
// =============================================================================

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

var _ Metrics = NoOpMetrics{}

func (NoOpMetrics) FaultRaised(string)                           {}
func (NoOpMetrics) FaultSuppressed(string)                       {}
func (NoOpMetrics) FaultProcessed(string, string, time.Duration) {}
func (NoOpMetrics) QueueDepth(int)                               {}
func (NoOpMetrics) AckTimeout()                                  {}
func (NoOpMetrics) HandoffFailure(string)                        {}
func (NoOpMetrics) DomainReset(string)                           {}

// =============================================================================
// PrometheusMetrics
// =============================================================================

const (
	namespace = "aleutian"
	subsystem = "mdr"
)

// PrometheusMetrics exports pipeline metrics to Prometheus.
type PrometheusMetrics struct {
	raised      *prometheus.CounterVec
	suppressed  *prometheus.CounterVec
	processed   *prometheus.CounterVec
	duration    prometheus.Histogram
	queueDepth  prometheus.Gauge
	ackTimeouts prometheus.Counter
	handoffFail *prometheus.CounterVec
	resets      *prometheus.CounterVec
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them on reg.
//
// # Description
//
// Registration is idempotent: when a collector with the same descriptor is
// already registered on reg, the existing one is reused. This lets tests
// and restarts construct metrics more than once against one registry.
//
// # Inputs
//
//   - reg: Target registry. Nil uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		raised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "faults_raised_total",
			Help:      "Faults accepted into the queue by origin core",
		}, []string{"core"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "faults_suppressed_total",
			Help:      "Raised faults that were not queued",
		}, []string{"reason"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "faults_processed_total",
			Help:      "Faults that completed the pipeline",
		}, []string{"core", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from selection to reset decision",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Pending faults awaiting the worker",
		}),
		ackTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ack_timeouts_total",
			Help:      "Acknowledgement waits that hit their deadline",
		}),
		handoffFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handoff_failures_total",
			Help:      "Record pushes to the log daemon that failed",
		}, []string{"reason"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "domain_resets_total",
			Help:      "Reset callbacks dispatched per core",
		}, []string{"core"}),
	}

	var err error
	if m.raised, err = register(reg, m.raised); err != nil {
		return nil, err
	}
	if m.suppressed, err = register(reg, m.suppressed); err != nil {
		return nil, err
	}
	if m.processed, err = register(reg, m.processed); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.queueDepth, err = register(reg, m.queueDepth); err != nil {
		return nil, err
	}
	if m.ackTimeouts, err = register(reg, m.ackTimeouts); err != nil {
		return nil, err
	}
	if m.handoffFail, err = register(reg, m.handoffFail); err != nil {
		return nil, err
	}
	if m.resets, err = register(reg, m.resets); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *PrometheusMetrics) FaultRaised(core string) {
	m.raised.WithLabelValues(core).Inc()
}

func (m *PrometheusMetrics) FaultSuppressed(reason string) {
	m.suppressed.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) FaultProcessed(core, outcome string, elapsed time.Duration) {
	m.processed.WithLabelValues(core, outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *PrometheusMetrics) AckTimeout() {
	m.ackTimeouts.Inc()
}

func (m *PrometheusMetrics) HandoffFailure(reason string) {
	m.handoffFail.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) DomainReset(core string) {
	m.resets.WithLabelValues(core).Inc()
}
