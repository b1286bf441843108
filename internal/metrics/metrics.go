// Package metrics exposes engine counters in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskstream"

type Metrics struct {
	registry      *prometheus.Registry
	frames        *prometheus.CounterVec
	dropped       prometheus.Counter
	registered    prometheus.Counter
	autoRejected  prometheus.Counter
	confirmations *prometheus.CounterVec
	streams       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Stream frames applied to a transcript, by event.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_dropped_total",
			Help:      "Stream data lines dropped because they were not valid JSON.",
		}),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_registered_total",
			Help:      "Pending actions added to the ledger.",
		}),
		autoRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_auto_rejected_total",
			Help:      "Pending actions rejected after their dialogue was left too long.",
		}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_decisions_total",
			Help:      "Confirm and cancel calls, by operation and outcome.",
		}, []string{"op", "outcome"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Completed assistant streams, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.frames, m.dropped, m.registered, m.autoRejected, m.confirmations, m.streams)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameApplied(event string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(event).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) ActionRegistered() {
	if m == nil {
		return
	}
	m.registered.Inc()
}

func (m *Metrics) ActionAutoRejected() {
	if m == nil {
		return
	}
	m.autoRejected.Inc()
}

// Decision records a confirm or cancel call. outcome is one of accepted,
// rejected, forced_rejected or error.
func (m *Metrics) Decision(op, outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(op, outcome).Inc()
}

// StreamFinished records how a stream ended: completed, cancelled or failed.
func (m *Metrics) StreamFinished(outcome string) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(outcome).Inc()
}
