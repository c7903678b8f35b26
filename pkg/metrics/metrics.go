// Package metrics provides Prometheus-based metrics recording for the
// orchestration loop and the tool-request lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records request lifecycle and conversation metrics.
type Recorder struct {
	requestsTotal       *prometheus.CounterVec
	hallucinationsTotal prometheus.Counter
	turnsTotal          *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	turnDuration        prometheus.Histogram
}

// NewRecorder creates a recorder registered against the given registerer.
// Tests pass their own registry; production uses prometheus.DefaultRegisterer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_requests_total",
				Help: "Total number of tool requests by tool and terminal status",
			},
			[]string{"tool", "status"},
		),
		hallucinationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hallucinations_detected_total",
				Help: "Total number of model responses discarded as fabricated tool output",
			},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_turns_total",
				Help: "Total number of processed turns by kind (user, reconciliation)",
			},
			[]string{"kind"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		turnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// ObserveRequest records a tool request reaching a terminal status.
func (r *Recorder) ObserveRequest(tool, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(tool, status).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveHallucination records a discarded fabricated response.
func (r *Recorder) ObserveHallucination() {
	if r == nil {
		return
	}
	r.hallucinationsTotal.Inc()
}

// ObserveTurn records a processed conversation turn.
func (r *Recorder) ObserveTurn(kind string, duration time.Duration) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(kind).Inc()
	r.turnDuration.Observe(duration.Seconds())
}
