package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine-level metrics.
//
// Tracked:
//   - Stream events dispatched, by provider and event kind
//   - Generation requests, by provider and outcome
//   - Currently streaming requests (gauge)
//   - Side-channel command durations
type Metrics struct {
	// EventCounter counts normalized stream events applied by the dispatcher.
	// Labels: provider, kind (content.delta|reasoning.delta|status|tool|permission|models|done|error)
	EventCounter *prometheus.CounterVec

	// RequestCounter counts generation requests by terminal outcome.
	// Labels: provider, outcome (completed|cancelled|errored)
	RequestCounter *prometheus.CounterVec

	// ActiveRequests tracks requests currently in Streaming state.
	// Labels: provider
	ActiveRequests *prometheus.GaugeVec

	// CommandDuration measures side-channel `oc` command execution time.
	// Buckets: 0.01s .. 60s
	CommandDuration prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics with reg. Passing nil
// registers with the Prometheus default registry; call once at startup in
// that case.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		EventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocagent_stream_events_total",
				Help: "Total normalized stream events applied by provider and kind",
			},
			[]string{"provider", "kind"},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocagent_requests_total",
				Help: "Total generation requests by provider and terminal outcome",
			},
			[]string{"provider", "outcome"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ocagent_active_requests",
				Help: "Requests currently streaming, by provider",
			},
			[]string{"provider"},
		),
		CommandDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ocagent_command_duration_seconds",
				Help:    "Duration of side-channel oc command executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
	}
}
