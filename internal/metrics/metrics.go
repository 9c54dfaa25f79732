// Package metrics holds the prometheus instruments for health sweeps and
// deployments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowdeck"

// Metrics contains all engine metrics
type Metrics struct {
	SweepsTotal       *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
	SweepEntries      *prometheus.GaugeVec
	StatusFetches     *prometheus.CounterVec
	DeployTransitions *prometheus.CounterVec
	DeployOutcomes    *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "total",
				Help:      "Total number of health sweeps by result",
			},
			[]string{"instance", "result"},
		),

		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "duration_seconds",
				Help:      "Health sweep duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"instance"},
		),

		SweepEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "entries",
				Help:      "Flow sides per health state in the last sweep",
			},
			[]string{"instance", "state"},
		),

		StatusFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "status_fetches_total",
				Help:      "Status fetches by outcome (ok, error)",
			},
			[]string{"instance", "outcome"},
		),

		DeployTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "transitions_total",
				Help:      "Deploy state machine transitions",
			},
			[]string{"from", "to"},
		),

		DeployOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "outcomes_total",
				Help:      "Finished deploy sessions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all metrics with the given registerer
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.SweepsTotal,
		m.SweepDuration,
		m.SweepEntries,
		m.StatusFetches,
		m.DeployTransitions,
		m.DeployOutcomes,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSweep records one finished sweep. A nil receiver is a no-op.
func (m *Metrics) ObserveSweep(instance, result string, took time.Duration, states map[string]int) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(instance, result).Inc()
	m.SweepDuration.WithLabelValues(instance).Observe(took.Seconds())
	for state, n := range states {
		m.SweepEntries.WithLabelValues(instance, state).Set(float64(n))
	}
}

// StatusFetch counts one status fetch.
func (m *Metrics) StatusFetch(instance string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StatusFetches.WithLabelValues(instance, outcome).Inc()
}

// DeployTransition counts one state machine transition.
func (m *Metrics) DeployTransition(from, to string) {
	if m == nil {
		return
	}
	m.DeployTransitions.WithLabelValues(from, to).Inc()
}

// DeployOutcome counts one finished deploy session.
func (m *Metrics) DeployOutcome(outcome string) {
	if m == nil {
		return
	}
	m.DeployOutcomes.WithLabelValues(outcome).Inc()
}
