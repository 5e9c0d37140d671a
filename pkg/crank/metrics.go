package crank

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the crank's Prometheus series
type Metrics struct {
	Rounds        prometheus.Counter
	RoundDuration prometheus.Histogram
	Watched       prometheus.Gauge
	Verdicts      *prometheus.CounterVec // by status
	AccountErrors *prometheus.CounterVec // by error kind
	Intents       *prometheus.CounterVec // by intent kind and result
}

// NewMetrics creates the series unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crank_rounds_total",
			Help: "Completed crank rounds.",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crank_round_duration_seconds",
			Help:    "Wall time of one crank round.",
			Buckets: prometheus.DefBuckets,
		}),
		Watched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crank_watched_accounts",
			Help: "Margin accounts swept each round.",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_verdicts_total",
			Help: "Account evaluations by resulting status.",
		}, []string{"status"}),
		AccountErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_account_errors_total",
			Help: "Accounts that could not be evaluated or acted on.",
		}, []string{"kind"}),
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_intents_total",
			Help: "Intents handed to the submitter.",
		}, []string{"kind", "result"}),
	}
}

// Register adds every series to registry; it panics on duplicates
func (m *Metrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(m.Rounds, m.RoundDuration, m.Watched, m.Verdicts, m.AccountErrors, m.Intents)
}
