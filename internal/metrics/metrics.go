package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for the queue and tracker
type Metrics struct {
	OpportunitiesCreated  prometheus.Counter
	DedupHits             prometheus.Counter
	Decisions             *prometheus.CounterVec // label: decision (approved/rejected)
	ActionsExecuted       prometheus.Counter
	OpportunitiesPromoted prometheus.Counter
	OpportunitiesExpired  prometheus.Counter

	MeasurementsStarted   prometheus.Counter
	MeasurementsFinalized *prometheus.CounterVec // label: status (complete/inconclusive)
	SweepDuration         prometheus.Histogram
}

// New creates the metric bundle registered on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpportunitiesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "revlift_opportunities_created_total",
			Help: "Total number of opportunities created",
		}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "revlift_opportunities_dedup_hits_total",
			Help: "Total create calls resolved to an existing pending opportunity",
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revlift_opportunity_decisions_total",
			Help: "Total human approval decisions by outcome",
		}, []string{"decision"}),
		ActionsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "revlift_actions_executed_total",
			Help: "Total actions reported executed",
		}),
		OpportunitiesPromoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "revlift_opportunities_implemented_total",
			Help: "Total opportunities promoted to implemented",
		}),
		OpportunitiesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "revlift_opportunities_expired_total",
			Help: "Total opportunities expired by the sweep",
		}),
		MeasurementsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "revlift_measurements_started_total",
			Help: "Total impact measurements started",
		}),
		MeasurementsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revlift_measurements_finalized_total",
			Help: "Total impact measurements finalized by outcome",
		}, []string{"status"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "revlift_sweep_duration_seconds",
			Help:    "Duration of measurement sweep runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
