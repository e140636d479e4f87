package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the simulation and
// causality engines.
type Metrics struct {
	RunsTotal          prometheus.Counter
	RunsFailed         prometheus.Counter
	ScenariosEvaluated prometheus.Counter
	BatchesDropped     prometheus.Counter
	UniformFallbacks   prometheus.Counter
	RunDuration        prometheus.Histogram

	EventsRecorded  *prometheus.CounterVec
	CausalLinks     prometheus.Counter
	ChainsTraced    prometheus.Counter
	Counterfactuals prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// New creates and registers all metrics with the default registerer.
func New() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_runs_total",
			Help: "Total number of scenario analysis runs started",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_runs_failed",
			Help: "Number of runs that returned an error",
		}),
		ScenariosEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_scenarios_evaluated",
			Help: "Number of individual scenarios evaluated across all runs",
		}),
		BatchesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_batches_dropped",
			Help: "Number of evaluation batches dropped on timeout or failure",
		}),
		UniformFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_reweight_uniform_fallbacks",
			Help: "Number of runs whose posterior mass collapsed to the uniform fallback",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "prospect_run_duration_seconds",
			Help:    "Wall-clock duration of scenario analysis runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		EventsRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospect_events_recorded",
				Help: "Number of temporal events recorded, by type",
			},
			[]string{"type"},
		),
		CausalLinks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_causal_links",
			Help: "Number of directed causal links detected",
		}),
		ChainsTraced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_chains_traced",
			Help: "Number of causal chain traces performed",
		}),
		Counterfactuals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_counterfactuals",
			Help: "Number of counterfactual analyses performed",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_cache_hits",
			Help: "Result cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospect_cache_misses",
			Help: "Result cache misses",
		}),
	}
}
