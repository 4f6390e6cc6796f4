package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Reviews accepted by the pipeline, by source channel
	ReviewsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewiq_reviews_submitted_total",
		Help: "Reviews accepted by the pipeline",
	}, []string{"source"})

	// Classifier outcomes: success or a failure reason
	ClassifierOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewiq_classifier_outcomes_total",
		Help: "Classifier results by outcome",
	}, []string{"outcome"})

	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reviewiq_classifier_latency_seconds",
		Help:    "Wall-clock time spent waiting on the classifier",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 5, 6},
	})

	Escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reviewiq_escalations_total",
		Help: "Reviews finalized as escalated",
	})

	FinalizeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reviewiq_finalize_failures_total",
		Help: "Reviews whose finalization write failed and remain pending",
	})

	SideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewiq_side_effect_failures_total",
		Help: "Best-effort side effects that failed or were dropped",
	}, []string{"kind"})

	AnalyticsCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewiq_analytics_cache_total",
		Help: "Metric cache lookups by query and result",
	}, []string{"query", "result"})

	SyncReviews = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reviewiq_sync_reviews_total",
		Help: "Externally sourced reviews by sync outcome",
	}, []string{"result"})

	SweepFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reviewiq_sweep_finalized_total",
		Help: "Stuck pending reviews finalized by the sweep",
	})

	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reviewiq_sse_clients",
		Help: "Connected real-time subscribers",
	})
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ReviewsSubmitted,
			ClassifierOutcomes,
			ClassifierLatency,
			Escalations,
			FinalizeFailures,
			SideEffectFailures,
			AnalyticsCache,
			SyncReviews,
			SweepFinalized,
			SSEClients,
		)
	})
}
