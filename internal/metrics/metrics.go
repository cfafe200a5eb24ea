package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skyport",
		Name:      "provider_requests_total",
		Help:      "Total dispatch operations per provider and operation.",
	}, []string{"provider", "operation"})
	DegradedFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skyport",
		Name:      "degraded_fallbacks_total",
		Help:      "Total reads served from cache or synthetic data.",
	}, []string{"surface"})
	ReconcileSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skyport",
		Name:      "reconcile_seconds",
		Help:      "Duration of account reconcile passes.",
		Buckets:   prometheus.DefBuckets,
	})
	LifecycleTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skyport",
		Name:      "lifecycle_transitions_total",
		Help:      "Accepted lifecycle actions per action name.",
	}, []string{"action"})
	SyncJobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skyport",
		Name:      "sync_jobs_total",
		Help:      "Background account sync runs.",
	})
)

func init() {
	prometheus.MustRegister(
		ProviderRequestsTotal,
		DegradedFallbacksTotal,
		ReconcileSeconds,
		LifecycleTransitionsTotal,
		SyncJobsTotal,
	)
}
