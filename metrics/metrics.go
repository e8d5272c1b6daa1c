package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smartbch_indexer"

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "total",
		Help:      "Executed jobs by name and result status.",
	}, []string{"job", "status"})
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Duration of job executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "enqueued_total",
		Help:      "Jobs handed to the queue.",
	}, []string{"job"})

	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "claims",
		Name:      "total",
		Help:      "Claim attempts by namespace and outcome.",
	}, []string{"namespace", "outcome"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "total",
		Help:      "Webhook deliveries by outcome.",
	}, []string{"outcome"})
	NotificationsExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "exhausted_total",
		Help:      "Subscriptions left unsent after the last delivery attempt.",
	})

	BlocksPreloadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "blocks",
		Name:      "preloaded_total",
		Help:      "Block rows created by the preloader.",
	})
	ChainTip = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "blocks",
		Name:      "chain_tip",
		Help:      "Last confirmed chain block observed.",
	})
)

func ObserveJob(job, status string, started time.Time) {
	JobsTotal.WithLabelValues(job, status).Inc()
	jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
