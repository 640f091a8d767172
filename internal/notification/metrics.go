package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Notifications persisted, by type.",
	}, []string{"type"})
	mPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_pruned_total",
		Help: "Notifications deleted by the retention pruner.",
	})
	mRecipientFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_recipient_failures_total",
		Help: "Broadcast recipients whose notification could not be stored.",
	})
	mBroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broadcast_duration_seconds",
		Help:    "Time to store and publish one broadcast to all recipients.",
		Buckets: prometheus.DefBuckets,
	})
	mSideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_side_effect_failures_total",
		Help: "Failed email or audit side effects after a broadcast.",
	}, []string{"kind"})
)
