// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthorizeRequestsTotal counts authorization requests by outcome
	// ("ok" or an error kind such as "InvalidSignature").
	AuthorizeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stokado",
		Name:      "authorize_requests_total",
		Help:      "Total number of upload authorization requests by outcome",
	}, []string{"outcome"})

	GrantsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stokado",
		Name:      "grants_issued_total",
		Help:      "Total number of presigned upload grants issued",
	})

	KeyResolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stokado",
		Name:      "key_resolution_duration_seconds",
		Help:      "Time spent resolving encryption keys on-chain",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// InvalidationsTotal counts CDN invalidation calls by result ("ok", "error").
	InvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stokado",
		Subsystem: "flush",
		Name:      "invalidations_total",
		Help:      "Total number of CDN invalidation requests",
	}, []string{"result"})

	InvalidationPathsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stokado",
		Subsystem: "flush",
		Name:      "invalidation_paths_total",
		Help:      "Total number of paths sent for invalidation",
	})

	// QueueMessagesTotal counts consumed queue messages by result
	// ("processed", "failed", "delete_failed").
	QueueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stokado",
		Subsystem: "flush",
		Name:      "queue_messages_total",
		Help:      "Total number of storage notification messages consumed",
	}, []string{"result"})
)
