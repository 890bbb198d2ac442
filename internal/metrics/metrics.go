// Package metrics holds the Prometheus collectors for lessonstate.
//
// Collectors are registered on the default registry at init, the way
// promauto is used elsewhere; the server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for outcome labels.
const (
	OutcomeOK            = "ok"
	OutcomePersistFailed = "persist_failed"
	OutcomeFailed        = "failed"
	OutcomeGuest         = "guest"
	OutcomeTimeout       = "timeout"
)

var (
	// Pushes counts debounced pushes by outcome (ok, persist_failed).
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "pushes_total",
		Help:      "Debounced exercise state pushes by outcome.",
	}, []string{"outcome"})

	// WritesCoalesced counts writes that replaced a pending push.
	WritesCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "writes_coalesced_total",
		Help:      "Writes that replaced a pending debounced push.",
	})

	// PushesAbandoned counts pending pushes dropped when a session closed.
	PushesAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "pushes_abandoned_total",
		Help:      "Pending pushes dropped when a session closed without flushing.",
	})

	// Hydrations counts lesson hydrations by outcome.
	Hydrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "hydrations_total",
		Help:      "Lesson hydrations by outcome.",
	}, []string{"outcome"})

	// RecordsSkipped counts stored records dropped because they were malformed.
	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "records_skipped_total",
		Help:      "Stored records skipped because their state or timestamps were malformed.",
	})

	// Upserts counts store upserts by whether they were applied.
	Upserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "store_upserts_total",
		Help:      "Durable upserts by whether the write was applied.",
	}, []string{"applied"})

	// HTTPRequests counts server requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lessonstate",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	// HTTPDuration observes server request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lessonstate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
