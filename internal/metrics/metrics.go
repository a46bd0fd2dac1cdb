// Package metrics exposes the Prometheus collectors shared by the
// processing pipeline and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesCompleted counts files reaching a terminal state, by outcome.
	FilesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnab_files_completed_total",
		Help: "Files that reached a terminal state, labeled by outcome.",
	}, []string{"outcome"})

	// ProcessingAttempts counts individual processing attempts by result.
	ProcessingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnab_processing_attempts_total",
		Help: "Processing attempts, labeled by result (processed, rejected, retried).",
	}, []string{"result"})

	// DeadLetters counts work items routed to the dead-letter sink.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnab_dead_letters_total",
		Help: "Work items moved to the dead-letter sink after exhausting retries.",
	})

	// ProcessingDuration observes end-to-end time per attempt.
	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cnab_processing_duration_seconds",
		Help:    "Wall time of one processing attempt.",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnab_http_requests_total",
		Help: "HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "status"})
)
