// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed counts worker outcomes, labelled success|failure|dlq.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_jobs_processed_total",
		Help: "Worker job outcomes by result.",
	}, []string{"outcome"})

	// IngestRequests counts ingest attempts, labelled accepted|replayed|rejected.
	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_ingest_requests_total",
		Help: "Document ingest attempts by result.",
	}, []string{"result"})

	// SweepResults counts sweeper actions, labelled requeued|moved_to_dlq|skipped.
	SweepResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_sweep_results_total",
		Help: "Stale-job sweeper actions by kind.",
	}, []string{"action"})

	// QueueDepth tracks list lengths, labelled main|processing|dlq.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cortex_queue_depth",
		Help: "Broker list depths.",
	}, []string{"queue"})

	// ProcessingDuration observes end-to-end processing time per job.
	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cortex_processing_duration_seconds",
		Help:    "Duration of document processing, claim to finalize.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
