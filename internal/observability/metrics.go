// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/pkg/types"
)

const namespace = "review_engine"

// Metrics holds the Prometheus collectors for the review engine. They live
// on a private registry, not the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// JobsStarted counts generation jobs that entered running, by stage.
	JobsStarted *prometheus.CounterVec

	// JobsFinished counts terminal jobs by stage and status.
	JobsFinished *prometheus.CounterVec

	// JobDuration observes running time of terminal jobs by stage.
	JobDuration *prometheus.HistogramVec

	// JobsRejected counts start requests refused as busy or by a
	// precondition.
	JobsRejected *prometheus.CounterVec

	// Extractions counts metadata extraction outcomes (ready, failed).
	Extractions *prometheus.CounterVec

	// ExtractionAttempts counts calls to the extraction backend.
	ExtractionAttempts prometheus.Counter

	// UploadsRejected counts refused uploads by reason.
	UploadsRejected *prometheus.CounterVec

	// PoolItems is the current number of items per status.
	PoolItems *prometheus.GaugeVec

	// ChunksStreamed counts generated fragments forwarded to subscribers.
	ChunksStreamed prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Generation jobs started",
		}, []string{"stage"}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Generation jobs that reached a terminal status",
		}, []string{"stage", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Running time of generation jobs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage"}),
		JobsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Job start requests rejected before a job was created",
		}, []string{"stage", "reason"}),
		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Metadata extractions by outcome",
		}, []string{"outcome"}),
		ExtractionAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_attempts_total",
			Help:      "Calls made to the metadata extraction backend",
		}),
		UploadsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Uploads refused by reason",
		}, []string{"reason"}),
		PoolItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_items",
			Help:      "Literature items in the pool by status",
		}, []string{"status"}),
		ChunksStreamed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_streamed_total",
			Help:      "Generated text fragments forwarded to subscribers",
		}),
	}
}

// RecordJobStarted records that a job entered running.
func (m *Metrics) RecordJobStarted(stage types.Stage) {
	m.JobsStarted.WithLabelValues(string(stage)).Inc()
}

// RecordJobFinished records a terminal job.
func (m *Metrics) RecordJobFinished(stage types.Stage, status types.JobStatus, durationSeconds float64) {
	m.JobsFinished.WithLabelValues(string(stage), string(status)).Inc()
	m.JobDuration.WithLabelValues(string(stage)).Observe(durationSeconds)
}

// RecordJobRejected records a refused start request.
func (m *Metrics) RecordJobRejected(stage types.Stage, reason string) {
	m.JobsRejected.WithLabelValues(string(stage), reason).Inc()
}

// RecordExtraction records one finished item extraction.
func (m *Metrics) RecordExtraction(outcome types.ItemStatus) {
	m.Extractions.WithLabelValues(string(outcome)).Inc()
}

// RecordExtractionAttempt records one backend call.
func (m *Metrics) RecordExtractionAttempt() {
	m.ExtractionAttempts.Inc()
}

// RecordUploadRejected records a refused upload.
func (m *Metrics) RecordUploadRejected(reason string) {
	m.UploadsRejected.WithLabelValues(reason).Inc()
}

// Publish implements events.Publisher so the metrics can sit on the event
// stream and follow pool and chunk activity.
func (m *Metrics) Publish(e events.Event) {
	switch e.Type {
	case events.PoolStatusChanged:
		if e.Pool == nil {
			return
		}
		inFlight := e.Pool.FileCount - e.Pool.ProcessedCount
		m.PoolItems.WithLabelValues("ready").Set(float64(e.Pool.ReadyCount))
		m.PoolItems.WithLabelValues("failed").Set(float64(e.Pool.FailedCount))
		m.PoolItems.WithLabelValues("processing").Set(float64(inFlight))
	case events.JobChunk:
		m.ChunksStreamed.Inc()
	}
}
