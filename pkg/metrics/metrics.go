// Package metrics defines the Prometheus metric collectors for the ingestion
// worker and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the worker.
type Metrics struct {
	JobsTotal             *prometheus.CounterVec
	JobDuration           prometheus.Histogram
	StageDuration         *prometheus.HistogramVec
	ChunksTranscribed     prometheus.Counter
	TranscriptionRetries  prometheus.Counter
	LockContentionTotal   prometheus.Counter
	DeadLettersTotal      prometheus.Counter
	MeetingDurationMillis prometheus.Histogram
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total ingestion jobs by outcome (success, skipped, failed, timeout).",
			},
			[]string{"outcome"},
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_job_duration_seconds",
				Help:    "Wall-clock duration of full pipeline runs in seconds.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 840},
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Duration of individual pipeline stages in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		ChunksTranscribed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_chunks_transcribed_total",
				Help: "Total audio chunks successfully transcribed.",
			},
		),
		TranscriptionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_transcription_retries_total",
				Help: "Total transcription attempts that were retried after failure.",
			},
		),
		LockContentionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_lock_contention_total",
				Help: "Jobs skipped because another worker held the file lease.",
			},
		),
		DeadLettersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_dead_letters_total",
				Help: "Messages routed to the dead-letter topic after exhausting receives.",
			},
		),
		MeetingDurationMillis: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_meeting_duration_milliseconds",
				Help:    "Duration of processed recordings in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(60_000, 2, 8),
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.StageDuration,
		m.ChunksTranscribed,
		m.TranscriptionRetries,
		m.LockContentionTotal,
		m.DeadLettersTotal,
		m.MeetingDurationMillis,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
