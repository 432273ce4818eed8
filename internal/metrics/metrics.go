// Package metrics exposes production counters for the synthesis pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. Create one per process with New and share
// it; all collectors are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	// JobsTotal counts synthesis jobs by terminal status.
	JobsTotal *prometheus.CounterVec
	// ProviderRequests counts synthesis calls by provider and outcome.
	ProviderRequests *prometheus.CounterVec
	// SynthesisDuration observes wall time of the provider phase per chapter.
	SynthesisDuration prometheus.Histogram
	// MasteringDuration observes wall time of the mastering chain per chapter.
	MasteringDuration prometheus.Histogram
	// ChaptersInFlight gauges chapters currently being processed.
	ChaptersInFlight prometheus.Gauge
	// RecoveredJobs counts jobs the boot-time reconciliation touched.
	RecoveredJobs *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobook_jobs_total",
			Help: "Synthesis jobs by terminal status.",
		}, []string{"status"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobook_provider_requests_total",
			Help: "Provider synthesis requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		SynthesisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobook_synthesis_duration_seconds",
			Help:    "Provider phase duration per chapter.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		MasteringDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiobook_mastering_duration_seconds",
			Help:    "Mastering chain duration per chapter.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ChaptersInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiobook_chapters_in_flight",
			Help: "Chapters currently being synthesized or mastered.",
		}),
		RecoveredJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiobook_recovered_jobs_total",
			Help: "Jobs reconciled at startup by action taken.",
		}, []string{"action"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
