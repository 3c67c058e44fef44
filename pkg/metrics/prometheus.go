// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for external lookups.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeCached   = "cached"
)

// Manager owns every metric emitted by a pipeline run.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	rowsIngested    prometheus.Counter
	geocodeRequests *prometheus.CounterVec
	geocodeLatency  prometheus.Histogram
	postalFilled    prometheus.Counter
	zipLookups      *prometheus.CounterVec
	stageDuration   *prometheus.GaugeVec
	exportBytes     *prometheus.GaugeVec
}

var defaultManager = NewManager() //nolint:gochecknoglobals // process-wide metrics

// Default returns the process-wide manager.
func Default() *Manager { return defaultManager }

// NewManager creates a manager on a private registry unless one is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "geoenrich",
		subsystem:        "pipeline",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.rowsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_ingested_total",
		Help:      "Rows read from delimited input files",
	})

	m.geocodeRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "geocode_requests_total",
		Help:      "Reverse-geocoding requests by outcome",
	}, []string{"outcome"})

	m.geocodeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "geocode_latency_seconds",
		Help:      "Latency of reverse-geocoding requests",
		Buckets:   m.histogramBuckets,
	})

	m.postalFilled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "postal_codes_filled_total",
		Help:      "Missing postal codes filled from coordinates",
	})

	m.zipLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "zip_lookups_total",
		Help:      "Demographic database lookups by outcome",
	}, []string{"outcome"})

	m.stageDuration = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of the last execution of each stage",
	}, []string{"stage"})

	m.exportBytes = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "file_size_bytes",
		Help:      "Size of input and output files by format",
	}, []string{"format"})
}

// RecordRowsIngested adds n ingested rows.
func (m *Manager) RecordRowsIngested(n int) { m.rowsIngested.Add(float64(n)) }

// RecordGeocode records one reverse-geocoding request.
func (m *Manager) RecordGeocode(outcome string, latency time.Duration) {
	m.geocodeRequests.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCached {
		m.geocodeLatency.Observe(latency.Seconds())
	}
}

// RecordPostalFilled counts one filled postal code.
func (m *Manager) RecordPostalFilled() { m.postalFilled.Inc() }

// RecordZipLookup records one demographic lookup.
func (m *Manager) RecordZipLookup(outcome string) { m.zipLookups.WithLabelValues(outcome).Inc() }

// ObserveStage sets the duration of a finished stage.
func (m *Manager) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// SetFileSize records the size of a file of the given format.
func (m *Manager) SetFileSize(format string, bytes int64) {
	m.exportBytes.WithLabelValues(format).Set(float64(bytes))
}

// Registry returns the registry metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current metrics in the Prometheus text format,
// for pickup by a node exporter textfile collector.
func (m *Manager) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", path)
	}
	return nil
}
