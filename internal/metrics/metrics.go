// Package metrics records ingestion run metrics in a private Prometheus
// registry and writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mfenderov/bam-events/internal/report"
)

// Metrics holds the run collectors.
type Metrics struct {
	registry *prometheus.Registry

	records        *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	sourceState    *prometheus.GaugeVec
	lastRun        prometheus.Gauge
	runDuration    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bam_events",
		Name:      "records_total",
		Help:      "Extracted records by source and outcome",
	}, []string{"source", "outcome"})
	m.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bam_events",
		Name:      "documents_fetched_total",
		Help:      "Documents fetched by source",
	}, []string{"source"})
	m.sourceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bam_events",
		Name:      "source_duration_seconds",
		Help:      "Time spent on one source sub-run",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"source"})
	m.sourceState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bam_events",
		Name:      "source_failed",
		Help:      "1 if the source's last sub-run failed, 0 otherwise",
	}, []string{"source"})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bam_events",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished",
	})
	m.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bam_events",
		Name:      "last_run_duration_seconds",
		Help:      "Duration of the last run",
	})

	m.registry.MustRegister(m.records, m.fetches, m.sourceDuration, m.sourceState, m.lastRun, m.runDuration)
	return m
}

// ObserveSource records the counts of one finished source.
func (m *Metrics) ObserveSource(r report.SourceReport) {
	m.fetches.WithLabelValues(r.Source).Add(float64(r.Fetched))
	for outcome, n := range map[string]int{
		"inserted":  r.Inserted,
		"updated":   r.Updated,
		"unchanged": r.Unchanged,
		"skipped":   r.Skipped,
		"failed":    r.Failed,
	} {
		m.records.WithLabelValues(r.Source, outcome).Add(float64(n))
	}
	m.sourceDuration.WithLabelValues(r.Source).Observe(r.Duration.Seconds())
	failed := 0.0
	if r.State == report.StateFailedSource {
		failed = 1
	}
	m.sourceState.WithLabelValues(r.Source).Set(failed)
}

// ObserveRun records run-level values.
func (m *Metrics) ObserveRun(s report.RunSummary) {
	m.lastRun.Set(float64(s.StartedAt.Add(s.Duration).Unix()))
	m.runDuration.Set(s.Duration.Seconds())
}

// WriteTextfile writes all metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
