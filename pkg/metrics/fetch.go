package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/moeview/moeview/pkg/fetch"
)

// fetchMetrics is the Prometheus implementation of fetch.Metrics.
type fetchMetrics struct {
	queueDepth       *prometheus.GaugeVec
	transferBytes    prometheus.Histogram
	transferDuration prometheus.Histogram
	retries          prometheus.Counter
	failures         prometheus.Counter
}

// NewFetchMetrics creates a Prometheus-backed fetch.Metrics instance.
// Returns nil when reg is nil, which disables instrumentation.
func NewFetchMetrics(reg *prometheus.Registry) fetch.Metrics {
	if reg == nil {
		return nil
	}

	return &fetchMetrics{
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "moeview_fetch_queue_depth",
				Help: "Pending downloads per priority class",
			},
			[]string{"priority"},
		),
		transferBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "moeview_fetch_transfer_bytes",
				Help: "Distribution of completed transfer sizes",
				Buckets: []float64{
					65536,    // 64KB - thumbnails
					262144,   // 256KB
					1048576,  // 1MB - typical sample images
					4194304,  // 4MB
					16777216, // 16MB - full-size images
					67108864, // 64MB - short videos
				},
			},
		),
		transferDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "moeview_fetch_transfer_duration_seconds",
				Help: "Duration of completed transfers in seconds",
				Buckets: []float64{
					0.1,
					0.25,
					0.5,
					1,
					2.5,
					5,
					10,
					30,
					60,
				},
			},
		),
		retries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "moeview_fetch_retries_total",
				Help: "Total number of transfer retry attempts",
			},
		),
		failures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "moeview_fetch_failures_total",
				Help: "Total number of transfers that exhausted retries",
			},
		),
	}
}

func (m *fetchMetrics) RecordQueueDepth(priority fetch.Priority, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(priority.String()).Set(float64(depth))
}

func (m *fetchMetrics) RecordTransfer(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	if bytes > 0 {
		m.transferBytes.Observe(float64(bytes))
	}
	m.transferDuration.Observe(duration.Seconds())
}

func (m *fetchMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *fetchMetrics) RecordFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
