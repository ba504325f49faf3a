package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/moeview/moeview/pkg/cache"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	evictions     *prometheus.CounterVec
	evictedBytes  *prometheus.CounterVec
	demotions     prometheus.Counter
	demotedBytes  prometheus.Counter
	residentBytes *prometheus.GaugeVec
}

// NewCacheMetrics creates a Prometheus-backed cache.Metrics instance.
// Returns nil when reg is nil, which disables instrumentation.
func NewCacheMetrics(reg *prometheus.Registry) cache.Metrics {
	if reg == nil {
		return nil
	}

	return &cacheMetrics{
		hits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moeview_cache_hits_total",
				Help: "Total number of cache hits by tier",
			},
			[]string{"tier"},
		),
		misses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "moeview_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moeview_cache_evictions_total",
				Help: "Total number of cache evictions by tier",
			},
			[]string{"tier"},
		),
		evictedBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moeview_cache_evicted_bytes_total",
				Help: "Total bytes evicted from the cache by tier",
			},
			[]string{"tier"},
		),
		demotions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "moeview_cache_demotions_total",
				Help: "Total number of memory-to-disk demotions",
			},
		),
		demotedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "moeview_cache_demoted_bytes_total",
				Help: "Total bytes demoted from memory to disk",
			},
		),
		residentBytes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "moeview_cache_resident_bytes",
				Help: "Bytes currently resident per cache tier",
			},
			[]string{"tier"},
		),
	}
}

func (m *cacheMetrics) RecordHit(tier cache.Tier) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(tier.String()).Inc()
}

func (m *cacheMetrics) RecordMiss() {
	if m == nil {
		return
	}
	m.misses.Inc()
}

func (m *cacheMetrics) RecordEviction(tier cache.Tier, bytes int64) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(tier.String()).Inc()
	if bytes > 0 {
		m.evictedBytes.WithLabelValues(tier.String()).Add(float64(bytes))
	}
}

func (m *cacheMetrics) RecordDemotion(bytes int64) {
	if m == nil {
		return
	}
	m.demotions.Inc()
	if bytes > 0 {
		m.demotedBytes.Add(float64(bytes))
	}
}

func (m *cacheMetrics) RecordResidentBytes(tier cache.Tier, bytes int64) {
	if m == nil {
		return
	}
	m.residentBytes.WithLabelValues(tier.String()).Set(float64(bytes))
}
