// Package metrics provides Prometheus instrumentation for the cache,
// the download coordinator and the prefetch scheduler.
//
// Every constructor accepts a *prometheus.Registry and returns nil when
// the registry is nil. The instrumented packages treat a nil metrics
// value as disabled, so callers that run without the metrics endpoint
// pay no overhead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry creates a registry preloaded with the standard Go and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
