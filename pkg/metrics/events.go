package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/moeview/moeview/pkg/events"
)

const busOwner = "metrics"

// ObserveBus subscribes gauges and counters to engine events: the
// prefetch window size, items served and fetch failures. Returns a
// cleanup function that removes the subscriptions.
func ObserveBus(reg *prometheus.Registry, bus *events.Bus) func() {
	if reg == nil || bus == nil {
		return func() {}
	}

	window := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "moeview_preload_window_size",
			Help: "Current adaptive forward prefetch window size",
		},
	)
	served := promauto.With(reg).NewCounter(
		prometheus.CounterOpts{
			Name: "moeview_items_served_total",
			Help: "Total number of items served to the viewer",
		},
	)
	failed := promauto.With(reg).NewCounter(
		prometheus.CounterOpts{
			Name: "moeview_items_failed_total",
			Help: "Total number of items that failed to serve",
		},
	)

	bus.Subscribe(events.WindowChanged, busOwner, func(ev events.Event) {
		window.Set(float64(ev.WindowSize))
	})
	bus.Subscribe(events.ItemServed, busOwner, func(events.Event) {
		served.Inc()
	})
	bus.Subscribe(events.FetchFailed, busOwner, func(events.Event) {
		failed.Inc()
	})

	return func() { bus.UnsubscribeOwner(busOwner) }
}
