// Package metrics exposes two telemetry gauges: requests-per-second and
// average response time, each computed over the most recent N completed
// (non-expired) requests.
//
// The two gauges are backed directly by the rolling counters via
// prometheus.NewGaugeFunc, so there is no separate bookkeeping to keep in
// sync with the scheduler's own state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelhq/admitgate/internal/counters"
)

// Source supplies the two rolling counters' current values.
type Source struct {
	Rate    *counters.RollingRate
	Average *counters.RollingAverage
}

// Collector registers the two admission-scheduler gauges against a private
// Prometheus registry.
type Collector struct {
	registry *prometheus.Registry
}

// NewCollector creates a Collector and registers its gauges. src's two
// counters are read live on every scrape — there is no polling loop.
func NewCollector(src Source) *Collector {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "admitgate_requests_per_second",
			Help: "Completed-request rate over the most recent sample window.",
		},
		src.Rate.Value,
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "admitgate_response_time_ms_avg",
			Help: "Mean service time in milliseconds over the most recent sample window.",
		},
		src.Average.Value,
	))

	return &Collector{registry: reg}
}

// Registry returns the Prometheus registry backing this collector, for
// mounting behind promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
