package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records moderation-queue metrics.
type Collector interface {
	SetPendingItems(n int)
	SetConnectedModerators(n int)
	SetConnectedViewers(n int)
	RecordSubmission()
	RecordResolution(approved bool)
	RecordDroppedSend()
}

// NoOpCollector is used when metrics are disabled.
type NoOpCollector struct{}

func (NoOpCollector) SetPendingItems(n int)         {}
func (NoOpCollector) SetConnectedModerators(n int)  {}
func (NoOpCollector) SetConnectedViewers(n int)     {}
func (NoOpCollector) RecordSubmission()             {}
func (NoOpCollector) RecordResolution(approved bool) {}
func (NoOpCollector) RecordDroppedSend()            {}

// PrometheusCollector implements Collector with Prometheus instruments
// registered on the default registry and served from /metrics.
type PrometheusCollector struct {
	pendingItems        prometheus.Gauge
	connectedModerators prometheus.Gauge
	connectedViewers    prometheus.Gauge
	submissions         prometheus.Counter
	resolutions         *prometheus.CounterVec
	droppedSends        prometheus.Counter
}

// NewPrometheusCollector registers and returns the collector.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		pendingItems: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "modqueue_pending_items",
			Help: "Number of items awaiting moderation.",
		}),
		connectedModerators: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "modqueue_connected_moderators",
			Help: "Number of connected moderator sessions.",
		}),
		connectedViewers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "modqueue_connected_viewers",
			Help: "Number of connected viewer sessions.",
		}),
		submissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modqueue_submissions_total",
			Help: "Total submissions accepted into the pending pool.",
		}),
		resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "modqueue_resolutions_total",
			Help: "Total resolved items by outcome.",
		}, []string{"outcome"}),
		droppedSends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modqueue_dropped_sends_total",
			Help: "Pushes dropped because the session channel was closed or full.",
		}),
	}
}

func (c *PrometheusCollector) SetPendingItems(n int)        { c.pendingItems.Set(float64(n)) }
func (c *PrometheusCollector) SetConnectedModerators(n int) { c.connectedModerators.Set(float64(n)) }
func (c *PrometheusCollector) SetConnectedViewers(n int)    { c.connectedViewers.Set(float64(n)) }
func (c *PrometheusCollector) RecordSubmission()            { c.submissions.Inc() }

func (c *PrometheusCollector) RecordResolution(approved bool) {
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	c.resolutions.WithLabelValues(outcome).Inc()
}

func (c *PrometheusCollector) RecordDroppedSend() { c.droppedSends.Inc() }
