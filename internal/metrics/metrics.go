// Package metrics exposes Prometheus gauges and counters describing
// bus subscriber health, queue occupancy/lag, and coordination
// progress (grounded on cuemby-warren/pkg/metrics's global-vars-plus-
// Handler() shape, adapted to an explicitly constructed, non-global
// Metrics value so app wiring never depends on package-level state).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/plugin"
	"github.com/repostats/repostats/internal/queue"
)

// Metrics holds every collector this build exposes, registered against
// its own prometheus.Registry rather than the global default one.
type Metrics struct {
	registry *prometheus.Registry

	subscribersTotal      prometheus.Gauge
	subscribersHWM        prometheus.Gauge
	subscribersStale      prometheus.Gauge
	subscribersErrorProne prometheus.Gauge
	publishedTotal        prometheus.Counter
	publishFailuresTotal  prometheus.Counter

	queueMessagesTotal  *prometheus.GaugeVec
	queueActiveConsumers *prometheus.GaugeVec
	queueConsumerLag    *prometheus.GaugeVec
	queueBytesEstimate  *prometheus.GaugeVec

	coordinatorProgress *prometheus.GaugeVec
	coordinatorStatus   *prometheus.GaugeVec
}

// New constructs and registers every collector against a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		subscribersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repostats_bus_subscribers_total",
			Help: "Total number of active bus subscribers",
		}),
		subscribersHWM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repostats_bus_subscribers_high_water_mark",
			Help: "Number of subscribers at their channel high water mark",
		}),
		subscribersStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repostats_bus_subscribers_stale",
			Help: "Number of subscribers classified stale",
		}),
		subscribersErrorProne: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repostats_bus_subscribers_error_prone",
			Help: "Number of subscribers classified error-prone",
		}),
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repostats_bus_events_published_total",
			Help: "Total number of events published to the bus",
		}),
		publishFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repostats_bus_publish_failures_total",
			Help: "Total number of publish attempts that reported at least one failed subscriber",
		}),
		queueMessagesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repostats_queue_messages_total",
			Help: "Total messages ever appended to a queue",
		}, []string{"queue"}),
		queueActiveConsumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repostats_queue_active_consumers",
			Help: "Number of active consumers on a queue",
		}, []string{"queue"}),
		queueConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repostats_queue_consumer_lag",
			Help: "Messages a consumer is behind the producer head",
		}, []string{"queue", "consumer"}),
		queueBytesEstimate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repostats_queue_bytes_estimate",
			Help: "Estimated bytes resident in a queue's ring buffer",
		}, []string{"queue"}),
		coordinatorProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repostats_coordinator_progress_ratio",
			Help: "Fraction of expected plugins that have reported for a scan",
		}, []string{"scan"}),
		coordinatorStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repostats_coordinator_status",
			Help: "Coordinator status for a scan (0=pending, 1=complete, 2=failed)",
		}, []string{"scan"}),
	}

	reg.MustRegister(
		m.subscribersTotal, m.subscribersHWM, m.subscribersStale, m.subscribersErrorProne,
		m.publishedTotal, m.publishFailuresTotal,
		m.queueMessagesTotal, m.queueActiveConsumers, m.queueConsumerLag, m.queueBytesEstimate,
		m.coordinatorProgress, m.coordinatorStatus,
	)
	return m
}

// Handler returns the HTTP handler serving this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePublish records one Publish call's outcome; failed is the
// number of subscribers Publish reported as undeliverable.
func (m *Metrics) ObservePublish(failed int) {
	m.publishedTotal.Inc()
	if failed > 0 {
		m.publishFailuresTotal.Inc()
	}
}

// SampleBus updates the subscriber-health gauges from bus's current
// state (spec's health-assessment machinery in events.Bus).
func (m *Metrics) SampleBus(bus *events.Bus) {
	m.subscribersTotal.Set(float64(bus.SubscriberCount()))

	var hwm, stale, errorProne int
	for _, h := range bus.AssessSubscriberHealth() {
		if h.HighWaterMark {
			hwm++
		}
		if h.Stale {
			stale++
		}
		if h.ErrorProne {
			errorProne++
		}
	}
	m.subscribersHWM.Set(float64(hwm))
	m.subscribersStale.Set(float64(stale))
	m.subscribersErrorProne.Set(float64(errorProne))
}

// SampleQueue updates the queue gauges for one named queue.
func (m *Metrics) SampleQueue(name string, q *queue.Queue) {
	stats := q.MemoryStats()
	m.queueMessagesTotal.WithLabelValues(name).Set(float64(stats.TotalMessages))
	m.queueActiveConsumers.WithLabelValues(name).Set(float64(stats.ActiveConsumers))
	m.queueBytesEstimate.WithLabelValues(name).Set(float64(stats.BytesEstimate))

	for _, lag := range q.LagStatistics() {
		m.queueConsumerLag.WithLabelValues(name, lag.ConsumerID).Set(float64(lag.Lag))
	}
}

// SampleCoordinator updates the coordinator gauges for one scan.
func (m *Metrics) SampleCoordinator(scanID string, c *plugin.Coordinator) {
	m.coordinatorProgress.WithLabelValues(scanID).Set(c.Progress())

	status, _ := c.Status()
	var code float64
	switch status {
	case plugin.StatusComplete:
		code = 1
	case plugin.StatusFailed:
		code = 2
	default:
		code = 0
	}
	m.coordinatorStatus.WithLabelValues(scanID).Set(code)
}
