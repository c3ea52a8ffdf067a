// Package metrics provides Prometheus metrics for the offline cache controller.
//
// A nil *Metrics is valid: every method is a no-op on nil, which results in zero
// overhead when metrics are not enabled.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	controller, err := offlinecache.CreateController(offlinecache.Config{Metrics: m, ...})
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer      prometheus.Gatherer
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cacheWrites   *prometheus.CounterVec
	replays       *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	installs      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New creates the metrics and registers them with the given registry.
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		gatherer: reg,
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_requests_total",
				Help: "Total number of intercepted requests by category, strategy and outcome",
			},
			[]string{"category", "strategy", "outcome"}, // outcome: "network", "cache", "offline"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "offline_cache_request_duration_milliseconds",
				Help: "Duration of intercepted requests in milliseconds",
				Buckets: []float64{
					0.5,  // cache hits
					1,    // 1ms
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
					5000, // slow origin
				},
			},
			[]string{"category"},
		),
		cacheWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_partition_writes_total",
				Help: "Total number of partition writes by partition and result",
			},
			[]string{"partition", "result"}, // result: "ok", "error"
		),
		replays: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_replays_total",
				Help: "Total number of replayed mutations by result",
			},
			[]string{"result"}, // result: "synced", "rejected", "failed", "dead"
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "offline_cache_queue_depth",
				Help: "Number of pending mutations after the last sync or enqueue",
			},
		),
		installs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_installs_total",
				Help: "Total number of install attempts by result",
			},
			[]string{"result"},
		),
		notifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_cache_notifications_total",
				Help: "Total number of push notifications by result",
			},
			[]string{"result"}, // result: "shown", "dropped", "error"
		),
	}
}

// ObserveRequest records an intercepted request.
func (m *Metrics) ObserveRequest(category, strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(category, strategy, outcome).Inc()
	m.duration.WithLabelValues(category).Observe(float64(d) / float64(time.Millisecond))
}

// RecordCacheWrite records a partition write.
func (m *Metrics) RecordCacheWrite(partition string, err error) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(partition, result(err)).Inc()
}

// RecordReplay records the result of replaying a single mutation.
func (m *Metrics) RecordReplay(res string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(res).Inc()
}

// SetQueueDepth records the number of pending mutations.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordInstall records an install attempt.
func (m *Metrics) RecordInstall(err error) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(result(err)).Inc()
}

// RecordNotification records what happened to a push message.
func (m *Metrics) RecordNotification(res string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(res).Inc()
}

// Handler returns the HTTP handler exposing the registry, or nil when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
