package timercore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes scheduler statistics as Prometheus metrics. All methods
// are nil-safe so instrumentation can be compiled in unconditionally and
// attached only when wanted.
type Collector struct {
	timersScheduled *prometheus.CounterVec
	timersFired     *prometheus.CounterVec
	timersCancelled *prometheus.CounterVec
	keepAlive       prometheus.Gauge
	drainDuration   prometheus.Histogram
	drainBatch      prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics against reg.
// Pass prometheus.DefaultRegisterer for the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		timersScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timercore_timers_scheduled_total",
			Help: "Total number of timers scheduled, by kind",
		}, []string{"kind"}),
		timersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timercore_timers_fired_total",
			Help: "Total number of timer callbacks dispatched, by kind",
		}, []string{"kind"}),
		timersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timercore_timers_cancelled_total",
			Help: "Total number of timers cleared, by kind",
		}, []string{"kind"}),
		keepAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timercore_keepalive_timers",
			Help: "Current number of timers keeping the event loop alive",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timercore_drain_duration_seconds",
			Help:    "Duration of non-empty timer drain cycles",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		drainBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timercore_drain_batch_size",
			Help:    "Number of timers fired per non-empty drain cycle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(
		c.timersScheduled,
		c.timersFired,
		c.timersCancelled,
		c.keepAlive,
		c.drainDuration,
		c.drainBatch,
	)
	return c
}

func (c *Collector) timerScheduled(k Kind) {
	if c != nil {
		c.timersScheduled.WithLabelValues(k.String()).Inc()
	}
}

func (c *Collector) timerFired(k Kind) {
	if c != nil {
		c.timersFired.WithLabelValues(k.String()).Inc()
	}
}

func (c *Collector) timerCancelled(k Kind) {
	if c != nil {
		c.timersCancelled.WithLabelValues(k.String()).Inc()
	}
}

func (c *Collector) setKeepAlive(n int32) {
	if c != nil {
		c.keepAlive.Set(float64(n))
	}
}

func (c *Collector) observeDrain(d time.Duration, fired int) {
	if c != nil {
		c.drainDuration.Observe(d.Seconds())
		c.drainBatch.Observe(float64(fired))
	}
}
