package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported on /metrics. All methods are safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	SamplesTotal      *prometheus.CounterVec // result=ok|none|permission_denied|unavailable
	ChangesTotal      prometheus.Counter
	WatcherRunning    prometheus.Gauge
	LockSessionsTotal *prometheus.CounterVec // outcome=started|expired|cancelled
	LockRemainingSecs prometheus.Gauge
	SampleLatencyMS   prometheus.Histogram
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SamplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionlock_samples_total",
				Help: "Foreground samples by result",
			},
			[]string{"result"},
		),
		ChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionlock_foreground_changes_total",
			Help: "Foreground transitions published by the watcher",
		}),
		WatcherRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionlock_watcher_running",
			Help: "1 while the foreground watcher is polling",
		}),
		LockSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionlock_lock_sessions_total",
				Help: "Lock session lifecycle events by outcome",
			},
			[]string{"outcome"},
		),
		LockRemainingSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionlock_lock_remaining_seconds",
			Help: "Remaining time on the running lock session",
		}),
		SampleLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessionlock_sample_latency_ms",
			Help:    "Latency of usage provider queries (ms)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1ms .. ~512ms
		}),
	}

	m.registry.MustRegister(
		m.SamplesTotal,
		m.ChangesTotal,
		m.WatcherRunning,
		m.LockSessionsTotal,
		m.LockRemainingSecs,
		m.SampleLatencyMS,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSample(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SamplesTotal.WithLabelValues(result).Inc()
	m.SampleLatencyMS.Observe(float64(took.Milliseconds()))
}

func (m *Metrics) ObserveChange() {
	if m == nil {
		return
	}
	m.ChangesTotal.Inc()
}

func (m *Metrics) SetWatcherRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.WatcherRunning.Set(1)
	} else {
		m.WatcherRunning.Set(0)
	}
}

func (m *Metrics) ObserveLock(outcome string) {
	if m == nil {
		return
	}
	m.LockSessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetLockRemaining(d time.Duration) {
	if m == nil {
		return
	}
	m.LockRemainingSecs.Set(d.Seconds())
}
