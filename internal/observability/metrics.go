package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig controls whether and how metrics are exposed.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// SetDefaults fills in a sane namespace if one wasn't configured.
func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "nexus"
	}
}

// Metrics exposes Prometheus counters/histograms/gauges for the wave pump,
// agent pool, runner, and search engine.
type Metrics struct {
	registry *prometheus.Registry

	waveDuration   *prometheus.HistogramVec
	tasksTotal     *prometheus.CounterVec
	poolSize       prometheus.Gauge
	poolInUse      prometheus.Gauge
	runnerCalls    *prometheus.CounterVec
	runnerDuration *prometheus.HistogramVec
	runnerTokens   *prometheus.CounterVec
	searchCalls    *prometheus.CounterVec
	searchDuration prometheus.Histogram
	checkpoints    *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance, or returns nil when disabled; every
// recording method is a no-op on a nil *Metrics.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	cfg.SetDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.waveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: "coordinator", Name: "wave_duration_seconds",
		Help:    "Duration of each completed wave in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"wave_id"})

	m.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "coordinator", Name: "tasks_total",
		Help: "Total tasks reaching a terminal status",
	}, []string{"status"})

	m.poolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: "agentpool", Name: "size", Help: "Current number of pooled agents",
	})
	m.poolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: "agentpool", Name: "in_use", Help: "Agents currently not idle",
	})

	m.runnerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "runner", Name: "calls_total", Help: "Total LLM calls issued by runners",
	}, []string{"subtype", "outcome"})
	m.runnerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: "runner", Name: "task_duration_seconds",
		Help:    "Duration of a runner's execution of a task",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"subtype"})
	m.runnerTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "runner", Name: "tokens_total", Help: "Total tokens consumed by runners",
	}, []string{"subtype"})

	m.searchCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "search", Name: "calls_total", Help: "Total semantic search calls",
	}, []string{"result"})
	m.searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: "search", Name: "duration_seconds",
		Help:    "Semantic search call latency",
		Buckets: prometheus.DefBuckets,
	})

	m.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "checkpoint", Name: "total", Help: "Checkpoint creation outcomes",
	}, []string{"outcome"})

	m.registry.MustRegister(m.waveDuration, m.tasksTotal, m.poolSize, m.poolInUse,
		m.runnerCalls, m.runnerDuration, m.runnerTokens, m.searchCalls, m.searchDuration, m.checkpoints)

	return m
}

// Handler returns an http.Handler serving this registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWaveCompleted(waveID string, d time.Duration) {
	if m == nil {
		return
	}
	m.waveDuration.WithLabelValues(waveID).Observe(d.Seconds())
}

func (m *Metrics) IncTaskTerminal(status string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetPoolSize(size, inUse int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(size))
	m.poolInUse.Set(float64(inUse))
}

func (m *Metrics) ObserveRunnerCall(subtype, outcome string) {
	if m == nil {
		return
	}
	m.runnerCalls.WithLabelValues(subtype, outcome).Inc()
}

func (m *Metrics) ObserveRunnerTask(subtype string, d time.Duration, tokens int64) {
	if m == nil {
		return
	}
	m.runnerDuration.WithLabelValues(subtype).Observe(d.Seconds())
	m.runnerTokens.WithLabelValues(subtype).Add(float64(tokens))
}

func (m *Metrics) ObserveSearch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.searchCalls.WithLabelValues(result).Inc()
	m.searchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCheckpoint(outcome string) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(outcome).Inc()
}
