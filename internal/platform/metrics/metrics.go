package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kpi"

// Collector owns the service metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration prometheus.Histogram
	rateLimited         prometheus.Counter

	weightRejected *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	entriesScored  prometheus.Counter
	jobsQueued     prometheus.Gauge
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	auto := promauto.With(registry)
	return &Collector{
		registry: registry,
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by status code.",
		}, []string{"code"}),
		httpRequestDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimited: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		weightRejected: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignments",
			Name:      "weight_rejected_total",
			Help:      "Assignment writes rejected because the scope budget was exhausted.",
		}, []string{"level"}),
		runs: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calculation",
			Name:      "runs_total",
			Help:      "Calculation runs by final state.",
		}, []string{"state"}),
		runDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calculation",
			Name:      "run_duration_seconds",
			Help:      "Wall time of calculation runs.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		entriesScored: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calculation",
			Name:      "entries_scored_total",
			Help:      "Data entries scored across all runs.",
		}),
		jobsQueued: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "queued",
			Help:      "Jobs waiting in the in-process queue.",
		}),
	}
}

func (c *Collector) Record(status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	c.httpRequestDuration.Observe(duration.Seconds())
	if status == http.StatusTooManyRequests {
		c.rateLimited.Inc()
	}
}

func (c *Collector) WeightRejected(level string) {
	c.weightRejected.WithLabelValues(level).Inc()
}

func (c *Collector) RunFinished(state string, elapsed time.Duration) {
	c.runs.WithLabelValues(state).Inc()
	c.runDuration.Observe(elapsed.Seconds())
}

func (c *Collector) EntriesScored(count int) {
	c.entriesScored.Add(float64(count))
}

func (c *Collector) QueueDepth(depth int) {
	c.jobsQueued.Set(float64(depth))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
