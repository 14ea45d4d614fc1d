package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private Prometheus registry and the proxy's metric set.
// A nil *Collector is valid and records nothing.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	inflight      prometheus.Gauge
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	reductions    *prometheus.CounterVec
	reductionTime *prometheus.HistogramVec
	rangeRequests *prometheus.CounterVec
	upstreamBytes prometheus.Counter
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// NewCollector creates a new metrics collector. A disabled config yields a
// nil collector.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "activestorage",
		}
	}
	if !config.Enabled {
		return nil, nil
	}
	if config.Namespace == "" {
		config.Namespace = "activestorage"
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path is the route the metrics handler is mounted on.
func (c *Collector) Path() string {
	if c == nil || c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware counts requests by status code and method, observes their
// latency and tracks the number in flight.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		c.inflight.Inc()
		defer c.inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		code := strconv.Itoa(rec.status)
		c.requests.WithLabelValues(code, r.Method).Inc()
		c.latency.WithLabelValues(code, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RecordReduction records the outcome of one reduction.
func (c *Collector) RecordReduction(operation, dtype, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.reductions.With(prometheus.Labels{
		"operation": operation,
		"dtype":     dtype,
		"status":    status,
	}).Inc()
	c.reductionTime.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordRange records one upstream range request and the bytes it returned.
func (c *Collector) RecordRange(status string, bytes int64) {
	if c == nil {
		return
	}
	c.rangeRequests.With(prometheus.Labels{"status": status}).Inc()
	if bytes > 0 {
		c.upstreamBytes.Add(float64(bytes))
	}
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	labels := prometheus.Labels(c.config.Labels)

	c.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   "http",
		Name:        "inflight_requests",
		Help:        "Current number of inflight HTTP requests.",
		ConstLabels: labels,
	})
	c.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "Total number of HTTP requests processed, partitioned by status code and method.",
		ConstLabels: labels,
	}, []string{"code", "method"})
	c.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "Histogram of latencies for HTTP requests.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: labels,
	}, []string{"code", "method"})

	c.reductions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Name:        "reductions_total",
		Help:        "Total number of reductions, partitioned by operation, dtype and outcome.",
		ConstLabels: labels,
	}, []string{"operation", "dtype", "status"})
	c.reductionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   ns,
		Name:        "reduction_duration_seconds",
		Help:        "Duration of reductions in seconds.",
		Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		ConstLabels: labels,
	}, []string{"operation"})

	c.rangeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ns,
		Subsystem:   "upstream",
		Name:        "range_requests_total",
		Help:        "Total number of upstream byte range requests.",
		ConstLabels: labels,
	}, []string{"status"})
	c.upstreamBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   ns,
		Subsystem:   "upstream",
		Name:        "bytes_total",
		Help:        "Total number of bytes read from upstream storage.",
		ConstLabels: labels,
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.inflight,
		c.requests,
		c.latency,
		c.reductions,
		c.reductionTime,
		c.rangeRequests,
		c.upstreamBytes,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}
