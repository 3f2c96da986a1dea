package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus registry backing the reply loop, the task
// pool, and the HTTP front door. Grouped by concern the same way the
// teacher's pkg/observability/metrics.go splits agent/llm/tool/http
// metrics into their own init*Metrics methods.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerTokensIn *prometheus.CounterVec
	providerTokensOut *prometheus.CounterVec

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	taskPoolActive  prometheus.Gauge
	taskPoolPending prometheus.Gauge
}

// NewMetrics builds a fresh registry under namespace. Safe to call once
// per process; the returned *Metrics is nil-safe on every Record* method
// so callers never need a "metrics enabled" branch at the call site.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "provider", Name: "calls_total",
		Help: "Total number of provider completion/stream calls.",
	}, []string{"model"})
	m.providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "provider", Name: "call_duration_seconds",
		Help: "Provider call duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"model"})
	m.providerTokensIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "provider", Name: "tokens_input_total",
		Help: "Total input tokens consumed.",
	}, []string{"model"})
	m.providerTokensOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "provider", Name: "tokens_output_total",
		Help: "Total output tokens generated.",
	}, []string{"model"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool dispatches.",
	}, []string{"tool"})
	m.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help: "Tool dispatch duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool"})
	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of tool dispatch errors.",
	}, []string{"tool"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "Total HTTP requests served by the front door.",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.taskPoolActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "task_pool", Name: "active_workers",
		Help: "Number of currently active sub-agent task workers.",
	})
	m.taskPoolPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "task_pool", Name: "pending_tasks",
		Help: "Number of tasks queued but not yet picked up by a worker.",
	})

	m.registry.MustRegister(
		m.providerCalls, m.providerDuration, m.providerTokensIn, m.providerTokensOut,
		m.toolCalls, m.toolDuration, m.toolErrors,
		m.httpRequests, m.httpDuration,
		m.taskPoolActive, m.taskPoolPending,
	)
	return m
}

func (m *Metrics) RecordProviderCall(model string, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(model).Inc()
	m.providerDuration.WithLabelValues(model).Observe(d.Seconds())
	if inputTokens > 0 {
		m.providerTokensIn.WithLabelValues(model).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.providerTokensOut.WithLabelValues(model).Add(float64(outputTokens))
	}
}

func (m *Metrics) RecordToolCall(tool string, d time.Duration, isError bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	if isError {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) SetTaskPoolGauges(active, pending int) {
	if m == nil {
		return
	}
	m.taskPoolActive.Set(float64(active))
	m.taskPoolPending.Set(float64(pending))
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

var globalMu sync.RWMutex
var global *Metrics

// SetGlobalMetrics installs the process-wide Metrics instance (§9 "global
// mutable state ... initialized exactly once").
func SetGlobalMetrics(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = m
}

// GlobalMetrics returns the process-wide Metrics instance, or nil if
// none was installed (every Record* method on a nil *Metrics is a no-op).
func GlobalMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}
