// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Collector
// =============================================================================

// Collector holds every Prometheus series the marketplace records.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// Envelopes in and out
	webhookDeliveries *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec

	// Response mailbox
	mailboxPending prometheus.Gauge
	mailboxPolls   *prometheus.CounterVec

	// Directory
	directoryOps *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec

	// Weather agent
	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	poolQueueDepth   prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the series on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers the series on reg.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.webhookDeliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Envelopes received on the webhook by outcome",
		},
		[]string{"outcome"},
	)

	c.dispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Envelopes sent to peers by outcome",
		},
		[]string{"schema", "outcome"},
	)

	c.dispatchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time to resolve and deliver an envelope",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"schema"},
	)

	c.mailboxPending = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mailbox_pending",
			Help:      "Weather requests waiting for a reply",
		},
	)

	c.mailboxPolls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_polls_total",
			Help:      "Response polls by result status",
		},
		[]string{"status"},
	)

	c.directoryOps = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_operations_total",
			Help:      "Directory calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.analysesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_analyses_total",
			Help:      "Weather analyses produced by the agent",
		},
		[]string{"variant", "status"},
	)

	c.analysisDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_analysis_duration_seconds",
			Help:      "End-to-end time from webhook to reply sent",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"variant"},
	)

	c.poolQueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_queue_depth",
			Help:      "Tasks waiting in the agent worker pool",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP
// =============================================================================

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 LLM
// =============================================================================

// RecordLLMRequest records one completion call.
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// ✉️ Envelopes
// =============================================================================

// RecordWebhook records an inbound envelope: accepted, rejected, unclaimed, late.
func (c *Collector) RecordWebhook(outcome string) {
	if c == nil {
		return
	}
	c.webhookDeliveries.WithLabelValues(outcome).Inc()
}

// RecordDispatch records an outbound envelope.
func (c *Collector) RecordDispatch(schema, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(schema, outcome).Inc()
	c.dispatchDuration.WithLabelValues(schema).Observe(duration.Seconds())
}

// =============================================================================
// 📬 Mailbox
// =============================================================================

// SetMailboxPending publishes the number of requests awaiting a reply.
func (c *Collector) SetMailboxPending(n int) {
	if c == nil {
		return
	}
	c.mailboxPending.Set(float64(n))
}

// RecordPoll records the status a poll returned.
func (c *Collector) RecordPoll(status string) {
	if c == nil {
		return
	}
	c.mailboxPolls.WithLabelValues(status).Inc()
}

// =============================================================================
// 📇 Directory
// =============================================================================

// RecordDirectoryOp records a directory call (register, search, resolve).
func (c *Collector) RecordDirectoryOp(operation string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.directoryOps.WithLabelValues(operation, status).Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🌦️ Weather agent
// =============================================================================

// RecordAnalysis records one handled weather request.
func (c *Collector) RecordAnalysis(variant, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.analysesTotal.WithLabelValues(variant, status).Inc()
	c.analysisDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// SetQueueDepth publishes the worker pool backlog.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.poolQueueDepth.Set(float64(n))
}

// =============================================================================
// 🔧 Helpers
// =============================================================================

// statusCode buckets an HTTP status into its class.
func statusCode(code int) string {
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
