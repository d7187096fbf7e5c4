// Package metrics holds the Prometheus collectors of the scoring engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "insiderwatch"

var (
	TradesScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "trades_total",
			Help:      "Trades processed by the scoring pipeline",
		},
		[]string{"result"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one scoring batch",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	MLDegradedBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "ml_degraded_batches_total",
			Help:      "Batches scored without the ML detector",
		},
	)

	AlertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "investigation",
			Name:      "alerts_raised_total",
			Help:      "Alerts created from trade scores",
		},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "investigation",
			Name:      "transitions_total",
			Help:      "Workflow state transitions by entity, target state and outcome",
		},
		[]string{"entity", "to", "result"},
	)

	FeedbackF1 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "f1",
			Help:      "F1 on the held-out labeled sample at the current thresholds",
		},
	)

	FeedbackDetectionRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "detection_rate",
			Help:      "Share of confirmed insiders flagged by the current thresholds",
		},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job executions",
		},
		[]string{"job", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Background job wall time",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"job"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
		},
		[]string{"method", "path"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request counts and latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
