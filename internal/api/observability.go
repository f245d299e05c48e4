package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grc",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "grc", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	chatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "grc", Name: "chat_messages_total", Help: "Chat messages handled by outcome"},
		[]string{"outcome"},
	)
	documentUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "grc", Name: "document_uploads_total", Help: "Uploaded documents by outcome"},
		[]string{"outcome"},
	)
	storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "grc", Name: "object_storage_duration_seconds", Help: "Duration of object storage operations"},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, chatMessagesTotal, documentUploadsTotal, storageDuration)
}

// MetricsMiddleware records basic HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		observer := reqDuration.WithLabelValues(c.Request.Method, path, status)
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

func recordStorageOp(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	storageDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
