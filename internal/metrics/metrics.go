package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesPosted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Total number of chat messages persisted",
	}, []string{"source"})
	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_events_delivered_total",
		Help: "Total number of room events queued to connections",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_events_dropped_total",
		Help: "Total number of room events dropped for slow or closed connections",
	})
	ReadReceiptsMarked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_read_receipts_marked_total",
		Help: "Total number of read receipts added by mark-read",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, MessagesPosted, EventsDelivered, EventsDropped, ReadReceiptsMarked, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
