package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Business metrics
	RequestsCreated   *prometheus.CounterVec
	RequestsAccepted  prometheus.Counter
	RequestsCompleted prometheus.Counter
	RatingsSubmitted  prometheus.Counter
	ChatMessages      prometheus.Counter

	// Broker metrics
	BrokerConnections     prometheus.Gauge
	BrokerEventsDelivered prometheus.Counter
	BrokerEventsBridged   *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Business metrics
		RequestsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_created_total",
				Help: "Total number of borrow/help requests created",
			},
			[]string{"type"},
		),
		RequestsAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "requests_accepted_total",
				Help: "Total number of requests accepted by a provider",
			},
		),
		RequestsCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "requests_completed_total",
				Help: "Total number of requests marked completed",
			},
		),
		RatingsSubmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratings_submitted_total",
				Help: "Total number of ratings submitted",
			},
		),
		ChatMessages: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_messages_total",
				Help: "Total number of chat messages persisted",
			},
		),

		// Broker metrics
		BrokerConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "broker_connections",
				Help: "Number of open realtime connections",
			},
		),
		BrokerEventsDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "broker_events_delivered_total",
				Help: "Total number of room events delivered to subscribers",
			},
		),
		BrokerEventsBridged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_events_bridged_total",
				Help: "Total number of room events routed through the pub/sub bridge",
			},
			[]string{"status"},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"scope"},
		),

		// Database metrics
		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RequestCreated records a new request by type
func RequestCreated(requestType string) {
	Get().RequestsCreated.WithLabelValues(requestType).Inc()
}

// RequestAccepted records a request acceptance
func RequestAccepted() {
	Get().RequestsAccepted.Inc()
}

// RequestCompleted records a request completion
func RequestCompleted() {
	Get().RequestsCompleted.Inc()
}

// RatingSubmitted records a submitted rating
func RatingSubmitted() {
	Get().RatingsSubmitted.Inc()
}

// ChatMessagePersisted records a persisted chat message
func ChatMessagePersisted() {
	Get().ChatMessages.Inc()
}

// BrokerConnectionOpened records a new realtime connection
func BrokerConnectionOpened() {
	Get().BrokerConnections.Inc()
}

// BrokerConnectionClosed records a closed realtime connection
func BrokerConnectionClosed() {
	Get().BrokerConnections.Dec()
}

// BrokerEventBroadcast records the number of subscribers an event reached
func BrokerEventBroadcast(delivered int) {
	Get().BrokerEventsDelivered.Add(float64(delivered))
}

// BrokerEventBridged records a bridge publish attempt
func BrokerEventBridged(status string) {
	Get().BrokerEventsBridged.WithLabelValues(status).Inc()
}

// RecordRateLimitHit records a rate limit hit
func RecordRateLimitHit(scope string) {
	Get().RateLimitHits.WithLabelValues(scope).Inc()
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}
