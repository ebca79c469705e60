package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_cache_lookups_total",
			Help: "Cache lookups by kind and outcome (hit, miss, stale).",
		},
		[]string{"kind", "outcome"},
	)
	retryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_retry_attempts_total",
			Help: "Attempts made by the retry executor, by operation.",
		},
		[]string{"op"},
	)
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_backend_requests_total",
			Help: "REST calls to the chat backend by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_connection_state",
			Help: "Realtime connection state (0 disconnected, 1 connecting, 2 connected, 3 degraded).",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_ws_reconnects_total",
			Help: "Realtime channel reconnection attempts.",
		},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_realtime_events_total",
			Help: "Realtime events folded into the store, by type.",
		},
		[]string{"type"},
	)
	sendOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_send_outcomes_total",
			Help: "Optimistic send outcomes (sent, delivered, failed, retried).",
		},
		[]string{"outcome"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Local API requests served.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Local API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheLookupsTotal,
		retryAttemptsTotal,
		backendRequestsTotal,
		connectionState,
		reconnectsTotal,
		realtimeEventsTotal,
		sendOutcomesTotal,
		httpRequestsTotal,
		httpRequestDuration,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies for the local API.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncCacheHit(kind string)   { cacheLookupsTotal.WithLabelValues(kind, "hit").Inc() }
func IncCacheMiss(kind string)  { cacheLookupsTotal.WithLabelValues(kind, "miss").Inc() }
func IncCacheStale(kind string) { cacheLookupsTotal.WithLabelValues(kind, "stale").Inc() }

func IncRetryAttempt(op string) { retryAttemptsTotal.WithLabelValues(op).Inc() }

func IncBackendRequest(op, outcome string) {
	backendRequestsTotal.WithLabelValues(op, outcome).Inc()
}

func SetConnectionState(state int) { connectionState.Set(float64(state)) }
func IncReconnect()                { reconnectsTotal.Inc() }

func IncRealtimeEvent(eventType string) {
	realtimeEventsTotal.WithLabelValues(eventType).Inc()
}

func IncSendOutcome(outcome string) { sendOutcomesTotal.WithLabelValues(outcome).Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
