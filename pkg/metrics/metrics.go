package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gmail API 调用延迟（毫秒）
	GmailCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gmail_call_latency_ms",
			Help:    "Gmail API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"endpoint", "status"},
	)

	TokenRefreshCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "OAuth refresh attempts for the shared mailbox connection",
		},
		[]string{"result"}, // refreshed, failed, persist_failed
	)

	BodyCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "body_cache_lookups_total",
			Help: "Message body cache lookups",
		},
		[]string{"result"}, // hit, thread_hit, miss
	)

	PromotionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_promotion_total",
			Help: "Background new->registered promotion writes",
		},
		[]string{"result"}, // promoted, noop, deduped, failed
	)

	SyncRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_runs_total",
			Help: "Mailbox sync runs",
		},
		[]string{"sync_type", "status"},
	)

	SyncMessagesInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_sync_messages_inserted_total",
			Help: "Inbox rows written by mailbox sync",
		},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		},
		[]string{"routing_key", "queue"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker position: 0 closed, 1 open, 2 half-open",
		},
		[]string{"name"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"method", "path", "status"},
	)
)

func RecordGmailCallLatency(endpoint, status string, duration time.Duration) {
	GmailCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

func IncrementTokenRefresh(result string) {
	TokenRefreshCount.WithLabelValues(result).Inc()
}

func IncrementBodyCache(result string) {
	BodyCacheLookups.WithLabelValues(result).Inc()
}

func IncrementPromotion(result string) {
	PromotionCount.WithLabelValues(result).Inc()
}

// RecordSyncRun counts one sync attempt and the rows it inserted.
func RecordSyncRun(syncType, status string, inserted int) {
	SyncRunCount.WithLabelValues(syncType, status).Inc()
	if inserted > 0 {
		SyncMessagesInserted.Add(float64(inserted))
	}
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementSlowQuery(duration time.Duration) {
	SlowQueryCount.Inc()
	DBQueryDuration.WithLabelValues("slow", "any").Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
