package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// State machine transitions, e.g. entity=payment from=pending to=escrowed.
	EscrowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Committed escrow state transitions",
		},
		[]string{"entity", "from", "to"},
	)

	ProviderCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_provider_callbacks_total",
			Help: "Provider callbacks by provider, reported status and outcome",
		},
		[]string{"provider", "status", "outcome"},
	)

	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_tx_retries_total",
			Help: "Transactions retried after store contention",
		},
		[]string{"operation"},
	)

	Anomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_reconciliation_anomalies_total",
			Help: "Callbacks that contradicted recorded payment state",
		},
		[]string{"kind"},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_reconcile_payments_total",
			Help: "Stale payments processed by the reconciler, by result",
		},
		[]string{"result"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox records published to the broker",
		},
		[]string{"routing_key", "result"},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
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

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Provider status API latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		},
		[]string{"provider", "status"},
	)
)

func RecordTransition(entity, from, to string) {
	EscrowTransitions.WithLabelValues(entity, from, to).Inc()
}

func RecordProviderCallback(provider, status, outcome string) {
	ProviderCallbacks.WithLabelValues(provider, status, outcome).Inc()
}

func IncrementTxRetry(operation string) {
	TxRetries.WithLabelValues(operation).Inc()
}

func IncrementAnomaly(kind string) {
	Anomalies.WithLabelValues(kind).Inc()
}

func IncrementReconcile(result string) {
	ReconcileRuns.WithLabelValues(result).Inc()
}

func IncrementOutboxPublished(routingKey, result string) {
	OutboxPublished.WithLabelValues(routingKey, result).Inc()
}

func IncrementNotificationDelivered(channel, status string) {
	NotificationsDelivered.WithLabelValues(channel, status).Inc()
}

func IncrementSlowQuery(operation string) {
	SlowQueries.WithLabelValues(operation).Inc()
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordProviderCallLatency(provider, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}
