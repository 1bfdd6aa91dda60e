package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Webhook metrics
	WebhookReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_received_total",
			Help: "Total number of webhooks received",
		},
		[]string{"event_type", "status"},
	)

	WebhookDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_duplicates_total",
			Help: "Total number of webhook deliveries skipped as already processed",
		},
	)

	// Reconciliation metrics
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_reconcile_total",
			Help: "Total number of reconciled events by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subscription_reconcile_duration_seconds",
			Help:    "Time spent reconciling a single event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Redis metrics
	RedisOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// PayPal metrics
	ProviderAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paypal_api_calls_total",
			Help: "Total number of PayPal API calls",
		},
		[]string{"operation", "status"},
	)

	ProviderAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paypal_api_duration_seconds",
			Help:    "PayPal API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Notification metrics
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_notifications_total",
			Help: "Total number of subscription change notifications",
		},
		[]string{"driver", "status"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordWebhookReceived records a webhook reception
func RecordWebhookReceived(eventType, status string) {
	WebhookReceived.WithLabelValues(eventType, status).Inc()
}

// RecordWebhookDuplicate records a delivery skipped by deduplication
func RecordWebhookDuplicate() {
	WebhookDuplicates.Inc()
}

// RecordReconcile records the outcome of reconciling one event.
// Outcome is one of applied, ignored, stale or failed.
func RecordReconcile(eventType, outcome string, duration time.Duration) {
	ReconcileOutcomes.WithLabelValues(eventType, outcome).Inc()
	ReconcileDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation, status string, duration time.Duration) {
	RedisOperationsTotal.WithLabelValues(operation, status).Inc()
	RedisOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProviderCall records a PayPal API call
func RecordProviderCall(operation, status string, duration time.Duration) {
	ProviderAPICalls.WithLabelValues(operation, status).Inc()
	ProviderAPIDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordNotification records a subscription change notification
func RecordNotification(driver, status string) {
	NotificationsPublished.WithLabelValues(driver, status).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	ErrorsTotal.WithLabelValues(errorType, component).Inc()
}
