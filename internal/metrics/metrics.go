package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geostay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Кеш метрики
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_cache_requests_total",
			Help: "Total number of cache lookups by result (hit, miss, stale)",
		},
		[]string{"result"},
	)

	CacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_cache_invalidations_total",
			Help: "Total number of invalidated cache keys",
		},
	)

	CacheWarmedCellsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_cache_warmed_cells_total",
			Help: "Total number of neighbor cells populated by cache warming",
		},
	)

	CacheWarmErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_cache_warm_errors_total",
			Help: "Total number of swallowed cache warming failures",
		},
	)

	CacheTTLAdjustmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_cache_ttl_adjustments_total",
			Help: "Total number of TTL reductions applied by the hit-rate optimizer",
		},
	)

	ScoreIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostay_score_index_size",
			Help: "Number of entries in the cache score index",
		},
	)

	// KV метрики
	KVOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geostay_kv_operation_duration_seconds",
			Help:    "Duration of key-value store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	KVOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_kv_operation_errors_total",
			Help: "Total number of key-value store operation errors",
		},
		[]string{"operation"},
	)

	// Документное хранилище
	DocOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geostay_doc_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DocOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_doc_operation_errors_total",
			Help: "Total number of document store operation errors",
		},
		[]string{"operation"},
	)

	// Batch writer метрики
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geostay_batch_size",
			Help:    "Size of property batch writes",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	BatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostay_batch_queue_size",
			Help: "Current size of the property batch writer queue",
		},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_batches_total",
			Help: "Total number of property batches processed",
		},
		[]string{"status"}, // success, error
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_mqtt_messages_received_total",
			Help: "Total number of MQTT feed messages received",
		},
		[]string{"operation"}, // add, update
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_mqtt_parse_errors_total",
			Help: "Total number of MQTT message parse errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostay_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostay_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geostay_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geostay_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
	)

	// Статус соединений
	MySQLConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostay_mysql_connection_status",
			Help: "MySQL connection status (1 = connected, 0 = disconnected)",
		},
	)

	RedisConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geostay_redis_connection_status",
			Help: "Redis connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geostay_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version, commit, buildTime string) {
	AppInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
