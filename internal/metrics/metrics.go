// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フィードキャッシュ、サービス層、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheError(op string)
	RecordCacheInvalidationFailure()
	RecordHTTPStatus(statusCode int)
	RecordOperationLatency(operation string, duration time.Duration)
	RecordOperationError(operation string, code string)
	RecordLikeToggle(action string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHit         prometheus.Counter
	cacheMiss        prometheus.Counter
	cacheError       *prometheus.CounterVec
	invalidationFail prometheus.Counter
	httpStatus       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	operationErrors  *prometheus.CounterVec
	likeToggles      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pictogram_feed_cache_hit_total",
			Help: "投稿一覧キャッシュのヒット数",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pictogram_feed_cache_miss_total",
			Help: "投稿一覧キャッシュのミス数",
		}),
		cacheError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pictogram_feed_cache_error_total",
			Help: "投稿一覧キャッシュの操作エラー数",
		}, []string{"op"}),
		invalidationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pictogram_feed_cache_invalidation_fail_total",
			Help: "投稿作成後のキャッシュ無効化に失敗した回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pictogram_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pictogram_graphql_operation_seconds",
			Help:    "GraphQL操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pictogram_graphql_operation_errors_total",
			Help: "GraphQL操作のエラーコード別件数",
		}, []string{"operation", "code"}),
		likeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pictogram_like_toggles_total",
			Help: "いいねトグルの結果別件数",
		}, []string{"action"}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.cacheMiss,
		c.cacheError,
		c.invalidationFail,
		c.httpStatus,
		c.operationLatency,
		c.operationErrors,
		c.likeToggles,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHit.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMiss.Inc()
}

// RecordCacheError はキャッシュ操作（generation, get, set, delete, decode, invalidate）の失敗を記録する。
func (c *Collector) RecordCacheError(op string) {
	c.cacheError.WithLabelValues(op).Inc()
}

// RecordCacheInvalidationFailure は投稿作成後の無効化失敗を記録する。
func (c *Collector) RecordCacheInvalidationFailure() {
	c.invalidationFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOperationLatency はGraphQL操作のレイテンシを記録する。
func (c *Collector) RecordOperationLatency(operation string, duration time.Duration) {
	c.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOperationError はGraphQL操作のエラーをコード別に記録する。
func (c *Collector) RecordOperationError(operation string, code string) {
	c.operationErrors.WithLabelValues(operation, code).Inc()
}

// RecordLikeToggle はいいねトグルの結果（liked/unliked）を記録する。
func (c *Collector) RecordLikeToggle(action string) {
	c.likeToggles.WithLabelValues(action).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
