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
// APIクライアント、認証サービス、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordAPICall(operation, outcome string, duration time.Duration)
	RecordSignIn(outcome string)
	RecordSessionState(state string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls      *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	signIns       *prometheus.CounterVec
	sessionStates *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogdash_api_calls_total",
			Help: "ブログ API 呼び出しの合計数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blogdash_api_latency_seconds",
			Help:    "ブログ API 呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogdash_sign_in_total",
			Help: "サインイン試行の合計数（結果別）",
		}, []string{"outcome"}),
		sessionStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogdash_session_transitions_total",
			Help: "セッション状態遷移の合計数（遷移先別）",
		}, []string{"state"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogdash_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.apiLatency,
		c.signIns,
		c.sessionStates,
		c.httpStatus,
	)

	return c
}

// RecordAPICall はブログ API 呼び出しの結果とレイテンシを記録する。
// 送信前に打ち切られた呼び出しはレイテンシに含めない。
func (c *Collector) RecordAPICall(operation, outcome string, duration time.Duration) {
	c.apiCalls.WithLabelValues(operation, outcome).Inc()
	if duration > 0 {
		c.apiLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordSignIn はサインイン結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordSessionState はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionState(state string) {
	c.sessionStates.WithLabelValues(state).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
