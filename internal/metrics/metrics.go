// Package metrics はgatewayのPrometheusメトリクスを定義する。
//
// すべてのメトリクスはパッケージ専用のレジストリに登録し、
// gatewayの /metrics エンドポイントから公開する。
// 命名規則:
//   - canvass_gateway_ 接頭辞
//   - カウンタは _total 接尾辞
//   - 所要時間のヒストグラムは _seconds 接尾辞
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry はgatewayのメトリクスを登録するレジストリ。
var Registry = prometheus.NewRegistry()

var (
	// ProxyRequestsTotal はバックエンドへ転送したリクエスト数をメソッドとステータス別に数える。
	// 通信に失敗した場合のstatusは "unreachable" になる。
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvass_gateway_proxy_requests_total",
			Help: "Total number of requests forwarded to the backend by method and status.",
		},
		[]string{"method", "status"},
	)

	// ProxyDurationSeconds はバックエンドの応答ヘッダー受信までの所要時間。
	ProxyDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvass_gateway_proxy_duration_seconds",
			Help:    "Time until the backend response headers arrive, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// LoginsTotal はログイン試行を結果別に数える。
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvass_gateway_logins_total",
			Help: "Total number of login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// SessionChecksTotal はセッション確認を結果別に数える。
	SessionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvass_gateway_session_checks_total",
			Help: "Total number of session checks by result.",
		},
		[]string{"result"},
	)
)

// ログイン結果のラベル値。
const (
	LoginSucceeded   = "succeeded"
	LoginRejected    = "rejected"
	LoginUnreachable = "unreachable"
	LoginExpired     = "expired"
)

// セッション確認結果のラベル値。
const (
	SessionValid           = "valid"
	SessionUnauthenticated = "unauthenticated"
	SessionExpired         = "expired"
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ProxyRequestsTotal,
		ProxyDurationSeconds,
		LoginsTotal,
		SessionChecksTotal,
	)
}

// ObserveProxy は転送1件の結果を記録する。statusが0の場合は通信失敗として扱う。
func ObserveProxy(method string, status int, elapsed time.Duration) {
	label := "unreachable"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	ProxyRequestsTotal.WithLabelValues(method, label).Inc()
	ProxyDurationSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler はレジストリの内容を公開するHTTPハンドラを返す。
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
