// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// 同期・通知・ログインの各層から利用する。
type Recorder interface {
	RecordSyncSuccess(feedID string)
	RecordSyncFailure(feedID string, reason string)
	RecordArticlesCreated(count int)
	RecordNotifySuccess(taskID string)
	RecordNotifyFailure(taskID string, reason string)
	RecordLoginResult(result string)
	RecordFetchLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess     prometheus.Counter
	syncFail        *prometheus.CounterVec
	articlesCreated prometheus.Counter
	notifySuccess   prometheus.Counter
	notifyFail      *prometheus.CounterVec
	loginResult     *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mprelay_sync_success_total",
			Help: "フィード同期成功の合計数",
		}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mprelay_sync_fail_total",
			Help: "フィード同期失敗の合計数（原因別）",
		}, []string{"reason"}),
		articlesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mprelay_articles_created_total",
			Help: "新規保存された記事の合計数",
		}),
		notifySuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mprelay_notify_success_total",
			Help: "通知配信成功の合計数",
		}),
		notifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mprelay_notify_fail_total",
			Help: "通知配信失敗の合計数（原因別）",
		}, []string{"reason"}),
		loginResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mprelay_login_result_total",
			Help: "ログイン試行の結果別合計数",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mprelay_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.articlesCreated,
		c.notifySuccess,
		c.notifyFail,
		c.loginResult,
		c.fetchLatency,
	)

	return c
}

// RecordSyncSuccess はフィード同期成功を記録する。
func (c *Collector) RecordSyncSuccess(feedID string) {
	c.syncSuccess.Inc()
}

// RecordSyncFailure はフィード同期失敗を原因別に記録する。
// reasonにはエラーコード（FEED_FETCH_ERROR等）を渡す。
func (c *Collector) RecordSyncFailure(feedID string, reason string) {
	c.syncFail.WithLabelValues(reason).Inc()
}

// RecordArticlesCreated は新規保存された記事数を記録する。
func (c *Collector) RecordArticlesCreated(count int) {
	c.articlesCreated.Add(float64(count))
}

// RecordNotifySuccess は通知配信成功を記録する。
func (c *Collector) RecordNotifySuccess(taskID string) {
	c.notifySuccess.Inc()
}

// RecordNotifyFailure は通知配信失敗を原因別に記録する。
func (c *Collector) RecordNotifyFailure(taskID string, reason string) {
	c.notifyFail.WithLabelValues(reason).Inc()
}

// RecordLoginResult はログイン試行の結果を記録する。
// resultは "authenticated" / "timeout" / "failed" のいずれか。
func (c *Collector) RecordLoginResult(result string) {
	c.loginResult.WithLabelValues(result).Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RegisterQueueGauges はキューの待機数と実行中数のゲージを登録する。
// スクレイプのたびにinfoから現在値を取得する。
func RegisterQueueGauges(reg prometheus.Registerer, pending, active func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mprelay_queue_pending",
		Help: "タスクキューで実行待ちのジョブ数",
	}, func() float64 { return float64(pending()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mprelay_queue_active",
		Help: "タスクキューで実行中のジョブ数",
	}, func() float64 { return float64(active()) }))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
