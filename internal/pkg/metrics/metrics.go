package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按路由模板、方法与状态码统计请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesionlog_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lesionlog_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// ResultsCreatedTotal 不带标签：预测标签由客户端提交，取值无界。
	ResultsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lesionlog_results_created_total",
		Help: "Prediction results stored.",
	})

	// ReportsGeneratedTotal destination: download / email, outcome: ok / error.
	ReportsGeneratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesionlog_reports_generated_total",
		Help: "PDF reports generated.",
	}, []string{"destination", "outcome"})

	// EmailsSentTotal kind: welcome / reset / report.
	EmailsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesionlog_emails_sent_total",
		Help: "Outgoing mails by kind and outcome.",
	}, []string{"kind", "outcome"})

	OutboxJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesionlog_outbox_jobs_total",
		Help: "Outbox jobs by outcome (enqueued, dropped, succeeded, failed, panicked).",
	}, []string{"outcome"})

	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lesionlog_outbox_pending",
		Help: "Jobs waiting in the outbox.",
	})

	RateLimitRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesionlog_ratelimit_rejected_total",
		Help: "Requests rejected by the auth rate limiter.",
	}, []string{"route"})

	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesionlog_uploads_total",
		Help: "Image uploads by storage driver and outcome.",
	}, []string{"driver", "outcome"})
)

var registerOnce sync.Once

// InitMetrics 将全部指标注册到默认 Registry，可重复调用。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ResultsCreatedTotal,
			ReportsGeneratedTotal,
			EmailsSentTotal,
			OutboxJobsTotal,
			OutboxPending,
			RateLimitRejectedTotal,
			UploadsTotal,
		)
	})
}
