package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestDuration HTTP 请求耗时（按路由与状态码）。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "contactbook",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// AuthEventsTotal 认证流程事件计数。
	AuthEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contactbook",
		Name:      "auth_events_total",
		Help:      "Authentication flow outcomes.",
	}, []string{"event", "result"})

	// TokensIssuedTotal 按类型统计签发的令牌数。
	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contactbook",
		Name:      "tokens_issued_total",
		Help:      "Tokens issued by kind.",
	}, []string{"kind"})

	// RateLimitRejectedTotal 被限流拒绝的请求数。
	RateLimitRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contactbook",
		Name:      "rate_limit_rejected_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"scope"})

	// RateLimitWaitDuration 阻塞式限流等待时间。
	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "contactbook",
		Name:      "rate_limit_wait_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	// RateLimitTimeoutTotal 等待限流超时次数。
	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "contactbook",
		Name:      "rate_limit_timeout_total",
		Help:      "Rate limit waits abandoned because the context ended.",
	})

	// MailJobsTotal 邮件任务执行结果。
	MailJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contactbook",
		Name:      "mail_jobs_total",
		Help:      "Background mail jobs by result.",
	}, []string{"result"})

	// QueuePending 队列中待处理的任务数。
	QueuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "contactbook",
		Name:      "queue_pending_jobs",
		Help:      "Jobs waiting in the background queue.",
	})

	// QueueWorkers worker 数量。
	QueueWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "contactbook",
		Name:      "queue_workers",
		Help:      "Configured background queue workers.",
	})

	registerOnce sync.Once
)

// InitMetrics 注册所有指标（重复调用安全）。
func InitMetrics(workers int) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestDuration,
			AuthEventsTotal,
			TokensIssuedTotal,
			RateLimitRejectedTotal,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
			MailJobsTotal,
			QueuePending,
			QueueWorkers,
		)
	})
	QueueWorkers.Set(float64(workers))
}
