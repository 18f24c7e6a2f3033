package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 任务与账户相关的 Prometheus 指标。
//
// 指标对象在包加载时创建，可以直接使用；InitMetrics 负责把它们
// 注册到默认 Registry（服务启动时调用一次）。
var (
	TasksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_tasks_created_total",
		Help: "Total number of tasks created.",
	})
	TasksDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_tasks_deleted_total",
		Help: "Total number of tasks deleted by their owner.",
	})
	TasksToggledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_tasks_toggled_total",
		Help: "Total number of task completion toggles.",
	})
	SweepDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_sweep_deleted_total",
		Help: "Total number of completed tasks removed by the maintenance sweep.",
	})
	UsersRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_users_registered_total",
		Help: "Total number of registered accounts.",
	})
	UsersActivatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_users_activated_total",
		Help: "Total number of activated accounts.",
	})
	MailSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_mail_sent_total",
		Help: "Total number of emails sent.",
	})
	MailFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_mail_failed_total",
		Help: "Total number of email send failures.",
	})
	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskhub_ratelimit_wait_seconds",
		Help:    "Time spent waiting on the rate limiter.",
		Buckets: prometheus.DefBuckets,
	})
	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhub_ratelimit_timeout_total",
		Help: "Total number of rate limiter timeouts.",
	})
	MailWorkerPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskhub_mail_worker_pool_size",
		Help: "Configured mail worker pool size.",
	})
)

var initOnce sync.Once

// InitMetrics 注册所有指标到默认 Registry。
//
// 参数:
//
//	mailWorkers: 邮件 worker 池大小（写入 gauge，便于容量观测）
func InitMetrics(mailWorkers int) {
	initOnce.Do(func() {
		prometheus.MustRegister(
			TasksCreatedTotal,
			TasksDeletedTotal,
			TasksToggledTotal,
			SweepDeletedTotal,
			UsersRegisteredTotal,
			UsersActivatedTotal,
			MailSentTotal,
			MailFailedTotal,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
			MailWorkerPoolSize,
		)
	})
	MailWorkerPoolSize.Set(float64(mailWorkers))
}
