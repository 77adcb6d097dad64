package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 规则匹配计数
	RuleMatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_match_count",
			Help: "Total number of rule match attempts",
		},
		[]string{"reason"}, // reason: STATIC, GROUP, CATEGORY, AI, none
	)

	// 动作执行计数
	ActionExecutedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "action_executed_count",
			Help: "Total number of executed actions",
		},
		[]string{"type", "status"}, // status: applied, failed, scheduled
	)

	// 动作执行延迟（毫秒）
	ActionExecLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "action_exec_latency_ms",
			Help:    "Provider action execution latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"type"},
	)

	// 分类服务调用延迟（毫秒）
	ClassifierCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_call_latency_ms",
			Help:    "Classifier service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// 锁竞争计数
	LockContentionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_contention_count",
			Help: "Number of lock acquisitions lost to a concurrent holder",
		},
		[]string{"scope"}, // scope: message, action
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_query_count",
			Help: "Total number of slow database queries",
		},
		[]string{"sql"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementRuleMatch 增加规则匹配计数
func IncrementRuleMatch(reason string) {
	RuleMatchCount.WithLabelValues(reason).Inc()
}

// IncrementActionExecuted 增加动作执行计数
func IncrementActionExecuted(actionType, status string) {
	ActionExecutedCount.WithLabelValues(actionType, status).Inc()
}

// RecordActionExecLatency 记录动作执行延迟
func RecordActionExecLatency(actionType string, duration time.Duration) {
	ActionExecLatency.WithLabelValues(actionType).Observe(float64(duration.Milliseconds()))
}

// RecordClassifierCallLatency 记录分类服务调用延迟
func RecordClassifierCallLatency(status string, duration time.Duration) {
	ClassifierCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementLockContention 增加锁竞争计数
func IncrementLockContention(scope string) {
	LockContentionCount.WithLabelValues(scope).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}
