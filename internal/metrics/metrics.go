package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feedgen Metrics - 合成行情生成服务监控指标
var (
	// EventsGenerated 已生成并入队的事件数
	EventsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "events_generated_total",
			Help:      "已生成并成功入队的事件数，按角色(trigger/orderbook)和资产分组",
		},
		[]string{"role", "asset"},
	)

	// PublishFailures 发布失败数
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "publish_failures_total",
			Help:      "发布失败数，按阶段分组: enqueue(入队超时/失败，本 tick 丢弃), delivery(broker 投递失败)",
		},
		[]string{"role", "stage"},
	)

	// Deliveries 投递结果
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "deliveries_total",
			Help:      "broker 投递结果数，按 topic 和结果(success/failure)分组",
		},
		[]string{"topic", "result"},
	)

	// TicksSkipped 跳过的 tick 数
	TicksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "ticks_skipped_total",
			Help:      "未产生事件的 tick 数，按角色和原因分组",
		},
		[]string{"role", "reason"},
	)

	// PublishLatency 入队耗时
	PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "publish_enqueue_seconds",
			Help:      "单次发布入队耗时(秒)",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to 2.6s
		},
		[]string{"role"},
	)

	// WorkerRestarts worker 重启次数
	WorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "worker_restarts_total",
			Help:      "worker 异常退出后被重新拉起的次数，按槽位和角色分组",
		},
		[]string{"slot", "role"},
	)

	// WorkerLaunchFailures worker 启动失败次数
	WorkerLaunchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "worker_launch_failures_total",
			Help:      "worker 启动失败次数，按槽位分组",
		},
		[]string{"slot"},
	)

	// WorkersRunning 运行中的 worker 数
	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eidos",
			Subsystem: "feedgen",
			Name:      "workers_running",
			Help:      "当前运行中的 worker 数",
		},
	)
)

// RecordEvent 记录一次成功入队
func RecordEvent(role, asset string, seconds float64) {
	EventsGenerated.WithLabelValues(role, asset).Inc()
	PublishLatency.WithLabelValues(role).Observe(seconds)
}

// RecordEnqueueFailure 记录入队失败
func RecordEnqueueFailure(role string) {
	PublishFailures.WithLabelValues(role, "enqueue").Inc()
}

// RecordDelivery 记录 broker 投递结果
func RecordDelivery(role, topic string, err error) {
	if err != nil {
		Deliveries.WithLabelValues(topic, "failure").Inc()
		PublishFailures.WithLabelValues(role, "delivery").Inc()
		return
	}
	Deliveries.WithLabelValues(topic, "success").Inc()
}

// RecordSkippedTick 记录跳过的 tick
func RecordSkippedTick(role, reason string) {
	TicksSkipped.WithLabelValues(role, reason).Inc()
}

// RecordRestart 记录 worker 重启
func RecordRestart(slot int, role string) {
	WorkerRestarts.WithLabelValues(strconv.Itoa(slot), role).Inc()
}

// RecordLaunchFailure 记录 worker 启动失败
func RecordLaunchFailure(slot int) {
	WorkerLaunchFailures.WithLabelValues(strconv.Itoa(slot)).Inc()
}
