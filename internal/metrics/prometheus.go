// Package metrics 提供 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statuswatch"

// Metrics 所有 Prometheus 指标
// 方法对 nil 接收者安全，未启用指标时可直接传 nil
type Metrics struct {
	registry *prometheus.Registry

	// 监测循环
	ChecksTotal    *prometheus.CounterVec
	ProbeDuration  *prometheus.HistogramVec
	StateChanges   *prometheus.CounterVec
	MonitorState   *prometheus.GaugeVec
	CheckInsTotal  *prometheus.CounterVec
	LoopPanicTotal *prometheus.CounterVec

	// 事件存储
	CommitsTotal   *prometheus.CounterVec
	CommitDuration prometheus.Histogram
	PendingEvents  prometheus.Gauge
	DroppedEvents  *prometheus.CounterVec

	// 清理任务
	PurgedEvents prometheus.Counter
	PurgeErrors  prometheus.Counter

	// 实时推送
	Subscribers prometheus.Gauge
}

// New 创建并注册指标（使用独立 Registry，便于测试中重复创建）
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of monitor checks by effective state",
			},
			[]string{"monitor", "state"},
		),

		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of a single probe query",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"monitor", "kind"},
		),

		StateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_changes_total",
				Help:      "Total number of effective state transitions",
			},
			[]string{"monitor", "state"},
		),

		MonitorState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitor_state",
				Help:      "Current effective state ordinal (0=unknown 1=up 2=down 3=warn 4=degraded)",
			},
			[]string{"monitor"},
		),

		CheckInsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkins_total",
				Help:      "Total number of check-in calls by result",
			},
			[]string{"result"},
		),

		LoopPanicTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_panics_total",
				Help:      "Total number of recovered panics in monitor loops",
			},
			[]string{"monitor"},
		),

		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_commits_total",
				Help:      "Total number of event store commits by result",
			},
			[]string{"result"},
		),

		CommitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_commit_duration_seconds",
				Help:      "Duration of event store commits",
				Buckets:   prometheus.DefBuckets,
			},
		),

		PendingEvents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_events",
				Help:      "Number of appended events not yet committed",
			},
		),

		DroppedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_events_total",
				Help:      "Total number of pending events dropped because the per-monitor buffer was full",
			},
			[]string{"monitor"},
		),

		PurgedEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_events_total",
				Help:      "Total number of events deleted by retention purge",
			},
		),

		PurgeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purge_errors_total",
				Help:      "Total number of failed retention purge runs",
			},
		),

		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_subscribers",
				Help:      "Number of active live event subscribers",
			},
		),
	}
}

// Registry 返回指标注册表（供 /metrics 暴露）
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCheck 记录一次检查结果
func (m *Metrics) ObserveCheck(monitor, kind, state string, stateOrdinal int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(monitor, state).Inc()
	m.ProbeDuration.WithLabelValues(monitor, kind).Observe(elapsed.Seconds())
	m.MonitorState.WithLabelValues(monitor).Set(float64(stateOrdinal))
}

// ObserveStateChange 记录一次状态变更
func (m *Metrics) ObserveStateChange(monitor, state string) {
	if m == nil {
		return
	}
	m.StateChanges.WithLabelValues(monitor, state).Inc()
}

// ObserveCheckIn 记录 check-in 调用结果
func (m *Metrics) ObserveCheckIn(result string) {
	if m == nil {
		return
	}
	m.CheckInsTotal.WithLabelValues(result).Inc()
}

// ObserveLoopPanic 记录监测循环中被恢复的 panic
func (m *Metrics) ObserveLoopPanic(monitor string) {
	if m == nil {
		return
	}
	m.LoopPanicTotal.WithLabelValues(monitor).Inc()
}

// ObserveCommit 记录一次提交
func (m *Metrics) ObserveCommit(err error, elapsed time.Duration, pending int) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.CommitsTotal.WithLabelValues(result).Inc()
	m.CommitDuration.Observe(elapsed.Seconds())
	m.PendingEvents.Set(float64(pending))
}

// ObserveDropped 记录因缓冲区已满而丢弃的事件
func (m *Metrics) ObserveDropped(monitor string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedEvents.WithLabelValues(monitor).Add(float64(n))
}

// ObservePurge 记录一次清理
func (m *Metrics) ObservePurge(deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PurgeErrors.Inc()
		return
	}
	m.PurgedEvents.Add(float64(deleted))
}

// SetSubscribers 更新实时订阅者数量
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}
