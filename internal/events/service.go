package events

import (
	"context"
	"time"

	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
	"statuswatch/internal/monitor"
	"statuswatch/internal/storage"
)

// handleTimeout 处理单条事件时存储操作的超时
const handleTimeout = 10 * time.Second

// Service 事件服务
// 消费监测循环的事件通道：持久化、维护 last-seen、补充统计快照后广播
type Service struct {
	store        *storage.EventStore
	stats        *storage.StatsEngine
	hub          *Hub
	historyCount int
	metrics      *metrics.Metrics
}

// NewService 创建事件服务
func NewService(store *storage.EventStore, stats *storage.StatsEngine, hub *Hub, historyCount int, m *metrics.Metrics) *Service {
	if historyCount <= 0 {
		historyCount = storage.DefaultHistoryCount
	}
	return &Service{
		store:        store,
		stats:        stats,
		hub:          hub,
		historyCount: historyCount,
		metrics:      m,
	}
}

// Run 消费事件直到通道关闭（阻塞）
// 关闭时序由发送方决定：ctx 取消后仍会处理完通道中剩余的事件
func (s *Service) Run(ctx context.Context, in <-chan Event) {
	base := context.WithoutCancel(ctx)
	for ev := range in {
		s.Handle(base, ev)
	}
	logger.Info("events", "事件通道已关闭，消费者退出")
}

// Handle 处理单条事件；失败只记录日志，不中断消费
func (s *Service) Handle(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch ev.Kind {
	case KindChecked:
		s.store.Append(ev.Name, storage.StoredEvent{
			At:           ev.At,
			State:        ev.Response.State,
			ResponseTime: ev.Response.ResponseTime,
			ResponseText: ev.Response.ResponseText,
		})

		stats, err := s.stats.ComputeStats(ctx, ev.Name, s.historyCount)
		if err != nil {
			logger.Warn("events", "计算统计失败，本次推送不附带统计", "monitor", ev.Name, "error", err)
		}
		s.hub.Publish(NewEnvelope(ev, stats))

	case KindStateChanged:
		newState := ev.Response.State
		if newState == monitor.StateUp || newState == monitor.StateDown {
			if err := s.stats.TouchLastSeen(ctx, ev.Name, newState, ev.At); err != nil {
				logger.Error("events", "更新 last-seen 失败",
					"monitor", ev.Name, "state", newState.String(), "error", err)
			}
		}
		logger.Info("events", "状态变更事件", "monitor", ev.Name, "new_state", newState.String())
		s.hub.Publish(NewEnvelope(ev, nil))

	default:
		logger.Warn("events", "忽略未知事件类型", "kind", ev.Kind, "monitor", ev.Name)
	}
}

// GetStats 返回监测项统计；historyCount <= 0 时使用默认窗口
func (s *Service) GetStats(ctx context.Context, name string, historyCount int) (*storage.MonitorStats, error) {
	if historyCount <= 0 {
		historyCount = s.historyCount
	}
	return s.stats.ComputeStats(ctx, name, historyCount)
}

// GetRecentEvents 返回最近 count 条事件（倒序）
func (s *Service) GetRecentEvents(ctx context.Context, name string, count int) ([]storage.StoredEvent, error) {
	if count <= 0 {
		count = s.historyCount
	}
	return s.store.ReadRecent(ctx, name, count)
}

// Subscribe 订阅实时事件
func (s *Service) Subscribe() *Subscription {
	return s.hub.Subscribe()
}
