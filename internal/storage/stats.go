package storage

import (
	"context"
	"time"

	"statuswatch/internal/monitor"
)

// StatsEngine 从最近事件窗口与 last-seen 记录推导统计
type StatsEngine struct {
	events       *EventStore
	historyCount int
}

// NewStatsEngine 创建统计引擎
func NewStatsEngine(events *EventStore, historyCount int) *StatsEngine {
	if historyCount <= 0 {
		historyCount = DefaultHistoryCount
	}
	return &StatsEngine{events: events, historyCount: historyCount}
}

// ComputeStats 计算监测项统计；没有任何事件且没有 last-seen 记录时返回 nil
// historyCount <= 0 时使用默认窗口
func (e *StatsEngine) ComputeStats(ctx context.Context, name string, historyCount int) (*MonitorStats, error) {
	if historyCount <= 0 {
		historyCount = e.historyCount
	}

	window, err := e.events.ReadRecent(ctx, name, historyCount)
	if err != nil {
		return nil, err
	}
	lastSeen, err := e.events.Backend().WithContext(ctx).GetLastSeen(name)
	if err != nil {
		return nil, err
	}

	if len(window) == 0 && lastSeen == nil {
		return nil, nil
	}

	stats := &MonitorStats{
		Name:         name,
		LastState:    monitor.StateUnknown,
		SampleCount:  len(window),
		Availability: Availability(window),
	}
	stats.AverageResponseTime = AverageResponseTime(window)
	if len(window) > 0 {
		stats.LastState = window[0].State
		stats.LastUpdate = window[0].At
	}
	if lastSeen != nil {
		stats.LastSeenUp = lastSeen.Up
		stats.LastSeenDown = lastSeen.Down
	}
	return stats, nil
}

// TouchLastSeen 在状态变更为 Up / Down 时更新 last-seen 记录
func (e *StatsEngine) TouchLastSeen(ctx context.Context, name string, state monitor.State, at time.Time) error {
	return e.events.Backend().WithContext(ctx).TouchLastSeen(name, state, at)
}

// Availability 可用率 = 100 * (relevant - down) / relevant
// relevant 为窗口中状态属于 {Up, Down, Warn, Degraded} 的事件数；为 0 时返回 100
func Availability(window []StoredEvent) float64 {
	relevant, down := 0, 0
	for _, ev := range window {
		switch ev.State {
		case monitor.StateUp, monitor.StateWarn, monitor.StateDegraded:
			relevant++
		case monitor.StateDown:
			relevant++
			down++
		}
	}
	if relevant == 0 {
		return 100
	}
	return 100 * float64(relevant-down) / float64(relevant)
}

// AverageResponseTime 对带响应时间的事件求平均；没有响应时间的事件不参与计算
// 窗口内一个响应时间都没有时返回 nil
func AverageResponseTime(window []StoredEvent) *time.Duration {
	var (
		sum time.Duration
		n   int
	)
	for _, ev := range window {
		if ev.ResponseTime == nil {
			continue
		}
		sum += *ev.ResponseTime
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / time.Duration(n)
	return &avg
}
