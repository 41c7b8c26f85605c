package storage

import (
	"context"
	"fmt"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/monitor"
)

// DefaultHistoryCount 默认的最近事件窗口大小
const DefaultHistoryCount = 60

// StoredEvent 一次检查的持久化记录（写入后不再修改，只会被清理删除）
type StoredEvent struct {
	At           time.Time
	State        monitor.State
	ResponseTime *time.Duration // nil 表示没有响应时间
	ResponseText string
}

// NamedEvent 带监测项名称的事件（批量提交用）
type NamedEvent struct {
	Name  string
	Event StoredEvent
}

// LastSeen 监测项最近一次进入 Up / Down 的时间
// 独立于事件窗口持久化，清理事件后仍然保留
type LastSeen struct {
	Name string
	Up   *time.Time
	Down *time.Time
}

// MonitorStats 由最近事件窗口与 last-seen 记录推导出的统计
type MonitorStats struct {
	Name                string
	LastState           monitor.State
	LastUpdate          time.Time
	Availability        float64        // 0..100
	AverageResponseTime *time.Duration // 窗口内没有响应时间时为 nil
	LastSeenUp          *time.Time
	LastSeenDown        *time.Time
	SampleCount         int
}

// Storage 持久化后端接口
//
// 索引依赖说明：
// - GetRecentEvents 依赖 (name, at_ms DESC) 索引
// - DeleteEventsBefore 为全表范围删除，依赖 at_ms 索引
type Storage interface {
	// Init 初始化存储（建表/建索引，幂等）
	Init() error

	// Close 关闭存储
	Close() error

	// WithContext 返回绑定指定 context 的存储实例
	// 用于支持请求级别的超时和取消，不修改原实例，便于并发请求安全复用
	WithContext(ctx context.Context) Storage

	// SaveEvents 在一个事务内批量写入事件
	SaveEvents(batch []NamedEvent) error

	// GetRecentEvents 获取最近 limit 条事件（按时间倒序）
	GetRecentEvents(name string, limit int) ([]StoredEvent, error)

	// DeleteEventsBefore 删除所有监测项中时间严格早于 cutoff 的事件，返回删除条数
	DeleteEventsBefore(cutoff time.Time) (int64, error)

	// GetLastSeen 获取 last-seen 记录，不存在时返回 nil
	GetLastSeen(name string) (*LastSeen, error)

	// TouchLastSeen 更新 last-seen 记录：Up 只更新 last_seen_up，Down 只更新 last_seen_down
	// 其它状态不做任何修改
	TouchLastSeen(name string, state monitor.State, at time.Time) error
}

// New 按配置创建并初始化存储后端
func New(cfg *config.StorageConfig) (Storage, error) {
	var (
		s   Storage
		err error
	)

	switch cfg.Type {
	case "postgres":
		s, err = NewPostgresStorage(&cfg.Postgres)
	case "sqlite", "":
		s, err = NewSQLiteStorage(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
