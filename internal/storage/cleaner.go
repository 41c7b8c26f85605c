package storage

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
)

// maxLockRetries SQLite 锁冲突时单轮最多重试次数
const maxLockRetries = 5

// Cleaner 历史事件清理任务调度器
// 负责定期删除超过保留期的事件，避免数据库无限增长；last-seen 记录不受影响
type Cleaner struct {
	events  *EventStore
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	config config.RetentionConfig

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleaner 创建清理任务调度器
func NewCleaner(events *EventStore, cfg *config.RetentionConfig, m *metrics.Metrics) *Cleaner {
	return &Cleaner{
		events:  events,
		metrics: m,
		now:     time.Now,
		config:  *cfg,
		stopCh:  make(chan struct{}),
	}
}

// UpdateConfig 热更新保留策略（下一轮生效）
func (c *Cleaner) UpdateConfig(cfg *config.RetentionConfig) {
	c.mu.Lock()
	c.config = *cfg
	c.mu.Unlock()
	logger.Info("cleaner", "清理配置已更新",
		"enabled", cfg.IsEnabled(), "period", cfg.PeriodDuration, "schedule", cfg.Schedule)
}

func (c *Cleaner) snapshot() config.RetentionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// PurgeOlderThan 删除时间严格早于 now - retention 的事件，返回删除条数
// retention <= 0 时不做任何事
func (c *Cleaner) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-retention)
	return c.events.PurgeOlderThan(ctx, cutoff)
}

// Start 启动清理任务（阻塞，应在 goroutine 中调用）
func (c *Cleaner) Start(ctx context.Context) {
	cfg := c.snapshot()

	// 启动延迟 + jitter
	delay := withJitter(cfg.StartupDelayDuration, cfg.Jitter)
	logger.Info("cleaner", "清理任务将在延迟后启动",
		"enabled", cfg.IsEnabled(),
		"delay", delay,
		"period", cfg.PeriodDuration,
		"cleanup_interval", cfg.CleanupIntervalDuration,
		"schedule", cfg.Schedule)

	if !c.wait(ctx, delay) {
		return
	}

	// 首次立即执行一次
	c.runCleanup(ctx)

	for {
		if !c.wait(ctx, c.nextDelay()) {
			return
		}
		c.runCleanup(ctx)
	}
}

// wait 等待 d，返回 false 表示收到停止信号
func (c *Cleaner) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		logger.Info("cleaner", "清理任务收到取消信号，正在退出")
		return false
	case <-c.stopCh:
		logger.Info("cleaner", "清理任务收到停止信号，正在退出")
		return false
	}
}

// nextDelay 计算下一轮等待时长：配置了 cron 表达式时按表达式（UTC），否则按间隔 + jitter
func (c *Cleaner) nextDelay() time.Duration {
	cfg := c.snapshot()

	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err == nil {
			now := c.now().UTC()
			return sched.Next(now).Sub(now)
		}
		logger.Warn("cleaner", "cron 表达式无效，回退到 cleanup_interval", "schedule", cfg.Schedule, "error", err)
	}

	interval := cfg.CleanupIntervalDuration
	if interval <= 0 {
		interval = time.Hour
	}
	return withJitter(interval, cfg.Jitter)
}

// Stop 停止清理任务（幂等，可重复调用）
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// runCleanup 执行一轮清理
func (c *Cleaner) runCleanup(ctx context.Context) {
	cfg := c.snapshot()
	if !cfg.IsEnabled() {
		logger.Debug("cleaner", "数据清理已禁用，跳过本轮")
		return
	}

	// 防止重入
	if !c.running.CompareAndSwap(false, true) {
		logger.Info("cleaner", "清理任务仍在运行，跳过本轮")
		return
	}
	defer c.running.Store(false)

	startTime := time.Now()
	backoff := 50 * time.Millisecond

	for attempt := 0; ; attempt++ {
		deleted, err := c.PurgeOlderThan(ctx, cfg.PeriodDuration)
		if err == nil {
			c.metrics.ObservePurge(deleted, nil)
			if deleted > 0 {
				logger.Info("cleaner", "历史事件清理完成",
					"deleted", deleted,
					"elapsed", time.Since(startTime),
					"period", cfg.PeriodDuration)
			}
			return
		}

		// 优雅关闭时 context 被取消，降级为 Info 避免噪声
		if ctx.Err() != nil {
			logger.Info("cleaner", "清理任务被取消")
			return
		}

		// SQLite 锁冲突时指数退避重试
		if strings.Contains(err.Error(), "database is locked") && attempt < maxLockRetries {
			logger.Warn("cleaner", "数据库锁冲突，等待重试", "backoff", backoff)
			if !c.wait(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}

		c.metrics.ObservePurge(0, err)
		logger.Error("cleaner", "清理任务失败，将在下一轮重试", "error", err)
		return
	}
}

// withJitter 在 d 上叠加 ±jitter 比例的随机抖动
func withJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*jitter*(rand.Float64()*2-1))
}
