package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
)

// commitTimeout 单次提交的超时
const commitTimeout = 30 * time.Second

// EventStore 每个监测项一条只追加的事件日志
//
// Append 只写入内存缓冲，后台按 commit_interval 批量提交到持久化后端；
// 提交失败时整批放回缓冲头部，下一周期重试，不通知写入方。
// 未提交的数据在进程崩溃时可能丢失。
type EventStore struct {
	backend    Storage
	interval   time.Duration
	maxPending int
	metrics    *metrics.Metrics

	// mu 保护 pending（短临界区，不做 I/O）
	mu      sync.Mutex
	pending map[string][]StoredEvent // 按时间升序

	// commitMu 使读取与提交互斥：提交期间事件既不在缓冲也未落库，读取需等待
	commitMu sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	closeErr error
}

// NewEventStore 创建事件存储并启动后台提交循环
func NewEventStore(backend Storage, cfg *config.StorageConfig, m *metrics.Metrics) *EventStore {
	interval := cfg.CommitIntervalDuration
	if interval <= 0 {
		interval = time.Minute
	}
	maxPending := cfg.MaxPendingPerMonitor
	if maxPending <= 0 {
		maxPending = 10000
	}

	s := &EventStore{
		backend:    backend,
		interval:   interval,
		maxPending: maxPending,
		metrics:    m,
		pending:    make(map[string][]StoredEvent),
		stopCh:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.commitLoop()
	return s
}

// Backend 返回底层持久化后端
func (s *EventStore) Backend() Storage {
	return s.backend
}

// Append 追加一条事件（不阻塞于持久化）
func (s *EventStore) Append(name string, ev StoredEvent) {
	// 与持久化精度一致，缓冲中的事件同样只保留毫秒
	ev.At = fromMillis(toMillis(ev.At))

	s.mu.Lock()
	log := append(s.pending[name], ev)
	dropped := 0
	if over := len(log) - s.maxPending; over > 0 {
		dropped = over
		log = append([]StoredEvent(nil), log[over:]...)
	}
	s.pending[name] = log
	s.mu.Unlock()

	if dropped > 0 {
		logger.Warn("eventstore", "未提交事件超过上限，丢弃最旧事件",
			"monitor", name, "dropped", dropped, "max_pending", s.maxPending)
		s.metrics.ObserveDropped(name, dropped)
	}
}

// PendingCount 返回尚未提交的事件数
func (s *EventStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, log := range s.pending {
		n += len(log)
	}
	return n
}

// Flush 立即提交所有缓冲事件
func (s *EventStore) Flush(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	taken := s.pending
	s.pending = make(map[string][]StoredEvent, len(taken))
	s.mu.Unlock()

	if len(taken) == 0 {
		return nil
	}

	// 按名称排序，保证批次顺序稳定
	names := make([]string, 0, len(taken))
	total := 0
	for name, log := range taken {
		names = append(names, name)
		total += len(log)
	}
	sort.Strings(names)

	batch := make([]NamedEvent, 0, total)
	for _, name := range names {
		for _, ev := range taken[name] {
			batch = append(batch, NamedEvent{Name: name, Event: ev})
		}
	}

	start := time.Now()
	err := s.backend.WithContext(ctx).SaveEvents(batch)
	if err != nil {
		s.restore(taken)
	}
	s.metrics.ObserveCommit(err, time.Since(start), s.PendingCount())
	if err != nil {
		return err
	}

	logger.Debug("eventstore", "事件已提交", "events", total, "monitors", len(names), "elapsed", time.Since(start))
	return nil
}

// restore 将提交失败的批次放回缓冲头部（保持时间顺序）
func (s *EventStore) restore(taken map[string][]StoredEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, log := range taken {
		merged := append(log, s.pending[name]...)
		if over := len(merged) - s.maxPending; over > 0 {
			merged = merged[over:]
		}
		s.pending[name] = merged
	}
}

// ReadRecent 读取最近 count 条事件（倒序），包含尚未提交的事件
// 可重复调用，结果有限
func (s *EventStore) ReadRecent(ctx context.Context, name string, count int) ([]StoredEvent, error) {
	if count <= 0 {
		count = DefaultHistoryCount
	}

	s.commitMu.RLock()
	defer s.commitMu.RUnlock()

	s.mu.Lock()
	pending := append([]StoredEvent(nil), s.pending[name]...)
	s.mu.Unlock()

	reverseEvents(pending)
	if len(pending) >= count {
		return pending[:count], nil
	}

	committed, err := s.backend.WithContext(ctx).GetRecentEvents(name, count-len(pending))
	if err != nil {
		return nil, err
	}
	return append(pending, committed...), nil
}

// PurgeOlderThan 删除时间严格早于 cutoff 的事件（缓冲与已提交），返回删除条数
func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	cutoffMs := cutoffMillis(cutoff)
	var dropped int64
	s.mu.Lock()
	for name, log := range s.pending {
		keep := log[:0:0]
		for _, ev := range log {
			if toMillis(ev.At) >= cutoffMs {
				keep = append(keep, ev)
			}
		}
		dropped += int64(len(log) - len(keep))
		if len(keep) == 0 {
			delete(s.pending, name)
		} else {
			s.pending[name] = keep
		}
	}
	s.mu.Unlock()

	deleted, err := s.backend.WithContext(ctx).DeleteEventsBefore(cutoff)
	if err != nil {
		return dropped, err
	}
	return dropped + deleted, nil
}

// commitLoop 后台定时提交
func (s *EventStore) commitLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.commitOnce()
		case <-s.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
			s.closeErr = s.Flush(ctx)
			cancel()
			if s.closeErr != nil {
				logger.Error("eventstore", "关闭前提交事件失败", "error", s.closeErr, "pending", s.PendingCount())
			}
			return
		}
	}
}

func (s *EventStore) commitOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		logger.Warn("eventstore", "提交事件失败，将在下一周期重试", "error", err, "pending", s.PendingCount())
	}
}

// Close 停止后台循环并做最后一次提交（幂等）
func (s *EventStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	return s.closeErr
}
