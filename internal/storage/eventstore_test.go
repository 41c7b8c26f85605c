package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statuswatch/internal/config"
	"statuswatch/internal/monitor"
)

var baseTime = time.UnixMilli(1_700_000_000_000)

func newTestBackend(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T, backend Storage, maxPending int) *EventStore {
	t.Helper()
	cfg := &config.StorageConfig{
		CommitIntervalDuration: time.Hour, // 测试中手动 Flush
		MaxPendingPerMonitor:   maxPending,
	}
	store := NewEventStore(backend, cfg, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func eventAt(offset time.Duration, state monitor.State) StoredEvent {
	return StoredEvent{At: baseTime.Add(offset), State: state}
}

// flakyBackend 可注入写入失败的后端
type flakyBackend struct {
	Storage
	mu   sync.Mutex
	fail bool
}

func (f *flakyBackend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyBackend) WithContext(context.Context) Storage { return f }

func (f *flakyBackend) SaveEvents(batch []NamedEvent) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Storage.SaveEvents(batch)
}

func TestReadRecentMergesPendingAndCommitted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestBackend(t), 0)

	for i := 0; i < 3; i++ {
		store.Append("web", eventAt(time.Duration(i)*time.Second, monitor.StateUp))
	}
	require.NoError(t, store.Flush(ctx))
	assert.Equal(t, 0, store.PendingCount())

	store.Append("web", eventAt(3*time.Second, monitor.StateDown))
	store.Append("web", eventAt(4*time.Second, monitor.StateUp))

	got, err := store.ReadRecent(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, ev := range got {
		want := baseTime.Add(time.Duration(4-i) * time.Second)
		assert.True(t, ev.At.Equal(want), "第 %d 条事件时间错误: %v", i, ev.At)
	}
	assert.Equal(t, monitor.StateDown, got[1].State)

	// 只需要缓冲中的数据时不访问后端
	onlyPending, err := store.ReadRecent(ctx, "web", 2)
	require.NoError(t, err)
	require.Len(t, onlyPending, 2)
	assert.True(t, onlyPending[0].At.Equal(baseTime.Add(4*time.Second)))

	// 重复读取结果一致
	again, err := store.ReadRecent(ctx, "web", 10)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestReadRecentIsBounded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestBackend(t), 0)

	for i := 0; i < 100; i++ {
		store.Append("web", eventAt(time.Duration(i)*time.Second, monitor.StateUp))
		if i == 49 {
			require.NoError(t, store.Flush(ctx))
		}
	}

	got, err := store.ReadRecent(ctx, "web", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultHistoryCount)
	assert.True(t, got[0].At.Equal(baseTime.Add(99*time.Second)))
	assert.True(t, got[DefaultHistoryCount-1].At.Equal(baseTime.Add(40*time.Second)))

	other, err := store.ReadRecent(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCommitFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Storage: newTestBackend(t)}
	store := newTestStore(t, backend, 0)

	store.Append("web", eventAt(0, monitor.StateUp))
	store.Append("web", eventAt(time.Second, monitor.StateDown))

	backend.setFail(true)
	require.Error(t, store.Flush(ctx))
	assert.Equal(t, 2, store.PendingCount(), "失败的批次应放回缓冲")

	// 失败期间继续追加，顺序保持
	store.Append("web", eventAt(2*time.Second, monitor.StateUp))
	got, err := store.ReadRecent(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].At.Equal(baseTime.Add(2*time.Second)))
	assert.True(t, got[2].At.Equal(baseTime))

	backend.setFail(false)
	require.NoError(t, store.Flush(ctx))
	assert.Equal(t, 0, store.PendingCount())

	committed, err := backend.Storage.GetRecentEvents("web", 10)
	require.NoError(t, err)
	assert.Len(t, committed, 3)
}

func TestAppendDropsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestBackend(t), 3)

	for i := 0; i < 5; i++ {
		store.Append("web", eventAt(time.Duration(i)*time.Second, monitor.StateUp))
	}
	assert.Equal(t, 3, store.PendingCount())

	got, err := store.ReadRecent(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[2].At.Equal(baseTime.Add(2*time.Second)), "应丢弃最旧的事件")
}

func TestCloseFlushesPending(t *testing.T) {
	backend := newTestBackend(t)
	store := NewEventStore(backend, &config.StorageConfig{CommitIntervalDuration: time.Hour}, nil)

	store.Append("web", eventAt(0, monitor.StateUp))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "Close 应幂等")

	got, err := backend.GetRecentEvents("web", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBackgroundCommit(t *testing.T) {
	backend := newTestBackend(t)
	store := NewEventStore(backend, &config.StorageConfig{CommitIntervalDuration: 20 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = store.Close() })

	store.Append("web", eventAt(0, monitor.StateUp))
	require.Eventually(t, func() bool {
		got, err := backend.GetRecentEvents("web", 10)
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStoredEventOptionalFields(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	store := newTestStore(t, backend, 0)

	rt := 150 * time.Millisecond
	store.Append("web", StoredEvent{At: baseTime, State: monitor.StateUp, ResponseTime: &rt, ResponseText: "HTTP 200"})
	store.Append("web", StoredEvent{At: baseTime.Add(time.Second), State: monitor.StateDown})
	require.NoError(t, store.Flush(ctx))

	got, err := backend.GetRecentEvents("web", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Nil(t, got[0].ResponseTime)
	assert.Empty(t, got[0].ResponseText)
	require.NotNil(t, got[1].ResponseTime)
	assert.Equal(t, rt, *got[1].ResponseTime)
	assert.Equal(t, "HTTP 200", got[1].ResponseText)
}
