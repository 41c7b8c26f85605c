package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/monitor"
	"statuswatch/internal/storage"
)

type testEnv struct {
	svc     *Service
	store   *storage.EventStore
	backend *storage.SQLiteStorage
	hub     *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	if err := backend.Init(); err != nil {
		t.Fatalf("初始化存储失败: %v", err)
	}
	store := storage.NewEventStore(backend, &config.StorageConfig{CommitIntervalDuration: time.Hour}, nil)
	t.Cleanup(func() {
		_ = store.Close()
		_ = backend.Close()
	})

	hub := NewHub(16, nil)
	svc := NewService(store, storage.NewStatsEngine(store, 0), hub, 0, nil)
	return &testEnv{svc: svc, store: store, backend: backend, hub: hub}
}

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C:
		if !ok {
			t.Fatal("订阅已关闭")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("等待事件超时")
	}
	return Envelope{}
}

func TestRunPersistsAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	sub := env.svc.Subscribe()
	defer sub.Unsubscribe()

	at := time.Unix(1_700_000_000, 0)
	in := make(chan Event, 4)
	in <- Checked("web", at, monitor.Response{State: monitor.StateUp, ResponseTime: monitor.DurationPtr(120 * time.Millisecond), ResponseText: "HTTP 200"})
	in <- StateChanged("web", at, monitor.StateUp)
	in <- Checked("web", at.Add(time.Minute), monitor.Response{State: monitor.StateDown, ResponseText: "连接被拒绝"})
	in <- StateChanged("web", at.Add(time.Minute), monitor.StateDown)
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 取消后仍需处理完通道中的事件
	env.svc.Run(ctx, in)

	first := receive(t, sub)
	if first.Type != KindChecked || first.State == nil || *first.State != int(monitor.StateUp) {
		t.Fatalf("第一条应为 checked/up，实际 %+v", first)
	}
	if first.At != at.Unix() {
		t.Errorf("at 应为 Unix 秒 %d，实际 %d", at.Unix(), first.At)
	}
	if first.ResponseTimeMs == nil || *first.ResponseTimeMs != 120 {
		t.Errorf("response_time_ms 错误: %v", first.ResponseTimeMs)
	}
	if first.Stats == nil || first.Stats.SampleCount != 1 || first.Stats.Availability != 100 {
		t.Errorf("统计快照错误: %+v", first.Stats)
	}

	second := receive(t, sub)
	if second.Type != KindStateChanged || second.NewState == nil || *second.NewState != int(monitor.StateUp) {
		t.Fatalf("第二条应为 state_changed/up，实际 %+v", second)
	}
	if second.Stats != nil || second.State != nil {
		t.Errorf("state_changed 不应携带 state/stats: %+v", second)
	}

	third := receive(t, sub)
	if third.Stats == nil || third.Stats.Availability != 50 {
		t.Errorf("第二次探测后可用率应为 50，实际 %+v", third.Stats)
	}
	if third.ResponseTimeMs != nil {
		t.Errorf("无响应时间时应省略 response_time_ms")
	}
	receive(t, sub)

	events, err := env.svc.GetRecentEvents(context.Background(), "web", 10)
	if err != nil {
		t.Fatalf("读取事件失败: %v", err)
	}
	if len(events) != 2 || events[0].State != monitor.StateDown {
		t.Fatalf("应有 2 条事件且最新为 down，实际 %+v", events)
	}

	stats, err := env.svc.GetStats(context.Background(), "web", 0)
	if err != nil || stats == nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats.LastSeenUp == nil || !stats.LastSeenUp.Equal(at) {
		t.Errorf("LastSeenUp 错误: %v", stats.LastSeenUp)
	}
	if stats.LastSeenDown == nil || !stats.LastSeenDown.Equal(at.Add(time.Minute)) {
		t.Errorf("LastSeenDown 错误: %v", stats.LastSeenDown)
	}
}

func TestStateChangedToWarnKeepsLastSeen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	env.svc.Handle(ctx, StateChanged("web", at, monitor.StateWarn))
	env.svc.Handle(ctx, StateChanged("web", at, monitor.StateDegraded))

	ls, err := env.backend.GetLastSeen("web")
	if err != nil {
		t.Fatalf("读取 last-seen 失败: %v", err)
	}
	if ls != nil {
		t.Fatalf("Warn/Degraded 不应写入 last-seen，实际 %+v", ls)
	}

	stats, err := env.svc.GetStats(ctx, "web", 0)
	if err != nil {
		t.Fatalf("读取统计失败: %v", err)
	}
	if stats != nil {
		t.Fatalf("没有事件时统计应为 nil，实际 %+v", stats)
	}
}

func TestEnvelopeJSON(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)

	raw, err := json.Marshal(NewEnvelope(Checked("web", at, monitor.Response{State: monitor.StateUnknown}), nil))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["state"] != float64(0) {
		t.Errorf("Unknown 状态序号 0 不应被省略: %s", raw)
	}
	for _, key := range []string{"new_state", "response_time_ms", "response_text", "stats"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("不应包含字段 %s: %s", key, raw)
		}
	}

	raw, err = json.Marshal(NewEnvelope(StateChanged("web", at, monitor.StateDown), nil))
	if err != nil {
		t.Fatal(err)
	}
	decoded = nil
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "state_changed" || decoded["new_state"] != float64(2) {
		t.Errorf("state_changed 信封错误: %s", raw)
	}
}
