package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/monitor"
)

// scriptedProbe 依次返回预设状态，用完后重复最后一个
func scriptedProbe(states ...monitor.State) monitor.Prober {
	var mu sync.Mutex
	i := 0
	return monitor.ProberFunc(func(context.Context, time.Duration) monitor.Response {
		mu.Lock()
		defer mu.Unlock()
		s := states[min(i, len(states)-1)]
		i++
		return monitor.Response{State: s}
	})
}

func pullDescriptor(name string) monitor.Descriptor {
	return monitor.Descriptor{
		Name:             name,
		Kind:             monitor.KindHTTP,
		IntervalWhenUp:   time.Millisecond,
		IntervalWhenDown: time.Millisecond,
		Timeout:          time.Second,
	}
}

func startEngine(t *testing.T, e *Engine) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		for range e.Events() {
		}
	})
	return cancel, done
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("事件通道意外关闭")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("等待事件超时")
	}
	return events.Event{}
}

func TestStateChangedFiresOncePerTransition(t *testing.T) {
	e := NewEngine([]Monitor{{
		Descriptor: pullDescriptor("web"),
		Probe: scriptedProbe(monitor.StateUnknown, monitor.StateUp, monitor.StateUp,
			monitor.StateDown, monitor.StateDown, monitor.StateUp),
	}}, nil, Options{})
	startEngine(t, e)

	var changedAt []int
	checked := 0
	for checked < 6 {
		ev := nextEvent(t, e.Events())
		switch ev.Kind {
		case events.KindChecked:
			checked++
		case events.KindStateChanged:
			changedAt = append(changedAt, checked-1)
		}
	}
	// 第 6 次探测的 StateChanged 紧随其后
	if ev := nextEvent(t, e.Events()); ev.Kind == events.KindStateChanged {
		changedAt = append(changedAt, checked-1)
	}

	want := []int{1, 3, 5}
	if len(changedAt) != len(want) {
		t.Fatalf("StateChanged 位置应为 %v，实际 %v", want, changedAt)
	}
	for i := range want {
		if changedAt[i] != want[i] {
			t.Fatalf("StateChanged 位置应为 %v，实际 %v", want, changedAt)
		}
	}
}

func TestPullResponseTimeBackfilled(t *testing.T) {
	e := NewEngine([]Monitor{{
		Descriptor: pullDescriptor("web"),
		Probe: monitor.ProberFunc(func(context.Context, time.Duration) monitor.Response {
			time.Sleep(5 * time.Millisecond)
			return monitor.Response{State: monitor.StateUp}
		}),
	}}, nil, Options{})
	startEngine(t, e)

	ev := nextEvent(t, e.Events())
	if ev.Kind != events.KindChecked {
		t.Fatalf("首个事件应为 checked，实际 %s", ev.Kind)
	}
	if ev.Response.ResponseTime == nil || *ev.Response.ResponseTime < 5*time.Millisecond {
		t.Fatalf("未设置响应时间的探测应回填耗时，实际 %v", ev.Response.ResponseTime)
	}
}

func TestNextWait(t *testing.T) {
	pull := monitor.Descriptor{Name: "web", Kind: monitor.KindTCP, IntervalWhenUp: time.Minute, IntervalWhenDown: 10 * time.Second}
	push := monitor.Descriptor{Name: "job", Kind: monitor.KindCheckIn, IntervalToDown: 500 * time.Millisecond}

	registry := monitor.NewCheckInRegistry()
	now := time.Unix(1_700_000_000, 0)
	registry.SetClock(func() time.Time { return now })
	e := NewEngine([]Monitor{{Descriptor: pull}, {Descriptor: push}}, registry, Options{})

	tests := []struct {
		state monitor.State
		want  time.Duration
	}{
		{monitor.StateUp, time.Minute},
		{monitor.StateUnknown, time.Minute},
		{monitor.StateDown, 10 * time.Second},
		{monitor.StateWarn, 10 * time.Second},
		{monitor.StateDegraded, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.nextWait(&pull, tt.state); got != tt.want {
			t.Errorf("state=%s: 等待时长应为 %v，实际 %v", tt.state, tt.want, got)
		}
	}

	// 从未上报：按 IntervalToDown
	if got := e.nextWait(&push, monitor.StateDown); got != 500*time.Millisecond {
		t.Errorf("从未上报时应等待 IntervalToDown，实际 %v", got)
	}

	if err := registry.CheckIn("job", nil); err != nil {
		t.Fatal(err)
	}
	now = now.Add(100 * time.Millisecond)
	if got := e.nextWait(&push, monitor.StateUp); got != 401*time.Millisecond {
		t.Errorf("应等到截止时间后 1ms，实际 %v", got)
	}

	// 截止时间已过
	now = now.Add(time.Second)
	if got := e.nextWait(&push, monitor.StateDown); got != 500*time.Millisecond {
		t.Errorf("过期后应等待 IntervalToDown，实际 %v", got)
	}
}

func TestCancellationClosesSink(t *testing.T) {
	var queries atomic.Int32
	blocking := monitor.ProberFunc(func(ctx context.Context, _ time.Duration) monitor.Response {
		queries.Add(1)
		<-ctx.Done()
		return monitor.Response{State: monitor.StateDown, ResponseText: "canceled"}
	})

	e := NewEngine([]Monitor{
		{Descriptor: pullDescriptor("a"), Probe: blocking},
		{Descriptor: pullDescriptor("b"), Probe: blocking},
	}, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for queries.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run 返回错误: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后 Run 应及时返回")
	}

	// 取消后得到的结果应丢弃
	for ev := range e.Events() {
		t.Errorf("取消后不应发送事件: %+v", ev)
	}

	if err := e.Run(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("重复 Run 应返回 ErrAlreadyRunning，实际 %v", err)
	}
}

func TestSleepingLoopExitsWithoutFinalQuery(t *testing.T) {
	var queries atomic.Int32
	d := pullDescriptor("web")
	d.IntervalWhenUp = time.Hour

	e := NewEngine([]Monitor{{
		Descriptor: d,
		Probe: monitor.ProberFunc(func(context.Context, time.Duration) monitor.Response {
			queries.Add(1)
			return monitor.Response{State: monitor.StateUp}
		}),
	}}, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	nextEvent(t, e.Events()) // checked
	nextEvent(t, e.Events()) // state_changed
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("睡眠中的循环应立即退出")
	}
	for range e.Events() {
	}
	if got := queries.Load(); got != 1 {
		t.Errorf("应只探测 1 次，实际 %d", got)
	}
}

func TestProbePanicIsolated(t *testing.T) {
	e := NewEngine([]Monitor{
		{
			Descriptor: pullDescriptor("broken"),
			Probe: monitor.ProberFunc(func(context.Context, time.Duration) monitor.Response {
				panic("boom")
			}),
		},
		{Descriptor: pullDescriptor("healthy"), Probe: scriptedProbe(monitor.StateUp)},
	}, nil, Options{})
	startEngine(t, e)

	var sawBroken, sawHealthy bool
	for !(sawBroken && sawHealthy) {
		ev := nextEvent(t, e.Events())
		if ev.Kind != events.KindChecked {
			continue
		}
		switch ev.Name {
		case "broken":
			if ev.Response.State != monitor.StateDown || !strings.Contains(ev.Response.ResponseText, "probe panic: boom") {
				t.Fatalf("panic 应转换为 Down，实际 %+v", ev.Response)
			}
			sawBroken = true
		case "healthy":
			sawHealthy = true
		}
	}
}

func TestLoopPanicEmitsDown(t *testing.T) {
	e := NewEngine([]Monitor{
		{Descriptor: pullDescriptor("broken"), Probe: scriptedProbe(monitor.StateUp)},
	}, nil, Options{})
	e.now = func() time.Time { panic("clock") }
	startEngine(t, e)

	ev := nextEvent(t, e.Events())
	if ev.Kind != events.KindChecked || ev.Name != "broken" {
		t.Fatalf("应收到 broken 的 Checked 事件，实际 %+v", ev)
	}
	if ev.Response.State != monitor.StateDown || !strings.Contains(ev.Response.ResponseText, "loop panic: clock") {
		t.Fatalf("循环 panic 应记录为 Down，实际 %+v", ev.Response)
	}

	// 唯一的循环已结束，Run 返回并关闭事件通道
	select {
	case _, ok := <-e.Events():
		if ok {
			t.Fatal("循环 panic 后不应再有事件")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("循环 panic 后事件通道应关闭")
	}
}

func TestCheckInWatchdog(t *testing.T) {
	registry := monitor.NewCheckInRegistry()
	d := monitor.Descriptor{Name: "job", Kind: monitor.KindCheckIn, IntervalToDown: 500 * time.Millisecond}
	e := NewEngine([]Monitor{{Descriptor: d, Probe: registry.Watchdog("job", d.IntervalToDown)}}, registry, Options{})
	startEngine(t, e)

	// 启动时从未上报：Down
	if ev := nextEvent(t, e.Events()); ev.Response.State != monitor.StateDown {
		t.Fatalf("从未上报时应为 Down，实际 %s", ev.Response.State)
	}
	nextEvent(t, e.Events()) // state_changed → down

	start := time.Now()
	if res := e.CheckIn("job", nil, ""); res != CheckInOK {
		t.Fatalf("check-in 应成功，实际 %s", res)
	}

	// 上报应立即唤醒循环
	ev := nextEvent(t, e.Events())
	if ev.Response.State != monitor.StateUp {
		t.Fatalf("上报后应为 Up，实际 %s", ev.Response.State)
	}
	if waited := time.Since(start); waited > 250*time.Millisecond {
		t.Errorf("上报后应立即重新评估，实际等待 %v", waited)
	}
	nextEvent(t, e.Events()) // state_changed → up

	// t=400ms 再次上报，截止时间顺延到 t=900ms
	time.Sleep(400*time.Millisecond - time.Since(start))
	if res := e.CheckIn("job", &monitor.Response{State: monitor.StateUp, ResponseText: "ok"}, ""); res != CheckInOK {
		t.Fatalf("check-in 应成功，实际 %s", res)
	}

	for {
		ev := nextEvent(t, e.Events())
		if ev.Kind != events.KindChecked || ev.Response.State != monitor.StateDown {
			continue
		}
		if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
			t.Fatalf("不应早于 900ms 判定 Down，实际 %v", elapsed)
		}
		break
	}
}

func TestCheckInResults(t *testing.T) {
	registry := monitor.NewCheckInRegistry()
	push := monitor.Descriptor{Name: "job", Kind: monitor.KindCheckIn, IntervalToDown: time.Minute}
	open := monitor.Descriptor{Name: "open", Kind: monitor.KindCheckIn, IntervalToDown: time.Minute}
	e := NewEngine([]Monitor{
		{Descriptor: push, Probe: registry.Watchdog("job", time.Minute), Secret: "s3cret"},
		{Descriptor: open, Probe: registry.Watchdog("open", time.Minute)},
		{Descriptor: pullDescriptor("web"), Probe: scriptedProbe(monitor.StateUp)},
	}, registry, Options{})

	tests := []struct {
		name   string
		secret string
		want   CheckInResult
	}{
		{"missing", "", CheckInNotFound},
		{"web", "", CheckInNotCheckInMonitor},
		{"job", "wrong", CheckInInvalidSecret},
		{"job", "", CheckInInvalidSecret},
		{"job", "s3cret", CheckInOK},
		{"open", "", CheckInOK},
		{"open", "anything", CheckInOK},
	}
	for _, tt := range tests {
		if got := e.CheckIn(tt.name, nil, tt.secret); got != tt.want {
			t.Errorf("CheckIn(%q, %q) = %s，期望 %s", tt.name, tt.secret, got, tt.want)
		}
	}

	if _, ok := registry.LastCheckIn("job"); !ok {
		t.Error("成功的 check-in 应写入注册表")
	}

	e.UpdateSecrets(map[string]string{"job": "rotated", "web": "ignored"})
	if got := e.CheckIn("job", nil, "s3cret"); got != CheckInInvalidSecret {
		t.Errorf("密钥轮换后旧密钥应失效，实际 %s", got)
	}
	if got := e.CheckIn("job", nil, "rotated"); got != CheckInOK {
		t.Errorf("新密钥应生效，实际 %s", got)
	}
	if got := e.CheckIn("web", nil, "ignored"); got != CheckInNotCheckInMonitor {
		t.Errorf("拉取型监测项不应接受 check-in，实际 %s", got)
	}
}

func TestBuildMonitorsSkipsDisabled(t *testing.T) {
	cfg, err := config.Parse([]byte(`
monitors:
  - name: web
    type: http
    url: https://example.com
  - name: job
    type: checkin
    secret: abc
  - name: old
    type: tcp
    host: 127.0.0.1
    port: 22
    disabled: true
`))
	if err != nil {
		t.Fatalf("解析配置失败: %v", err)
	}

	registry := monitor.NewCheckInRegistry()
	pool := monitor.NewClientPool()
	defer pool.Close()

	monitors, err := BuildMonitors(cfg, pool, registry)
	if err != nil {
		t.Fatalf("构建监测项失败: %v", err)
	}
	if len(monitors) != 2 {
		t.Fatalf("停用的监测项应跳过，实际 %d 个", len(monitors))
	}
	if monitors[0].Descriptor.IntervalWhenUp != time.Minute {
		t.Errorf("应继承默认 interval_when_up，实际 %v", monitors[0].Descriptor.IntervalWhenUp)
	}
	if monitors[1].Secret != "abc" || !registry.Has("job") {
		t.Errorf("check-in 监测项应注册并携带密钥")
	}
}
