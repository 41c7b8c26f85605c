package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(names ...string) (*CheckInRegistry, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewCheckInRegistry()
	r.SetClock(clock.Now)
	for _, n := range names {
		r.Register(n)
	}
	return r, clock
}

func TestCheckInUnknownMonitor(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry("backup")
	err := r.CheckIn("missing", nil)
	if !errors.Is(err, ErrMonitorNotFound) {
		t.Fatalf("期望 ErrMonitorNotFound，got=%v", err)
	}
	if r.Wake("missing") != nil {
		t.Fatalf("未注册监测项的唤醒通道应为 nil")
	}
}

func TestWatchdogNeverCheckedInIsDown(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry("backup")
	resp := r.Watchdog("backup", time.Minute).Query(context.Background(), time.Second)
	if resp.State != StateDown {
		t.Fatalf("从未上报应为 Down，got=%v", resp.State)
	}
}

func TestWatchdogDeadline(t *testing.T) {
	t.Parallel()

	const interval = 500 * time.Millisecond
	r, clock := newTestRegistry("job")
	probe := r.Watchdog("job", interval)
	query := func() State { return probe.Query(context.Background(), 0).State }

	// t=0 上报
	if err := r.CheckIn("job", nil); err != nil {
		t.Fatalf("CheckIn 失败: %v", err)
	}
	if got := query(); got != StateUp {
		t.Fatalf("t=0 应为 Up，got=%v", got)
	}

	// t=400ms 再次上报，截止时间推迟到 t=900ms
	clock.Advance(400 * time.Millisecond)
	if err := r.CheckIn("job", nil); err != nil {
		t.Fatalf("CheckIn 失败: %v", err)
	}
	deadline, ok := r.Deadline("job", interval)
	if !ok {
		t.Fatalf("应存在截止时间")
	}
	clock.Advance(100 * time.Millisecond) // t=500ms
	if got := query(); got != StateUp {
		t.Fatalf("t=500ms 已重置截止时间，应为 Up，got=%v", got)
	}
	if want := time.Unix(1_700_000_000, 0).Add(900 * time.Millisecond); !deadline.Equal(want) {
		t.Fatalf("截止时间错误: got=%v want=%v", deadline, want)
	}

	clock.Advance(401 * time.Millisecond) // t=901ms
	if got := query(); got != StateDown {
		t.Fatalf("超过截止时间应为 Down，got=%v", got)
	}
}

func TestCheckInKeepsReportedResponse(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry("job")
	reported := Response{State: StateWarn, ResponseTime: DurationPtr(3 * time.Second), ResponseText: "slow run"}
	if err := r.CheckIn("job", &reported); err != nil {
		t.Fatalf("CheckIn 失败: %v", err)
	}
	reported.ResponseText = "mutated"

	got := r.Watchdog("job", time.Minute).Query(context.Background(), 0)
	if got.State != StateWarn || got.ResponseText != "slow run" || *got.ResponseTime != 3*time.Second {
		t.Fatalf("应返回上报内容的副本，got=%+v", got)
	}
}

func TestCheckInWakeCoalesces(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry("job")
	wake := r.Wake("job")
	for i := 0; i < 5; i++ {
		if err := r.CheckIn("job", nil); err != nil {
			t.Fatalf("CheckIn 失败: %v", err)
		}
	}

	select {
	case <-wake:
	default:
		t.Fatalf("CheckIn 后应有唤醒信号")
	}
	select {
	case <-wake:
		t.Fatalf("多次唤醒应合并为一次")
	default:
	}
}

func TestUntil(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry("job")
	if _, ok := r.Until("job", time.Second); ok {
		t.Fatalf("从未上报时不应有剩余时长")
	}
	_ = r.CheckIn("job", nil)
	clock.Advance(300 * time.Millisecond)
	if d, _ := r.Until("job", time.Second); d != 700*time.Millisecond {
		t.Fatalf("剩余时长错误: %v", d)
	}
	clock.Advance(time.Second)
	if d, _ := r.Until("job", time.Second); d != 0 {
		t.Fatalf("过期后剩余时长应为 0，got=%v", d)
	}
}
