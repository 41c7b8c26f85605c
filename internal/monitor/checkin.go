package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMonitorNotFound 监测项不存在（或不是 check-in 类型）
var ErrMonitorNotFound = errors.New("监测项不存在")

// checkInEntry 单个推送型监测项的最近一次上报
type checkInEntry struct {
	mu     sync.Mutex
	seen   bool
	lastAt time.Time
	last   *Response
	wake   chan struct{} // 容量 1，合并多次唤醒
}

// CheckInRegistry 保存推送型监测项的最近上报状态
// CheckIn 可被任意 goroutine 并发调用；监测循环通过 Wake 通道被立即唤醒
type CheckInRegistry struct {
	mu      sync.RWMutex
	entries map[string]*checkInEntry
	now     func() time.Time
}

// NewCheckInRegistry 创建注册表
func NewCheckInRegistry() *CheckInRegistry {
	return &CheckInRegistry{
		entries: make(map[string]*checkInEntry),
		now:     time.Now,
	}
}

// SetClock 替换时间源（测试用）
func (r *CheckInRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *CheckInRegistry) clock() time.Time {
	r.mu.RLock()
	now := r.now
	r.mu.RUnlock()
	return now()
}

// Register 注册推送型监测项（重复注册保持原有状态）
func (r *CheckInRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return
	}
	r.entries[name] = &checkInEntry{wake: make(chan struct{}, 1)}
}

// Has 是否已注册
func (r *CheckInRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

func (r *CheckInRegistry) entry(name string) (*checkInEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMonitorNotFound, name)
	}
	return e, nil
}

// CheckIn 记录一次上报（resp 为 nil 时视为 Up），并唤醒对应监测循环立即重新评估
// 调用方负责密钥校验
func (r *CheckInRegistry) CheckIn(name string, resp *Response) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}
	now := r.clock()

	e.mu.Lock()
	e.seen = true
	e.lastAt = now
	if resp != nil {
		copied := *resp
		e.last = &copied
	} else {
		e.last = nil
	}
	e.mu.Unlock()

	// 非阻塞：已有未消费的唤醒信号时直接合并
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake 返回监测项的唤醒通道；未注册时返回 nil（永不就绪）
func (r *CheckInRegistry) Wake(name string) <-chan struct{} {
	e, err := r.entry(name)
	if err != nil {
		return nil
	}
	return e.wake
}

// LastCheckIn 返回最近一次上报时间
func (r *CheckInRegistry) LastCheckIn(name string) (time.Time, bool) {
	e, err := r.entry(name)
	if err != nil {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAt, e.seen
}

// Deadline 返回看门狗截止时间（最近上报 + intervalToDown）；从未上报时返回 false
func (r *CheckInRegistry) Deadline(name string, intervalToDown time.Duration) (time.Time, bool) {
	last, ok := r.LastCheckIn(name)
	if !ok {
		return time.Time{}, false
	}
	return last.Add(intervalToDown), true
}

// Until 返回距离截止时间的时长（已过期时为 0）
func (r *CheckInRegistry) Until(name string, intervalToDown time.Duration) (time.Duration, bool) {
	deadline, ok := r.Deadline(name, intervalToDown)
	if !ok {
		return 0, false
	}
	d := deadline.Sub(r.clock())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Watchdog 返回推送型监测项的"探测器"：只读取注册表，不发起网络调用
func (r *CheckInRegistry) Watchdog(name string, intervalToDown time.Duration) Prober {
	return ProberFunc(func(context.Context, time.Duration) Response {
		return r.evaluate(name, intervalToDown)
	})
}

// evaluate 从未上报或上报已超过 intervalToDown 时判定 Down，否则返回最近上报内容
func (r *CheckInRegistry) evaluate(name string, intervalToDown time.Duration) Response {
	e, err := r.entry(name)
	if err != nil {
		return Response{State: StateUnknown, ResponseText: err.Error()}
	}
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.seen {
		return Response{State: StateDown, ResponseText: "尚未收到 check-in"}
	}
	if since := now.Sub(e.lastAt); since > intervalToDown {
		return Response{
			State:        StateDown,
			ResponseText: fmt.Sprintf("已 %s 未收到 check-in（上限 %s）", since.Truncate(time.Millisecond), intervalToDown),
		}
	}
	if e.last != nil {
		return *e.last
	}
	return Response{State: StateUp}
}
