package scheduler

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
	"statuswatch/internal/monitor"
)

// defaultSinkBuffer 事件通道默认缓冲大小
const defaultSinkBuffer = 256

// ErrAlreadyRunning Run 只能调用一次
var ErrAlreadyRunning = errors.New("engine 已在运行")

// Monitor 一个待调度的监测项
type Monitor struct {
	Descriptor monitor.Descriptor
	Probe      monitor.Prober
	Secret     string // 仅 check-in 使用；为空表示无需密钥
}

// CheckInResult check-in 入口的结果
type CheckInResult int

const (
	CheckInOK CheckInResult = iota
	CheckInNotFound
	CheckInNotCheckInMonitor
	CheckInInvalidSecret
)

func (r CheckInResult) String() string {
	switch r {
	case CheckInOK:
		return "ok"
	case CheckInNotFound:
		return "not_found"
	case CheckInNotCheckInMonitor:
		return "not_checkin_monitor"
	case CheckInInvalidSecret:
		return "invalid_secret"
	default:
		return "unknown"
	}
}

// Options Engine 可选参数
type Options struct {
	SinkBuffer int
	Metrics    *metrics.Metrics
}

// Engine 监测编排器
// 每个监测项一个独立 goroutine，全部写入同一个事件通道；
// 所有循环退出后（Run 返回前）关闭事件通道
type Engine struct {
	monitors []*Monitor
	byName   map[string]*Monitor
	registry *monitor.CheckInRegistry
	metrics  *metrics.Metrics
	sink     chan events.Event
	now      func() time.Time

	secretsMu sync.RWMutex
	secrets   map[string]string

	started atomic.Bool
}

// NewEngine 创建编排器；registry 可为 nil（没有 check-in 监测项时）
func NewEngine(monitors []Monitor, registry *monitor.CheckInRegistry, opts Options) *Engine {
	buffer := opts.SinkBuffer
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	if registry == nil {
		registry = monitor.NewCheckInRegistry()
	}

	e := &Engine{
		monitors: make([]*Monitor, 0, len(monitors)),
		byName:   make(map[string]*Monitor, len(monitors)),
		registry: registry,
		metrics:  opts.Metrics,
		sink:     make(chan events.Event, buffer),
		now:      time.Now,
		secrets:  make(map[string]string),
	}
	for i := range monitors {
		m := monitors[i]
		e.monitors = append(e.monitors, &m)
		e.byName[m.Descriptor.Name] = &m
		if m.Descriptor.Kind.IsPush() {
			e.registry.Register(m.Descriptor.Name)
			e.secrets[m.Descriptor.Name] = m.Secret
		}
	}
	return e
}

// Events 返回事件通道（多生产者单消费者），Run 结束时关闭
func (e *Engine) Events() <-chan events.Event {
	return e.sink
}

// Registry 返回 check-in 注册表
func (e *Engine) Registry() *monitor.CheckInRegistry {
	return e.registry
}

// Descriptors 返回所有监测项描述（配置顺序）
func (e *Engine) Descriptors() []monitor.Descriptor {
	out := make([]monitor.Descriptor, 0, len(e.monitors))
	for _, m := range e.monitors {
		out = append(out, m.Descriptor)
	}
	return out
}

// Descriptor 按名称查找监测项描述
func (e *Engine) Descriptor(name string) (monitor.Descriptor, bool) {
	m, ok := e.byName[name]
	if !ok {
		return monitor.Descriptor{}, false
	}
	return m.Descriptor, true
}

// Run 启动所有监测循环并阻塞，直到 ctx 取消且所有循环退出
// 返回前关闭事件通道
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.sink)

	logger.Info("scheduler", "监测引擎已启动", "monitors", len(e.monitors))

	var g errgroup.Group
	for _, m := range e.monitors {
		g.Go(func() error {
			e.runLoop(ctx, m)
			return nil
		})
	}
	err := g.Wait()

	logger.Info("scheduler", "所有监测循环已退出")
	return err
}

// CheckIn check-in 入口：校验监测项与密钥后记录上报并唤醒对应循环
func (e *Engine) CheckIn(name string, resp *monitor.Response, secret string) CheckInResult {
	result := e.checkIn(name, resp, secret)
	e.metrics.ObserveCheckIn(result.String())
	if result != CheckInOK {
		logger.Warn("scheduler", "check-in 被拒绝", "monitor", name, "result", result.String())
	}
	return result
}

func (e *Engine) checkIn(name string, resp *monitor.Response, secret string) CheckInResult {
	m, ok := e.byName[name]
	if !ok {
		return CheckInNotFound
	}
	if !m.Descriptor.Kind.IsPush() {
		return CheckInNotCheckInMonitor
	}

	e.secretsMu.RLock()
	expected := e.secrets[name]
	e.secretsMu.RUnlock()
	if expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(secret)) != 1 {
		return CheckInInvalidSecret
	}

	if err := e.registry.CheckIn(name, resp); err != nil {
		if errors.Is(err, monitor.ErrMonitorNotFound) {
			return CheckInNotFound
		}
		logger.Error("scheduler", "记录 check-in 失败", "monitor", name, "error", err)
		return CheckInNotFound
	}
	return CheckInOK
}

// UpdateSecrets 热更新 check-in 密钥；只影响已存在的 check-in 监测项
func (e *Engine) UpdateSecrets(secrets map[string]string) {
	e.secretsMu.Lock()
	defer e.secretsMu.Unlock()

	updated := 0
	for name := range e.secrets {
		secret, ok := secrets[name]
		if !ok {
			continue
		}
		if e.secrets[name] != secret {
			updated++
		}
		e.secrets[name] = secret
	}
	if updated > 0 {
		logger.Info("scheduler", "check-in 密钥已更新", "count", updated)
	}
}
