package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/monitor"
)

// runLoop 单个监测项的调度循环：立即探测一次，之后按结果计算下一次等待时长
// check-in 监测项额外在收到上报时立即重新评估
func (e *Engine) runLoop(ctx context.Context, m *Monitor) {
	d := &m.Descriptor
	defer func() {
		if r := recover(); r != nil {
			e.metrics.ObserveLoopPanic(d.Name)
			logger.Error("scheduler", "监测循环发生 panic，已停止该监测项",
				"monitor", d.Name, "panic", r, "stack", string(debug.Stack()))
			// 以 Down 事件记录该监测项的终止；通道已满时丢弃，不阻塞退出
			ev := events.Checked(d.Name, time.Now(), monitor.Response{
				State:        monitor.StateDown,
				ResponseText: fmt.Sprintf("loop panic: %v", r),
			})
			select {
			case e.sink <- ev:
			default:
				logger.Warn("scheduler", "事件通道已满，丢弃 loop panic 事件", "monitor", d.Name)
			}
		}
	}()

	// 每个循环独占自己的运行时状态
	status := &monitor.RuntimeStatus{}

	var wake <-chan struct{}
	if d.Kind.IsPush() {
		wake = e.registry.Wake(d.Name)
	}

	for {
		if !e.cycle(ctx, m, status) {
			return
		}

		timer := time.NewTimer(e.nextWait(d, status.LastKnownState))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

// cycle 执行一次探测并发送事件；返回 false 表示循环应退出
func (e *Engine) cycle(ctx context.Context, m *Monitor, status *monitor.RuntimeStatus) bool {
	d := &m.Descriptor

	start := time.Now()
	resp := safeQuery(ctx, m.Probe, d)
	elapsed := time.Since(start)

	// 取消后得到的结果直接丢弃
	if ctx.Err() != nil {
		return false
	}

	if resp.ResponseTime == nil && !d.Kind.IsPush() {
		resp.ResponseTime = &elapsed
	}

	effective, changed := monitor.Evaluate(d, status, resp)
	at := e.now()

	e.metrics.ObserveCheck(d.Name, string(d.Kind), effective.State.String(), int(effective.State), elapsed)
	logger.Debug("scheduler", "探测完成",
		"monitor", d.Name, "state", effective.State.String(), "elapsed", elapsed, "text", effective.ResponseText)

	if !e.emit(ctx, events.Checked(d.Name, at, effective)) {
		return false
	}
	if changed {
		e.metrics.ObserveStateChange(d.Name, effective.State.String())
		logger.Info("scheduler", "检测到状态变更",
			"monitor", d.Name, "state", effective.State.String(), "text", effective.ResponseText)
		if !e.emit(ctx, events.StateChanged(d.Name, at, effective.State)) {
			return false
		}
	}
	return true
}

// nextWait 计算下一次探测前的等待时长
// 拉取型按有效状态选择间隔；推送型在截止时间未到时等到截止时间后 1ms，使沉默的目标及时判定为 Down
func (e *Engine) nextWait(d *monitor.Descriptor, state monitor.State) time.Duration {
	if !d.Kind.IsPush() {
		return d.NextInterval(state)
	}
	if until, ok := e.registry.Until(d.Name, d.IntervalToDown); ok && until > 0 {
		return until + time.Millisecond
	}
	return d.IntervalToDown
}

// emit 发送事件；ctx 取消时放弃
func (e *Engine) emit(ctx context.Context, ev events.Event) bool {
	select {
	case e.sink <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// safeQuery 调用探测器并把 panic 转换为 Down
func safeQuery(ctx context.Context, p monitor.Prober, d *monitor.Descriptor) (resp monitor.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduler", "探测发生 panic",
				"monitor", d.Name, "panic", r, "stack", string(debug.Stack()))
			resp = monitor.Response{
				State:        monitor.StateDown,
				ResponseText: fmt.Sprintf("probe panic: %v", r),
			}
		}
	}()
	return p.Query(ctx, d.Timeout)
}
