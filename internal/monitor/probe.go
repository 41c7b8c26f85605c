package monitor

import (
	"context"
	"fmt"
	"time"

	"statuswatch/internal/config"
)

// Prober 单个监测项的探测器
// Query 不返回错误：所有失败都映射为 Down（或 Unknown）响应
type Prober interface {
	Query(ctx context.Context, timeout time.Duration) Response
}

// ProberFunc 函数适配器
type ProberFunc func(ctx context.Context, timeout time.Duration) Response

// Query 实现 Prober
func (f ProberFunc) Query(ctx context.Context, timeout time.Duration) Response {
	return f(ctx, timeout)
}

// NewDescriptor 由规范化后的配置生成监测项描述
func NewDescriptor(cfg *config.MonitorConfig) Descriptor {
	return Descriptor{
		Name:             cfg.Name,
		Kind:             Kind(cfg.Type),
		IntervalWhenUp:   cfg.IntervalWhenUpDuration,
		IntervalWhenDown: cfg.IntervalWhenDownDuration,
		Timeout:          cfg.TimeoutDuration,
		WarnTimeout:      cfg.WarnTimeoutDuration,
		IgnoreFailCount:  cfg.IgnoreFailCountValue,
		UpsideDown:       cfg.UpsideDown,
		IntervalToDown:   cfg.IntervalToDownDuration,
	}
}

// NewProber 按监测类型创建探测器（构造时一次性选定）
// check-in 类型会在 registry 中注册并返回看门狗探测器
func NewProber(cfg *config.MonitorConfig, pool *ClientPool, registry *CheckInRegistry) (Prober, error) {
	switch Kind(cfg.Type) {
	case KindHTTP:
		return newHTTPProber(cfg, pool), nil
	case KindTCP:
		return newTCPProber(cfg), nil
	case KindDNS:
		return newDNSProber(cfg), nil
	case KindICMP:
		return newICMPProber(cfg), nil
	case KindCheckIn:
		if registry == nil {
			return nil, fmt.Errorf("monitor %q: check-in 监测需要 CheckInRegistry", cfg.Name)
		}
		registry.Register(cfg.Name)
		return registry.Watchdog(cfg.Name, cfg.IntervalToDownDuration), nil
	default:
		return nil, fmt.Errorf("monitor %q: 不支持的类型 %q", cfg.Name, cfg.Type)
	}
}

// upOrWarn 成功响应按 warnTimeout 判定是否降级为 Warn
func upOrWarn(elapsed, warnTimeout time.Duration) State {
	if warnTimeout > 0 && elapsed > warnTimeout {
		return StateWarn
	}
	return StateUp
}

// downResponse 构造带原因的 Down 响应
func downResponse(elapsed time.Duration, format string, args ...any) Response {
	return Response{
		State:        StateDown,
		ResponseTime: DurationPtr(elapsed),
		ResponseText: fmt.Sprintf(format, args...),
	}
}

// withTimeout 兜底：防止 timeout 未下发导致请求无期限挂起
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
