package monitor

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"statuswatch/internal/config"
)

// tcpProber TCP 端口连通性探测
type tcpProber struct {
	address     string
	warnTimeout time.Duration
	dialer      net.Dialer
}

func newTCPProber(cfg *config.MonitorConfig) *tcpProber {
	return &tcpProber{
		address:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		warnTimeout: cfg.WarnTimeoutDuration,
	}
}

// Query 建立一次 TCP 连接后立即关闭
func (p *tcpProber) Query(ctx context.Context, timeout time.Duration) Response {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return downResponse(elapsed, "连接 %s 超时(%v)", p.address, timeout)
		}
		return downResponse(elapsed, "连接 %s 失败: %v", p.address, err)
	}
	_ = conn.Close()

	return Response{
		State:        upOrWarn(elapsed, p.warnTimeout),
		ResponseTime: DurationPtr(elapsed),
	}
}
