package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"statuswatch/internal/config"
)

// icmpProtocolIPv4 IANA 协议号（ICMP for IPv4）
const icmpProtocolIPv4 = 1

// icmpProber ICMP echo 探测（非特权 udp4 模式）
// 无法打开套接字时返回 Unknown
type icmpProber struct {
	host        string
	warnTimeout time.Duration
	seq         atomic.Uint32
}

func newICMPProber(cfg *config.MonitorConfig) *icmpProber {
	return &icmpProber{
		host:        cfg.Host,
		warnTimeout: cfg.WarnTimeoutDuration,
	}
}

// Query 发送一个 echo 请求并等待应答
func (p *icmpProber) Query(ctx context.Context, timeout time.Duration) Response {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	ip, err := resolveIPv4(ctx, p.host)
	if err != nil {
		return Response{State: StateDown, ResponseText: err.Error()}
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return Response{State: StateUnknown, ResponseText: fmt.Sprintf("打开 ICMP 套接字失败: %v", err)}
	}
	defer conn.Close()

	// 外部取消时关闭连接，中断阻塞读
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: []byte("statuswatch"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return Response{State: StateUnknown, ResponseText: fmt.Sprintf("构造 ICMP 报文失败: %v", err)}
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, &net.UDPAddr{IP: ip}); err != nil {
		return downResponse(time.Since(start), "发送 ICMP 请求失败: %v", err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		elapsed := time.Since(start)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
				return downResponse(elapsed, "%s 无应答(%v)", p.host, timeout)
			}
			return downResponse(elapsed, "读取 ICMP 应答失败: %v", err)
		}

		reply, err := icmp.ParseMessage(icmpProtocolIPv4, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// 非特权模式下内核会改写 ID，只按序号匹配
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.Seq != seq {
			continue
		}

		return Response{
			State:        upOrWarn(elapsed, p.warnTimeout),
			ResponseTime: DurationPtr(elapsed),
		}
	}
}

// resolveIPv4 解析主机名的第一个 IPv4 地址
func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%s 不是 IPv4 地址", host)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", host, err)
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("%s 没有 IPv4 地址", host)
}
