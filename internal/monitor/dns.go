package monitor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"statuswatch/internal/config"
)

const resolvConfPath = "/etc/resolv.conf"

// dnsProber DNS 解析探测
// 解析器不可达时返回 Unknown（无法判断目标本身是否健康）
type dnsProber struct {
	domain      string
	qtype       uint16
	recordType  string
	resolver    string
	expected    string
	warnTimeout time.Duration
}

func newDNSProber(cfg *config.MonitorConfig) *dnsProber {
	resolver := strings.TrimSpace(cfg.Resolver)
	if resolver != "" {
		if _, _, err := net.SplitHostPort(resolver); err != nil {
			resolver = net.JoinHostPort(resolver, "53")
		}
	}
	return &dnsProber{
		domain:      dns.Fqdn(cfg.Host),
		qtype:       dns.StringToType[cfg.RecordType],
		recordType:  cfg.RecordType,
		resolver:    resolver,
		expected:    strings.TrimSuffix(strings.TrimSpace(cfg.Expected), "."),
		warnTimeout: cfg.WarnTimeoutDuration,
	}
}

// Query 发送一次 DNS 查询
func (p *dnsProber) Query(ctx context.Context, timeout time.Duration) Response {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	server, err := p.server()
	if err != nil {
		return Response{State: StateUnknown, ResponseText: err.Error()}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(p.domain, p.qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Net: "udp", Timeout: timeout}
	start := time.Now()
	reply, _, err := client.ExchangeContext(ctx, msg, server)
	elapsed := time.Since(start)
	if err != nil {
		return Response{
			State:        StateUnknown,
			ResponseTime: DurationPtr(elapsed),
			ResponseText: fmt.Sprintf("解析器 %s 不可达: %v", server, err),
		}
	}

	if reply.Rcode != dns.RcodeSuccess {
		return downResponse(elapsed, "%s %s: %s", p.recordType, p.domain, dns.RcodeToString[reply.Rcode])
	}

	values := answerValues(reply.Answer, p.qtype)
	if len(values) == 0 {
		return downResponse(elapsed, "%s %s: 无应答记录", p.recordType, p.domain)
	}
	if p.expected != "" && !containsFold(values, p.expected) {
		return downResponse(elapsed, "%s %s: 应答 %s 不包含 %s", p.recordType, p.domain, strings.Join(values, ","), p.expected)
	}

	return Response{
		State:        upOrWarn(elapsed, p.warnTimeout),
		ResponseTime: DurationPtr(elapsed),
		ResponseText: strings.Join(values, ","),
	}
}

// server 返回要使用的解析器地址，未配置时读取系统 resolv.conf
func (p *dnsProber) server() (string, error) {
	if p.resolver != "" {
		return p.resolver, nil
	}
	conf, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil {
		return "", fmt.Errorf("读取 %s 失败: %w", resolvConfPath, err)
	}
	if len(conf.Servers) == 0 {
		return "", fmt.Errorf("%s 未配置 nameserver", resolvConfPath)
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

// answerValues 提取与查询类型匹配的应答值（去掉末尾的点）
func answerValues(answers []dns.RR, qtype uint16) []string {
	values := make([]string, 0, len(answers))
	for _, rr := range answers {
		if rr.Header().Rrtype != qtype {
			continue
		}
		var v string
		switch r := rr.(type) {
		case *dns.A:
			v = r.A.String()
		case *dns.AAAA:
			v = r.AAAA.String()
		case *dns.CNAME:
			v = r.Target
		case *dns.MX:
			v = r.Mx
		case *dns.NS:
			v = r.Ns
		case *dns.TXT:
			v = strings.Join(r.Txt, "")
		default:
			continue
		}
		values = append(values, strings.TrimSuffix(v, "."))
	}
	return values
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
