package monitor

import (
	"bytes"
	"compress/gzip"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"statuswatch/internal/config"
)

func httpConfig(url string) *config.MonitorConfig {
	return &config.MonitorConfig{
		Name:   "web",
		Type:   config.TypeHTTP,
		URL:    url,
		Method: http.MethodGet,
	}
}

func TestHTTPProber(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"status":"pong"}`))
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		case "/slow":
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write([]byte("ok"))
		case "/gzip":
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			_, _ = gw.Write([]byte("compressed pong"))
			_ = gw.Close()
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(buf.Bytes())
		case "/hang":
			<-r.Context().Done()
		default:
			http.NotFound(w, r)
		}
	}))
	// 子测试并行执行，需在全部子测试结束后再关闭
	t.Cleanup(srv.Close)

	pool := NewClientPool()
	t.Cleanup(pool.Close)

	tests := []struct {
		name   string
		mutate func(c *config.MonitorConfig)
		path   string
		want   State
	}{
		{name: "2xx 为 Up", path: "/ok", want: StateUp},
		{name: "非 2xx 为 Down", path: "/teapot", want: StateDown},
		{
			name:   "expected_status 命中",
			path:   "/teapot",
			mutate: func(c *config.MonitorConfig) { c.ExpectedStatus = []int{http.StatusTeapot} },
			want:   StateUp,
		},
		{
			name:   "关键字命中",
			path:   "/ok",
			mutate: func(c *config.MonitorConfig) { c.SuccessContains = "pong" },
			want:   StateUp,
		},
		{
			name:   "关键字缺失",
			path:   "/ok",
			mutate: func(c *config.MonitorConfig) { c.SuccessContains = "missing" },
			want:   StateDown,
		},
		{
			name:   "gzip 响应解压后匹配",
			path:   "/gzip",
			mutate: func(c *config.MonitorConfig) {
				c.SuccessContains = "compressed pong"
				c.Headers = map[string]string{"Accept-Encoding": "gzip"}
			},
			want:   StateUp,
		},
		{
			name:   "慢响应为 Warn",
			path:   "/slow",
			mutate: func(c *config.MonitorConfig) { c.WarnTimeoutDuration = 10 * time.Millisecond },
			want:   StateWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := httpConfig(srv.URL + tt.path)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			resp := newHTTPProber(cfg, pool).Query(context.Background(), 2*time.Second)
			if resp.State != tt.want {
				t.Fatalf("状态错误: got=%v want=%v (%s)", resp.State, tt.want, resp.ResponseText)
			}
			if resp.ResponseTime == nil {
				t.Fatalf("HTTP 探测应带响应时间")
			}
		})
	}

	t.Run("超时为 Down", func(t *testing.T) {
		t.Parallel()
		resp := newHTTPProber(httpConfig(srv.URL+"/hang"), pool).Query(context.Background(), 50*time.Millisecond)
		if resp.State != StateDown || !strings.Contains(resp.ResponseText, "超时") {
			t.Fatalf("超时应为 Down，got=%+v", resp)
		}
	})
}

func TestClientPoolSharesClients(t *testing.T) {
	t.Parallel()

	pool := NewClientPool()
	if pool.GetClient(false) != pool.GetClient(false) {
		t.Fatalf("默认客户端应复用")
	}
	if pool.GetClient(true) == pool.GetClient(false) {
		t.Fatalf("跳过证书校验的客户端应独立")
	}
}

func TestTCPProber(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	up := newTCPProber(&config.MonitorConfig{Name: "db", Host: "127.0.0.1", Port: addr.Port})
	if resp := up.Query(context.Background(), time.Second); resp.State != StateUp {
		t.Fatalf("端口可连接应为 Up，got=%+v", resp)
	}

	_ = ln.Close()
	down := newTCPProber(&config.MonitorConfig{Name: "db", Host: "127.0.0.1", Port: addr.Port})
	if resp := down.Query(context.Background(), time.Second); resp.State != StateDown {
		t.Fatalf("端口关闭应为 Down，got=%+v", resp)
	}
}

func TestDNSProberUnreachableResolverIsUnknown(t *testing.T) {
	t.Parallel()

	// 监听一个不应答的 UDP 端口作为"解析器"
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	p := newDNSProber(&config.MonitorConfig{
		Name:       "resolver",
		Host:       "example.com",
		RecordType: "A",
		Resolver:   "127.0.0.1:" + strconv.Itoa(port),
	})
	resp := p.Query(context.Background(), 100*time.Millisecond)
	if resp.State != StateUnknown {
		t.Fatalf("解析器无应答应为 Unknown，got=%+v", resp)
	}
}

func TestNewProberSelectsKind(t *testing.T) {
	t.Parallel()

	registry := NewCheckInRegistry()
	pool := NewClientPool()

	cases := []struct {
		cfg  config.MonitorConfig
		want any
	}{
		{config.MonitorConfig{Name: "h", Type: config.TypeHTTP, URL: "http://x", Method: "GET"}, &httpProber{}},
		{config.MonitorConfig{Name: "t", Type: config.TypeTCP, Host: "x", Port: 1}, &tcpProber{}},
		{config.MonitorConfig{Name: "d", Type: config.TypeDNS, Host: "x", RecordType: "A"}, &dnsProber{}},
		{config.MonitorConfig{Name: "i", Type: config.TypeICMP, Host: "x"}, &icmpProber{}},
	}
	for _, c := range cases {
		p, err := NewProber(&c.cfg, pool, registry)
		if err != nil {
			t.Fatalf("%s: 创建探测器失败: %v", c.cfg.Name, err)
		}
		switch c.want.(type) {
		case *httpProber:
			if _, ok := p.(*httpProber); !ok {
				t.Errorf("%s: 类型错误 %T", c.cfg.Name, p)
			}
		case *tcpProber:
			if _, ok := p.(*tcpProber); !ok {
				t.Errorf("%s: 类型错误 %T", c.cfg.Name, p)
			}
		case *dnsProber:
			if _, ok := p.(*dnsProber); !ok {
				t.Errorf("%s: 类型错误 %T", c.cfg.Name, p)
			}
		case *icmpProber:
			if _, ok := p.(*icmpProber); !ok {
				t.Errorf("%s: 类型错误 %T", c.cfg.Name, p)
			}
		}
	}

	checkin := config.MonitorConfig{Name: "job", Type: config.TypeCheckIn, IntervalToDownDuration: time.Minute}
	if _, err := NewProber(&checkin, pool, registry); err != nil {
		t.Fatalf("创建 check-in 探测器失败: %v", err)
	}
	if !registry.Has("job") {
		t.Fatalf("check-in 监测项应被注册")
	}

	if _, err := NewProber(&config.MonitorConfig{Name: "x", Type: "smtp"}, pool, registry); err == nil {
		t.Fatalf("未知类型应返回错误")
	}
}
