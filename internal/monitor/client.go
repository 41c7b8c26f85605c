package monitor

import (
	"crypto/tls"
	"net/http"
	"sync"
	"time"
)

// ClientPool 进程级共享的 HTTP 客户端（默认 + 跳过证书校验两种配置）
// 所有监测循环共用，限制连接/端口占用
type ClientPool struct {
	mu       sync.Mutex
	secure   *http.Client
	insecure *http.Client
}

// NewClientPool 创建客户端池
func NewClientPool() *ClientPool {
	return &ClientPool{}
}

// GetClient 获取共享客户端（首次使用时创建）
func (p *ClientPool) GetClient(insecureSkipVerify bool) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if insecureSkipVerify {
		if p.insecure == nil {
			p.insecure = newHTTPClient(true)
		}
		return p.insecure
	}
	if p.secure == nil {
		p.secure = newHTTPClient(false)
	}
	return p.secure
}

// newHTTPClient 创建带连接池的 HTTP 客户端
// 注意：不设置 Timeout，由 probe 使用 context.WithTimeout 控制每个请求的超时
func newHTTPClient(insecureSkipVerify bool) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // 按监测项显式开启
	}
	return &http.Client{
		Transport: transport,
		// 重定向由客户端自动跟随，3xx 不会作为最终状态码出现
	}
}

// Close 关闭所有空闲连接
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, client := range []*http.Client{p.secure, p.insecure} {
		if client != nil {
			client.CloseIdleConnections()
		}
	}
}
