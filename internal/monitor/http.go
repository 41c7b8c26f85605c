package monitor

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
)

// maxBodyBytes 内容匹配时最多读取的响应体大小
const maxBodyBytes = 1 << 20

// httpProber HTTP(S) 探测
type httpProber struct {
	name            string
	method          string
	url             string
	headers         map[string]string
	body            string
	expectedStatus  []int
	successContains string
	warnTimeout     time.Duration
	client          *http.Client
}

func newHTTPProber(cfg *config.MonitorConfig, pool *ClientPool) *httpProber {
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &httpProber{
		name:            cfg.Name,
		method:          cfg.Method,
		url:             cfg.URL,
		headers:         headers,
		body:            strings.TrimSpace(cfg.Body),
		expectedStatus:  slices.Clone(cfg.ExpectedStatus),
		successContains: cfg.SuccessContains,
		warnTimeout:     cfg.WarnTimeoutDuration,
		client:          pool.GetClient(cfg.InsecureSkipVerify),
	}
}

// Query 发送一次请求并判定状态
func (p *httpProber) Query(ctx context.Context, timeout time.Duration) Response {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if p.body != "" {
		reqBody = strings.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, reqBody)
	if err != nil {
		// 配置问题，结果无法判定
		return Response{State: StateUnknown, ResponseText: fmt.Sprintf("创建请求失败: %v", err)}
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// 极少数情况下 err != nil 但 resp != nil，需要关闭 body，避免资源泄漏
		drainAndClose(resp)
		if errors.Is(err, context.DeadlineExceeded) {
			return downResponse(elapsed, "请求超时(%v)", timeout)
		}
		return downResponse(elapsed, "请求失败: %v", err)
	}

	// 完整读取响应体（避免连接泄漏），在需要内容匹配时保留文本
	var bodyBytes []byte
	if p.successContains != "" {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		switch {
		case readErr == nil:
			bodyBytes = data
		case isTolerableReadError(readErr):
			bodyBytes = data
			logger.Debug("probe", "读取响应体遇到可容忍错误，使用已读数据",
				"monitor", p.name, "error", readErr, "bytes", len(data))
		default:
			logger.Warn("probe", "读取响应体失败", "monitor", p.name, "error", readErr)
		}
		bodyBytes = decompressGzipIfNeeded(resp, bodyBytes, p.name)
	}
	drainAndClose(resp)
	elapsed = time.Since(start)

	if !p.statusAccepted(resp.StatusCode) {
		return downResponse(elapsed, "HTTP %d", resp.StatusCode)
	}

	if p.successContains != "" && !bytes.Contains(bodyBytes, []byte(p.successContains)) {
		logFailedBody(p.name, bodyBytes)
		return downResponse(elapsed, "响应未包含关键字 %q", p.successContains)
	}

	return Response{
		State:        upOrWarn(elapsed, p.warnTimeout),
		ResponseTime: DurationPtr(elapsed),
		ResponseText: fmt.Sprintf("HTTP %d", resp.StatusCode),
	}
}

// statusAccepted 未配置 expected_status 时接受任意 2xx
func (p *httpProber) statusAccepted(code int) bool {
	if len(p.expectedStatus) == 0 {
		return code >= 200 && code < 300
	}
	return slices.Contains(p.expectedStatus, code)
}

// logFailedBody 内容校验失败时输出响应片段（截断，防止日志过长）
func logFailedBody(name string, body []byte) {
	const maxSnippetLen = 512

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		logger.Warn("probe", "内容校验失败：响应体为空", "monitor", name)
		return
	}
	if len(snippet) > maxSnippetLen {
		snippet = snippet[:maxSnippetLen] + "... (truncated)"
	}
	logger.Warn("probe", "内容校验失败：未包含预期关键字", "monitor", name, "snippet", snippet)
}

// drainAndClose 丢弃剩余响应体并关闭，便于连接复用
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

// decompressGzipIfNeeded 检测并解压 gzip 压缩的响应体
// 额外检测 gzip 魔术头（0x1f 0x8b），处理服务器漏写 Content-Encoding 的情况
func decompressGzipIfNeeded(resp *http.Response, data []byte, name string) []byte {
	if len(data) == 0 {
		return data
	}

	isGzipHeader := strings.Contains(strings.ToLower(resp.Header.Get("Content-Encoding")), "gzip")
	isGzipMagic := len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
	if !isGzipHeader && !isGzipMagic {
		return data
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		logger.Warn("probe", "gzip 解压初始化失败，使用原始响应体", "monitor", name, "error", err)
		return data
	}
	defer gr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gr, maxBodyBytes))
	if err != nil {
		logger.Warn("probe", "gzip 解压读取失败，使用原始响应体", "monitor", name, "error", err)
		return data
	}
	return decompressed
}

// isTolerableReadError 判断是否为可容忍的响应体读取错误
// 服务端提前关闭连接（EOF、HTTP/2 RST_STREAM/GOAWAY）时已读数据通常仍可用于内容匹配
func isTolerableReadError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "stream error:") {
		for _, code := range []string{"INTERNAL_ERROR", "CANCEL", "NO_ERROR", "PROTOCOL_ERROR", "REFUSED_STREAM"} {
			if strings.Contains(errStr, code) {
				return true
			}
		}
	}
	return strings.Contains(errStr, "GOAWAY") || strings.Contains(errStr, "http2: response body closed")
}
