package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"statuswatch/internal/logger"
)

// parseDurationOr 解析 duration 字符串，空字符串时返回 fallback
func parseDurationOr(raw string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	return time.ParseDuration(trimmed)
}

// validateURL 验证 URL 格式和协议
func validateURL(rawURL, fieldName string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return fmt.Errorf("%s 不能为空", fieldName)
	}

	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s 格式无效: %w", fieldName, err)
	}

	// 只允许 http 和 https 协议
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%s 只支持 http:// 或 https:// 协议，收到: %s", fieldName, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s 缺少主机名", fieldName)
	}

	return nil
}

// warnInsecure 对跳过证书校验的监测项打印警告
func warnInsecure(m *MonitorConfig) {
	if m.InsecureSkipVerify {
		logger.Warn("config", "监测项跳过 TLS 证书校验", "monitor", m.Name)
	}
}
