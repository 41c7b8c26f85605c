// Package logger 提供统一的结构化日志支持
// 基于 Go 1.21+ 标准库 log/slog，组件名通过 component 字段区分
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const appName = "statuswatch"

var defaultLogger atomic.Pointer[slog.Logger]

// 初始化默认 logger（text 格式、INFO 级别），Setup 可在读取配置后覆盖
func init() {
	defaultLogger.Store(newLogger(os.Stdout, slog.LevelInfo, "text"))
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("app", appName)
}

// ParseLevel 将配置中的级别字符串转换为 slog.Level，未知值回退到 INFO
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup 按配置重建默认 logger
// format 可选 text/json，其它值按 text 处理
func Setup(level, format string) {
	defaultLogger.Store(newLogger(os.Stdout, ParseLevel(level), strings.ToLower(strings.TrimSpace(format))))
}

// SetOutput 替换输出目标（测试中用于捕获日志）
func SetOutput(w io.Writer, level slog.Level) {
	defaultLogger.Store(newLogger(w, level, "text"))
}

// Default 返回默认 logger
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// WithComponent 创建带有组件标识的 logger
func WithComponent(component string) *slog.Logger {
	return Default().With("component", component)
}

// context key 类型（避免与其他包冲突）
type ctxKey string

const (
	// RequestIDKey 用于存储 request_id 的 context key
	RequestIDKey ctxKey = "request_id"
)

// WithRequestID 将 request_id 存入 context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// FromContext 从 context 获取 logger，自动附加 request_id（如果存在）
func FromContext(ctx context.Context, component string) *slog.Logger {
	l := WithComponent(component)
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		l = l.With("request_id", reqID)
	}
	return l
}

// Info 记录 INFO 级别日志
func Info(component, msg string, args ...any) {
	WithComponent(component).Info(msg, args...)
}

// Warn 记录 WARN 级别日志
func Warn(component, msg string, args ...any) {
	WithComponent(component).Warn(msg, args...)
}

// Error 记录 ERROR 级别日志
func Error(component, msg string, args ...any) {
	WithComponent(component).Error(msg, args...)
}

// Debug 记录 DEBUG 级别日志
func Debug(component, msg string, args ...any) {
	WithComponent(component).Debug(msg, args...)
}
