package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/monitor"
	"statuswatch/internal/scheduler"
	"statuswatch/internal/storage"
)

// maxWindow 单次查询允许的最大窗口
const maxWindow = 1000

// QueryService 查询与订阅接口（由 events.Service 实现）
type QueryService interface {
	GetStats(ctx context.Context, name string, historyCount int) (*storage.MonitorStats, error)
	GetRecentEvents(ctx context.Context, name string, count int) ([]storage.StoredEvent, error)
	Subscribe() *events.Subscription
}

// MonitorEngine 监测项目录与 check-in 入口（由 scheduler.Engine 实现）
type MonitorEngine interface {
	Descriptors() []monitor.Descriptor
	Descriptor(name string) (monitor.Descriptor, bool)
	CheckIn(name string, resp *monitor.Response, secret string) scheduler.CheckInResult
}

// Handler API处理器
type Handler struct {
	query  QueryService
	engine MonitorEngine

	cfgMu    sync.RWMutex
	apiToken string
}

// NewHandler 创建处理器
func NewHandler(query QueryService, engine MonitorEngine, cfg *config.AppConfig) *Handler {
	h := &Handler{query: query, engine: engine}
	h.UpdateConfig(cfg)
	return h
}

// UpdateConfig 更新配置（热更新时调用）
func (h *Handler) UpdateConfig(cfg *config.AppConfig) {
	if cfg == nil {
		return
	}
	h.cfgMu.Lock()
	h.apiToken = cfg.API.APIToken
	h.cfgMu.Unlock()
}

// MonitorItem 监测项列表中的单项
type MonitorItem struct {
	Name             string            `json:"name"`
	Kind             monitor.Kind      `json:"kind"`
	IntervalWhenUp   string            `json:"interval_when_up,omitempty"`
	IntervalWhenDown string            `json:"interval_when_down,omitempty"`
	IntervalToDown   string            `json:"interval_to_down,omitempty"`
	UpsideDown       bool              `json:"upside_down,omitempty"`
	Stats            *events.StatsView `json:"stats"`
}

// StatsResponse 统计响应
type StatsResponse struct {
	Name    string            `json:"name"`
	History int               `json:"history"`
	Stats   *events.StatsView `json:"stats"`
}

// EventsResponse 事件列表响应
type EventsResponse struct {
	Name   string             `json:"name"`
	Count  int                `json:"count"`
	Events []events.EventView `json:"events"`
}

// checkInRequest check-in 请求体（全部可选）
type checkInRequest struct {
	State          string `json:"state"`
	ResponseTimeMs *int64 `json:"response_time_ms"`
	ResponseText   string `json:"response_text"`
}

// ListMonitors 列出所有监测项及其统计
// GET /api/monitors
func (h *Handler) ListMonitors(c *gin.Context) {
	ctx := c.Request.Context()
	descriptors := h.engine.Descriptors()
	items := make([]MonitorItem, 0, len(descriptors))

	for _, d := range descriptors {
		item := MonitorItem{
			Name:       d.Name,
			Kind:       d.Kind,
			UpsideDown: d.UpsideDown,
		}
		if d.Kind.IsPush() {
			item.IntervalToDown = d.IntervalToDown.String()
		} else {
			item.IntervalWhenUp = d.IntervalWhenUp.String()
			item.IntervalWhenDown = d.IntervalWhenDown.String()
		}

		stats, err := h.query.GetStats(ctx, d.Name, 0)
		if err != nil {
			logger.FromContext(ctx, "api").Warn("查询统计失败", "monitor", d.Name, "error", err)
		}
		item.Stats = events.NewStatsView(stats)
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"monitors": items})
}

// GetStats 获取单个监测项统计
// GET /api/monitors/:name/stats?history=60
func (h *Handler) GetStats(c *gin.Context) {
	name, ok := h.lookupMonitor(c)
	if !ok {
		return
	}
	history, ok := parseWindow(c, "history")
	if !ok {
		return
	}

	stats, err := h.query.GetStats(c.Request.Context(), name, history)
	if err != nil {
		logger.FromContext(c.Request.Context(), "api").Error("查询统计失败", "monitor", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询统计失败"})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{Name: name, History: history, Stats: events.NewStatsView(stats)})
}

// GetEvents 获取最近事件（倒序）
// GET /api/monitors/:name/events?count=60
func (h *Handler) GetEvents(c *gin.Context) {
	name, ok := h.lookupMonitor(c)
	if !ok {
		return
	}
	count, ok := parseWindow(c, "count")
	if !ok {
		return
	}

	list, err := h.query.GetRecentEvents(c.Request.Context(), name, count)
	if err != nil {
		logger.FromContext(c.Request.Context(), "api").Error("查询事件失败", "monitor", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询事件失败"})
		return
	}

	views := events.NewEventViews(list)
	c.JSON(http.StatusOK, EventsResponse{Name: name, Count: len(views), Events: views})
}

// CheckIn 推送型监测项上报
// POST|GET /api/checkin/:name
// 密钥通过 X-CheckIn-Secret 请求头或 secret 查询参数传递
func (h *Handler) CheckIn(c *gin.Context) {
	// 先确认监测项存在，再解析请求体
	name, ok := h.lookupMonitor(c)
	if !ok {
		return
	}

	resp, err := parseCheckIn(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	secret := c.GetHeader("X-CheckIn-Secret")
	if secret == "" {
		secret = c.Query("secret")
	}

	switch result := h.engine.CheckIn(name, resp, secret); result {
	case scheduler.CheckInOK:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case scheduler.CheckInNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("监测项 %q 不存在", name)})
	case scheduler.CheckInNotCheckInMonitor:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("监测项 %q 不是 check-in 类型", name)})
	case scheduler.CheckInInvalidSecret:
		c.JSON(http.StatusForbidden, gin.H{"error": "check-in 密钥无效"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.String()})
	}
}

// parseCheckIn 解析可选的上报内容；请求体和查询参数都为空时返回 nil（按 Up 处理）
func parseCheckIn(c *gin.Context) (*monitor.Response, error) {
	var req checkInRequest

	if c.Request.Method == http.MethodPost && c.Request.Body != nil {
		err := c.ShouldBindJSON(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("请求体格式错误: %w", err)
		}
	}
	if req.State == "" {
		req.State = c.Query("state")
	}
	if req.ResponseText == "" {
		req.ResponseText = c.Query("response_text")
	}
	if req.ResponseTimeMs == nil {
		if raw := c.Query("response_time_ms"); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("response_time_ms 无效: %s", raw)
			}
			req.ResponseTimeMs = &ms
		}
	}

	if req.State == "" && req.ResponseTimeMs == nil && req.ResponseText == "" {
		return nil, nil
	}

	resp := &monitor.Response{State: monitor.StateUp, ResponseText: req.ResponseText}
	if req.State != "" {
		state, err := monitor.ParseState(req.State)
		if err != nil {
			return nil, err
		}
		resp.State = state
	}
	if req.ResponseTimeMs != nil {
		if *req.ResponseTimeMs < 0 {
			return nil, fmt.Errorf("response_time_ms 不能为负数")
		}
		resp.ResponseTime = monitor.DurationPtr(time.Duration(*req.ResponseTimeMs) * time.Millisecond)
	}
	return resp, nil
}

// lookupMonitor 校验路径中的监测项名称，不存在时返回 404
func (h *Handler) lookupMonitor(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if _, ok := h.engine.Descriptor(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("监测项 %q 不存在", name)})
		return "", false
	}
	return name, true
}

// parseWindow 解析窗口大小参数：为空时返回 0（使用默认值），范围 [1, maxWindow]
func parseWindow(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxWindow {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("%s 必须是 1 到 %d 之间的整数", key, maxWindow),
		})
		return 0, false
	}
	return n, true
}

// requireToken 只读接口的 Bearer Token 鉴权；未配置 api_token 时放行
func (h *Handler) requireToken(c *gin.Context) {
	h.cfgMu.RLock()
	apiToken := h.apiToken
	h.cfgMu.RUnlock()

	if apiToken == "" {
		c.Next()
		return
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少 Authorization 请求头"})
		return
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization 格式错误，应为: Bearer <token>"})
		return
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	// 使用恒定时间比较，防止时序攻击
	if subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "API token 无效"})
		return
	}
	c.Next()
}
