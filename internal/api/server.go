package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statuswatch/internal/buildinfo"
	"statuswatch/internal/config"
	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
)

// streamPath SSE 实时事件流路径（不经过 gzip）
const streamPath = "/api/events/stream"

// Server HTTP服务器
type Server struct {
	handler    *Handler
	router     *gin.Engine
	httpServer *http.Server
	port       string
}

// NewServer 创建服务器
func NewServer(query QueryService, engine MonitorEngine, m *metrics.Metrics, cfg *config.AppConfig) *Server {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// CORS中间件
	allowedOrigins := append([]string(nil), cfg.API.CORSOrigins...)

	// 开发模式自动允许本地开发域名
	if os.Getenv("GIN_MODE") != "release" {
		allowedOrigins = append(allowedOrigins,
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:"+cfg.API.Port,
			"http://127.0.0.1:"+cfg.API.Port,
		)
	}

	if extraOrigins := os.Getenv("MONITOR_CORS_ORIGINS"); extraOrigins != "" {
		// 支持逗号分隔的多个域名
		allowedOrigins = append(allowedOrigins, strings.Split(extraOrigins, ",")...)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-CheckIn-Secret", "Accept-Encoding"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// Request ID 中间件 - 为每个请求生成唯一 ID，便于日志追踪
	router.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8] // 使用短 UUID
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	// Gzip 压缩中间件（SSE 需要逐条 flush，排除）
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPath})))

	// 安全头中间件
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "SAMEORIGIN")
		// 防止 MIME 类型嗅探
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer-when-downgrade")
		c.Next()
	})

	handler := NewHandler(query, engine, cfg)

	// 只读查询接口（可选 Bearer Token）
	read := router.Group("/api", handler.requireToken)
	read.GET("/monitors", handler.ListMonitors)
	read.GET("/monitors/:name/stats", handler.GetStats)
	read.GET("/monitors/:name/events", handler.GetEvents)
	read.GET("/events/stream", handler.StreamEvents)

	// check-in 入口（按监测项密钥鉴权）
	router.POST("/api/checkin/:name", handler.CheckIn)
	router.GET("/api/checkin/:name", handler.CheckIn)

	// 版本信息 API
	router.GET("/api/version", func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{
			"version":    buildinfo.GetVersion(),
			"git_commit": buildinfo.GetGitCommit(),
			"build_time": buildinfo.GetBuildTime(),
			"go_version": buildinfo.GetGoVersion(),
		})
	})

	// Prometheus 指标
	if m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	// 健康检查（支持 GET 和 HEAD）
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})

	return &Server{
		handler: handler,
		router:  router,
		port:    cfg.API.Port,
	}
}

// Handler 返回路由（供测试与嵌入使用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器（阻塞）
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        ":" + s.port,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// SSE 为长连接，不设置 WriteTimeout
		IdleTimeout: 60 * time.Second,
	}

	logger.Info("api", "监测服务已启动",
		"api", fmt.Sprintf("http://localhost:%s/api/monitors", s.port),
		"stream", fmt.Sprintf("http://localhost:%s%s", s.port, streamPath),
		"health", fmt.Sprintf("http://localhost:%s/health", s.port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("启动HTTP服务失败: %w", err)
	}

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("api", "正在关闭HTTP服务器")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// UpdateConfig 更新配置（热更新时调用）
func (s *Server) UpdateConfig(cfg *config.AppConfig) {
	s.handler.UpdateConfig(cfg)
}
