package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"statuswatch/internal/api"
	"statuswatch/internal/buildinfo"
	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
	"statuswatch/internal/monitor"
	"statuswatch/internal/scheduler"
	"statuswatch/internal/storage"
)

// loadConfig 加载 .env 与配置文件，并按配置初始化日志
func loadConfig(configFile string) (*config.Loader, *config.AppConfig, error) {
	if path, err := config.LoadDotenvFromConfigDir(configFile); err != nil {
		logger.Warn("main", "加载 .env 失败", "error", err)
	} else if path != "" {
		logger.Info("main", "已加载 .env", "path", path)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return loader, cfg, nil
}

func runServe(parent context.Context, configFile string) error {
	if parent == nil {
		parent = context.Background()
	}

	loader, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger.Info("main", "statuswatch 启动",
		"version", buildinfo.GetVersion(),
		"git_commit", buildinfo.GetGitCommit(),
		"build_time", buildinfo.GetBuildTime(),
		"monitors", len(cfg.ActiveMonitors()))

	m := metrics.New()

	// 初始化存储（支持 SQLite 和 PostgreSQL）
	backend, err := storage.New(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer backend.Close()
	logger.Info("main", "存储已就绪", "type", cfg.Storage.Type)

	store := storage.NewEventStore(backend, &cfg.Storage, m)
	statsEngine := storage.NewStatsEngine(store, cfg.Storage.HistoryCount)

	// 探测共享的 HTTP 客户端池与 check-in 注册表
	pool := monitor.NewClientPool()
	defer pool.Close()
	registry := monitor.NewCheckInRegistry()

	monitors, err := scheduler.BuildMonitors(cfg, pool, registry)
	if err != nil {
		_ = store.Close()
		return err
	}
	engine := scheduler.NewEngine(monitors, registry, scheduler.Options{Metrics: m})

	hub := events.NewHub(0, m)
	eventService := events.NewService(store, statsEngine, hub, cfg.Storage.HistoryCount, m)
	server := api.NewServer(eventService, engine, m, cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 历史事件清理
	cleaner := storage.NewCleaner(store, &cfg.Storage.Retention, m)
	go cleaner.Start(ctx)

	// 事件消费者：处理完通道中剩余事件后退出
	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		eventService.Run(ctx, engine.Events())
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil {
			logger.Error("main", "监测引擎异常退出", "error", err)
		}
	}()

	// 配置热更新：保留策略、check-in 密钥、API token 即时生效；监测项增删需要重启
	watcher, err := config.NewWatcher(loader, configFile, func(newCfg *config.AppConfig) {
		cleaner.UpdateConfig(&newCfg.Storage.Retention)
		engine.UpdateSecrets(newCfg.CheckInSecrets())
		server.UpdateConfig(newCfg)
		logger.Setup(newCfg.Log.Level, newCfg.Log.Format)
		if !cfg.SameMonitorSet(newCfg) {
			logger.Warn("main", "监测项集合已变化，需要重启服务才能生效")
		}
	})
	if err != nil {
		logger.Warn("main", "配置监听器创建失败，热更新功能不可用", "error", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("main", "配置监听器启动失败，热更新功能不可用", "error", err)
	} else {
		logger.Info("main", "配置热更新已启用")
	}

	// 启动HTTP服务器
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("main", "收到关闭信号，正在优雅退出")
	case err := <-serverErr:
		if err != nil {
			logger.Error("main", "HTTP服务器错误", "error", err)
		}
	}
	stop()

	// 关闭顺序：监测循环全部退出（事件通道关闭）→ 消费者处理完剩余事件 → 断开订阅 → 停止 HTTP → 最终提交
	<-engineDone
	consumerWG.Wait()
	hub.Close()
	cleaner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("main", "HTTP服务器关闭错误", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("main", "最终提交事件失败，未提交的事件已丢失", "error", err)
	}

	logger.Info("main", "服务已安全退出")
	return nil
}
