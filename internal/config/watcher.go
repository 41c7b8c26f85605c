package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"statuswatch/internal/logger"
)

// defaultDebounce 编辑器保存时往往连续触发多次事件，合并为一次重载
const defaultDebounce = 200 * time.Millisecond

// Watcher 监听配置文件，内容变化且校验通过后回调 onReload
//
// 监听的是配置文件所在目录：vim 等编辑器以 rename 方式保存，直接监听文件会在第一次保存后失效。
// 内容与上一次成功加载相同时不会触发回调。
type Watcher struct {
	loader   *Loader
	path     string
	onReload func(*AppConfig)
	debounce time.Duration

	fsw      *fsnotify.Watcher
	stopOnce sync.Once

	mu      sync.Mutex
	timer   *time.Timer
	lastSum [sha256.Size]byte
}

// NewWatcher 创建配置监听器
func NewWatcher(loader *Loader, path string, onReload func(*AppConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	return &Watcher{
		loader:   loader,
		path:     filepath.Clean(path),
		onReload: onReload,
		debounce: defaultDebounce,
		fsw:      fsw,
	}, nil
}

// SetDebounce 调整防抖时长，需在 Start 之前调用
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start 开始监听，ctx 取消时停止
func (w *Watcher) Start(ctx context.Context) error {
	// 启动时的文件内容视为已加载，避免首个无关事件触发重复回调
	if data, err := os.ReadFile(w.path); err == nil {
		w.lastSum = sha256.Sum256(data)
	}

	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("监听目录 %s 失败: %w", dir, err)
	}
	logger.Info("config", "开始监听配置文件", "file", w.path, "dir", dir)

	go w.loop(ctx)
	return nil
}

// Stop 停止监听（可重复调用）
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			logger.Info("config", "配置监听器已停止")
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("config", "配置监听出错", "error", err)
		}
	}
}

// handle 只处理目标文件的事件；Remove 不影响目录监听，等待随后的 Create
func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}

	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = time.AfterFunc(w.debounce, w.reload)
		w.mu.Unlock()
	}
}

// reload 内容有变化时重新加载；失败时保留旧配置
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// 编辑器 rename 保存的中间状态，等待后续 Create 事件
		logger.Debug("config", "读取配置文件失败，等待下一次变更", "error", err)
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	unchanged := sum == w.lastSum
	w.mu.Unlock()
	if unchanged {
		logger.Debug("config", "配置内容未变化，跳过重载")
		return
	}

	cfg, err := w.loader.LoadOrRollback(w.path)
	if err != nil {
		logger.Error("config", "配置重载失败", "error", err)
		return
	}

	w.mu.Lock()
	w.lastSum = sum
	w.mu.Unlock()

	logger.Info("config", "配置已重新加载", "monitors", len(cfg.Monitors))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
