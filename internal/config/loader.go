package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader 配置加载器，保留最近一次有效配置用于回滚
type Loader struct {
	mu      sync.RWMutex
	current *AppConfig
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{}
}

// Load 读取并解析配置文件
func (l *Loader) Load(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg.Clone()
	l.mu.Unlock()

	return cfg, nil
}

// LoadOrRollback 重新加载配置，失败时保留上一次的有效配置并返回错误
func (l *Loader) LoadOrRollback(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败（保留旧配置）: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("配置无效（保留旧配置）: %w", err)
	}

	l.mu.Lock()
	l.current = cfg.Clone()
	l.mu.Unlock()

	return cfg, nil
}

// Current 返回最近一次加载成功的配置副本
func (l *Loader) Current() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return nil
	}
	return l.current.Clone()
}

// Parse 解析 YAML、应用环境变量覆盖、规范化并校验
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 失败: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
