package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StorageConfig 存储配置
type StorageConfig struct {
	Type string `yaml:"type" json:"type"` // "sqlite" 或 "postgres"

	// SQLite 配置
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`

	// PostgreSQL 配置
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`

	// 缓冲事件的提交间隔（默认 "1m"）
	CommitInterval string `yaml:"commit_interval" json:"commit_interval"`

	// 统计窗口默认条数（默认 60）
	HistoryCount int `yaml:"history_count" json:"history_count"`

	// 单个监测项最多缓冲的未提交事件数（默认 10000），超出后丢弃最旧的
	MaxPendingPerMonitor int `yaml:"max_pending_per_monitor" json:"max_pending_per_monitor"`

	// 历史事件保留与清理配置（默认禁用，需显式开启）
	Retention RetentionConfig `yaml:"retention" json:"retention"`

	// 解析后的提交间隔（内部使用，不序列化）
	CommitIntervalDuration time.Duration `yaml:"-" json:"-"`
}

// SQLiteConfig SQLite 配置
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"` // 数据库文件路径
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"` // 不输出到 JSON
	Database        string `yaml:"database" json:"database"`
	SSLMode         string `yaml:"sslmode" json:"sslmode"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RetentionConfig 历史事件保留与清理配置
type RetentionConfig struct {
	// 是否启用清理任务（默认 false，需要显式开启）
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// 事件保留时长（默认 "720h"）；"0" 表示不清理任何事件
	Period string `yaml:"period" json:"period"`

	// 清理任务执行间隔（默认 "1h"）
	CleanupInterval string `yaml:"cleanup_interval" json:"cleanup_interval"`

	// 可选：5 段 cron 表达式（UTC），配置后替代 cleanup_interval
	Schedule string `yaml:"schedule" json:"schedule"`

	// 启动后延迟多久开始首次清理（默认 "1m"）
	StartupDelay string `yaml:"startup_delay" json:"startup_delay"`

	// 调度抖动比例（默认 0.2），取值范围 [0,1]
	Jitter float64 `yaml:"jitter" json:"jitter"`

	// 解析后的时间（内部使用，不序列化）
	PeriodDuration          time.Duration `yaml:"-" json:"-"`
	CleanupIntervalDuration time.Duration `yaml:"-" json:"-"`
	StartupDelayDuration    time.Duration `yaml:"-" json:"-"`
}

// IsEnabled 返回是否启用清理任务
func (c *RetentionConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return false // 默认禁用（需要显式开启）
	}
	return *c.Enabled
}

// Normalize 规范化存储配置（填充默认值并解析 duration）
func (c *StorageConfig) Normalize() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		c.Type = "sqlite"
	}
	if c.Type != "sqlite" && c.Type != "postgres" {
		return fmt.Errorf("storage.type 仅支持 sqlite 或 postgres，当前值: %s", c.Type)
	}

	if c.Type == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		c.SQLite.Path = "statuswatch.db"
	}

	if c.Type == "postgres" {
		if c.Postgres.Host == "" {
			c.Postgres.Host = "localhost"
		}
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("storage.postgres.database 不能为空")
		}
	}

	d, err := parseDurationOr(c.CommitInterval, time.Minute)
	if err != nil {
		return fmt.Errorf("storage.commit_interval 解析失败: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("storage.commit_interval 必须 > 0")
	}
	c.CommitIntervalDuration = d

	if c.HistoryCount == 0 {
		c.HistoryCount = 60
	}
	if c.HistoryCount < 1 {
		return fmt.Errorf("storage.history_count 必须 >= 1，当前值: %d", c.HistoryCount)
	}

	if c.MaxPendingPerMonitor == 0 {
		c.MaxPendingPerMonitor = 10000
	}
	if c.MaxPendingPerMonitor < 1 {
		return fmt.Errorf("storage.max_pending_per_monitor 必须 >= 1，当前值: %d", c.MaxPendingPerMonitor)
	}

	return c.Retention.Normalize()
}

// Normalize 规范化 retention 配置（填充默认值并解析 duration）
func (c *RetentionConfig) Normalize() error {
	d, err := parseDurationOr(c.Period, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("storage.retention.period 解析失败: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("storage.retention.period 必须 >= 0")
	}
	c.PeriodDuration = d

	d, err = parseDurationOr(c.CleanupInterval, time.Hour)
	if err != nil {
		return fmt.Errorf("storage.retention.cleanup_interval 解析失败: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("storage.retention.cleanup_interval 必须 > 0")
	}
	c.CleanupIntervalDuration = d

	c.Schedule = strings.TrimSpace(c.Schedule)
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("storage.retention.schedule 解析失败: %w", err)
		}
	}

	d, err = parseDurationOr(c.StartupDelay, time.Minute)
	if err != nil {
		return fmt.Errorf("storage.retention.startup_delay 解析失败: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("storage.retention.startup_delay 必须 >= 0")
	}
	c.StartupDelayDuration = d

	// 抖动比例（默认 0.2）
	if c.Jitter == 0 {
		c.Jitter = 0.2
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("storage.retention.jitter 必须在 [0,1] 范围内，当前值: %g", c.Jitter)
	}

	return nil
}
