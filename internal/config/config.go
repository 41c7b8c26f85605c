package config

import (
	"errors"
	"time"
)

// ErrNoMonitors 配置中没有任何监测项
var ErrNoMonitors = errors.New("至少需要配置一个监测项")

// AppConfig 应用配置
type AppConfig struct {
	// 日志配置
	Log LogConfig `yaml:"log" json:"log"`

	// HTTP API 配置
	API APIConfig `yaml:"api" json:"api"`

	// 监测项默认参数（监测项未配置时继承）
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults"`

	// 存储配置
	Storage StorageConfig `yaml:"storage" json:"storage"`

	Monitors []MonitorConfig `yaml:"monitors" json:"monitors"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别：debug/info/warn/error（默认 info）
	Level string `yaml:"level" json:"level"`

	// 输出格式：text/json（默认 text）
	Format string `yaml:"format" json:"format"`
}

// APIConfig HTTP API 配置
type APIConfig struct {
	// 监听端口（默认 "8080"）
	Port string `yaml:"port" json:"port"`

	// 额外允许的 CORS 来源
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// 只读查询接口的 Bearer Token（可选，为空时不鉴权）
	APIToken string `yaml:"api_token" json:"-"`
}

// DefaultsConfig 监测项默认参数
// 所有时长字段支持 Go duration 格式，例如 "30s"、"1m"
type DefaultsConfig struct {
	IntervalWhenUp   string `yaml:"interval_when_up" json:"interval_when_up"`
	IntervalWhenDown string `yaml:"interval_when_down" json:"interval_when_down"`
	Timeout          string `yaml:"timeout" json:"timeout"`
	WarnTimeout      string `yaml:"warn_timeout" json:"warn_timeout"`
	IntervalToDown   string `yaml:"interval_to_down" json:"interval_to_down"`
	IgnoreFailCount  int    `yaml:"ignore_fail_count" json:"ignore_fail_count"`

	// 解析后的时长（内部使用，不序列化）
	IntervalWhenUpDuration   time.Duration `yaml:"-" json:"-"`
	IntervalWhenDownDuration time.Duration `yaml:"-" json:"-"`
	TimeoutDuration          time.Duration `yaml:"-" json:"-"`
	WarnTimeoutDuration      time.Duration `yaml:"-" json:"-"`
	IntervalToDownDuration   time.Duration `yaml:"-" json:"-"`
}

// FindMonitor 按名称查找监测项，未找到返回 nil
func (c *AppConfig) FindMonitor(name string) *MonitorConfig {
	for i := range c.Monitors {
		if c.Monitors[i].Name == name {
			return &c.Monitors[i]
		}
	}
	return nil
}

// ActiveMonitors 返回未停用的监测项
func (c *AppConfig) ActiveMonitors() []MonitorConfig {
	active := make([]MonitorConfig, 0, len(c.Monitors))
	for _, m := range c.Monitors {
		if m.Disabled {
			continue
		}
		active = append(active, m)
	}
	return active
}
