package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Normalize 规范化配置（填充默认值、解析 duration）
// 必须在 Validate 之前调用
func (c *AppConfig) Normalize() error {
	// 1. 日志与 API
	c.normalizeLogAndAPI()

	// 2. 监测项默认参数
	if err := c.normalizeDefaults(); err != nil {
		return err
	}

	// 3. 存储配置
	if err := c.Storage.Normalize(); err != nil {
		return err
	}

	// 4. 每个监测项继承默认值并解析
	for i := range c.Monitors {
		if err := c.normalizeMonitor(&c.Monitors[i]); err != nil {
			return err
		}
	}

	return nil
}

func (c *AppConfig) normalizeLogAndAPI() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.API.Port = strings.TrimPrefix(strings.TrimSpace(c.API.Port), ":")
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
}

// normalizeDefaults 解析全局默认参数
func (c *AppConfig) normalizeDefaults() error {
	d := &c.Defaults
	var err error

	if d.IntervalWhenUpDuration, err = parseDurationOr(d.IntervalWhenUp, time.Minute); err != nil {
		return fmt.Errorf("defaults.interval_when_up 解析失败: %w", err)
	}
	if d.IntervalWhenDownDuration, err = parseDurationOr(d.IntervalWhenDown, 30*time.Second); err != nil {
		return fmt.Errorf("defaults.interval_when_down 解析失败: %w", err)
	}
	if d.TimeoutDuration, err = parseDurationOr(d.Timeout, 10*time.Second); err != nil {
		return fmt.Errorf("defaults.timeout 解析失败: %w", err)
	}
	if d.WarnTimeoutDuration, err = parseDurationOr(d.WarnTimeout, 0); err != nil {
		return fmt.Errorf("defaults.warn_timeout 解析失败: %w", err)
	}
	if d.IntervalToDownDuration, err = parseDurationOr(d.IntervalToDown, 5*time.Minute); err != nil {
		return fmt.Errorf("defaults.interval_to_down 解析失败: %w", err)
	}
	if d.IgnoreFailCount < 0 {
		return fmt.Errorf("defaults.ignore_fail_count 必须 >= 0，当前值: %d", d.IgnoreFailCount)
	}

	return nil
}

// normalizeMonitor 为单个监测项填充默认值
func (c *AppConfig) normalizeMonitor(m *MonitorConfig) error {
	d := &c.Defaults
	var err error

	m.Name = strings.TrimSpace(m.Name)
	m.Type = strings.ToLower(strings.TrimSpace(m.Type))

	if m.IntervalWhenUpDuration, err = parseDurationOr(m.IntervalWhenUp, d.IntervalWhenUpDuration); err != nil {
		return fmt.Errorf("monitor %q: interval_when_up 解析失败: %w", m.Name, err)
	}
	if m.IntervalWhenDownDuration, err = parseDurationOr(m.IntervalWhenDown, d.IntervalWhenDownDuration); err != nil {
		return fmt.Errorf("monitor %q: interval_when_down 解析失败: %w", m.Name, err)
	}
	if m.TimeoutDuration, err = parseDurationOr(m.Timeout, d.TimeoutDuration); err != nil {
		return fmt.Errorf("monitor %q: timeout 解析失败: %w", m.Name, err)
	}
	if m.WarnTimeoutDuration, err = parseDurationOr(m.WarnTimeout, d.WarnTimeoutDuration); err != nil {
		return fmt.Errorf("monitor %q: warn_timeout 解析失败: %w", m.Name, err)
	}
	if m.IntervalToDownDuration, err = parseDurationOr(m.IntervalToDown, d.IntervalToDownDuration); err != nil {
		return fmt.Errorf("monitor %q: interval_to_down 解析失败: %w", m.Name, err)
	}

	if m.IgnoreFailCount != nil {
		m.IgnoreFailCountValue = *m.IgnoreFailCount
	} else {
		m.IgnoreFailCountValue = d.IgnoreFailCount
	}

	switch m.Type {
	case TypeHTTP:
		m.Method = strings.ToUpper(strings.TrimSpace(m.Method))
		if m.Method == "" {
			m.Method = http.MethodGet
		}
	case TypeDNS:
		m.RecordType = strings.ToUpper(strings.TrimSpace(m.RecordType))
		if m.RecordType == "" {
			m.RecordType = "A"
		}
	}

	return nil
}
