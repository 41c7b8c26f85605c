package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnvOverrides 应用环境变量覆盖
// 存储配置格式：MONITOR_STORAGE_TYPE, MONITOR_POSTGRES_HOST 等
// check-in 密钥格式：MONITOR_<NAME>_SECRET（名称转大写，非字母数字替换为下划线）
func (c *AppConfig) ApplyEnvOverrides() {
	// 日志与 API
	if envLevel := os.Getenv("MONITOR_LOG_LEVEL"); envLevel != "" {
		c.Log.Level = envLevel
	}
	if envPort := os.Getenv("MONITOR_API_PORT"); envPort != "" {
		c.API.Port = envPort
	}
	if envToken := os.Getenv("MONITOR_API_TOKEN"); envToken != "" {
		c.API.APIToken = envToken
	}

	// 存储配置环境变量覆盖
	if envType := os.Getenv("MONITOR_STORAGE_TYPE"); envType != "" {
		c.Storage.Type = envType
	}
	if envPath := os.Getenv("MONITOR_SQLITE_PATH"); envPath != "" {
		c.Storage.SQLite.Path = envPath
	}

	// PostgreSQL 配置环境变量覆盖
	if envHost := os.Getenv("MONITOR_POSTGRES_HOST"); envHost != "" {
		c.Storage.Postgres.Host = envHost
	}
	if envPort := os.Getenv("MONITOR_POSTGRES_PORT"); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil {
			c.Storage.Postgres.Port = port
		}
	}
	if envUser := os.Getenv("MONITOR_POSTGRES_USER"); envUser != "" {
		c.Storage.Postgres.User = envUser
	}
	if envPass := os.Getenv("MONITOR_POSTGRES_PASSWORD"); envPass != "" {
		c.Storage.Postgres.Password = envPass
	}
	if envDB := os.Getenv("MONITOR_POSTGRES_DATABASE"); envDB != "" {
		c.Storage.Postgres.Database = envDB
	}
	if envSSL := os.Getenv("MONITOR_POSTGRES_SSLMODE"); envSSL != "" {
		c.Storage.Postgres.SSLMode = envSSL
	}

	// check-in 密钥覆盖
	for i := range c.Monitors {
		m := &c.Monitors[i]
		if m.Type != TypeCheckIn {
			continue
		}
		if envVal := os.Getenv(SecretEnvName(m.Name)); envVal != "" {
			m.Secret = envVal
		}
	}
}

// SecretEnvName 返回监测项 check-in 密钥对应的环境变量名
func SecretEnvName(name string) string {
	var b strings.Builder
	b.WriteString("MONITOR_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_SECRET")
	return b.String()
}

// Clone 深拷贝配置（用于热更新回滚）
func (c *AppConfig) Clone() *AppConfig {
	clone := *c

	clone.API.CORSOrigins = append([]string(nil), c.API.CORSOrigins...)
	if c.Storage.Retention.Enabled != nil {
		v := *c.Storage.Retention.Enabled
		clone.Storage.Retention.Enabled = &v
	}

	clone.Monitors = make([]MonitorConfig, len(c.Monitors))
	copy(clone.Monitors, c.Monitors)

	// 深拷贝 monitors 中的 slice/map/指针 字段
	for i := range clone.Monitors {
		src := &c.Monitors[i]
		if src.Headers != nil {
			clone.Monitors[i].Headers = make(map[string]string, len(src.Headers))
			for k, v := range src.Headers {
				clone.Monitors[i].Headers[k] = v
			}
		}
		if len(src.ExpectedStatus) > 0 {
			clone.Monitors[i].ExpectedStatus = append([]int(nil), src.ExpectedStatus...)
		}
		clone.Monitors[i].IgnoreFailCount = cloneIntPtr(src.IgnoreFailCount)
	}

	return &clone
}

// cloneIntPtr 深拷贝 *int 指针
func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CheckInSecrets 返回 check-in 监测项的 名称 -> 密钥 映射（用于热更新）
func (c *AppConfig) CheckInSecrets() map[string]string {
	secrets := make(map[string]string)
	for _, m := range c.Monitors {
		if m.Type == TypeCheckIn && !m.Disabled {
			secrets[m.Name] = m.Secret
		}
	}
	return secrets
}

// SameMonitorSet 判断两份配置的监测项集合（名称与类型）是否一致
func (c *AppConfig) SameMonitorSet(other *AppConfig) bool {
	a := c.ActiveMonitors()
	b := other.ActiveMonitors()
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]string, len(a))
	for _, m := range a {
		index[m.Name] = m.Type
	}
	for _, m := range b {
		if t, ok := index[m.Name]; !ok || t != m.Type {
			return false
		}
	}
	return true
}
