package config

import (
	"fmt"
	"strings"
)

var supportedRecordTypes = map[string]struct{}{
	"A": {}, "AAAA": {}, "CNAME": {}, "MX": {}, "TXT": {}, "NS": {},
}

// Validate 验证配置合法性（需在 Normalize 之后调用）
func (c *AppConfig) Validate() error {
	if len(c.Monitors) == 0 {
		return ErrNoMonitors
	}

	// 1. 名称唯一性
	seen := make(map[string]struct{}, len(c.Monitors))
	for i := range c.Monitors {
		name := c.Monitors[i].Name
		if name == "" {
			return fmt.Errorf("monitors[%d]: name 不能为空", i)
		}
		if strings.ContainsAny(name, "/?#") {
			return fmt.Errorf("monitors[%d]: name %q 不能包含 / ? #", i, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("monitors[%d]: name %q 重复", i, name)
		}
		seen[name] = struct{}{}
	}

	// 2. 字段校验
	for i := range c.Monitors {
		if err := validateMonitor(&c.Monitors[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateMonitor 校验单个监测项（按类型检查必填字段）
func validateMonitor(m *MonitorConfig) error {
	prefix := fmt.Sprintf("monitor %q", m.Name)

	if m.IgnoreFailCountValue < 0 {
		return fmt.Errorf("%s: ignore_fail_count 必须 >= 0，当前值: %d", prefix, m.IgnoreFailCountValue)
	}
	if m.WarnTimeoutDuration < 0 {
		return fmt.Errorf("%s: warn_timeout 必须 >= 0", prefix)
	}

	switch m.Type {
	case TypeCheckIn:
		if m.IntervalToDownDuration <= 0 {
			return fmt.Errorf("%s: interval_to_down 必须 > 0", prefix)
		}
		return nil
	case TypeHTTP:
		if err := validateURL(m.URL, prefix+": url"); err != nil {
			return err
		}
		for _, code := range m.ExpectedStatus {
			if code < 100 || code > 599 {
				return fmt.Errorf("%s: expected_status 包含无效状态码 %d", prefix, code)
			}
		}
		warnInsecure(m)
	case TypeTCP:
		if strings.TrimSpace(m.Host) == "" {
			return fmt.Errorf("%s: host 不能为空", prefix)
		}
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("%s: port 必须在 [1,65535] 范围内，当前值: %d", prefix, m.Port)
		}
	case TypeDNS:
		if strings.TrimSpace(m.Host) == "" {
			return fmt.Errorf("%s: host（查询域名）不能为空", prefix)
		}
		if _, ok := supportedRecordTypes[m.RecordType]; !ok {
			return fmt.Errorf("%s: 不支持的 record_type %q", prefix, m.RecordType)
		}
	case TypeICMP:
		if strings.TrimSpace(m.Host) == "" {
			return fmt.Errorf("%s: host 不能为空", prefix)
		}
	case "":
		return fmt.Errorf("%s: type 不能为空", prefix)
	default:
		return fmt.Errorf("%s: 不支持的 type %q（可选 http/tcp/dns/icmp/checkin）", prefix, m.Type)
	}

	// 拉取型的调度参数
	if m.IntervalWhenUpDuration <= 0 {
		return fmt.Errorf("%s: interval_when_up 必须 > 0", prefix)
	}
	if m.IntervalWhenDownDuration <= 0 {
		return fmt.Errorf("%s: interval_when_down 必须 > 0", prefix)
	}
	if m.TimeoutDuration <= 0 {
		return fmt.Errorf("%s: timeout 必须 > 0", prefix)
	}

	return nil
}
