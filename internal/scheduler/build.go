package scheduler

import (
	"fmt"

	"statuswatch/internal/config"
	"statuswatch/internal/monitor"
)

// BuildMonitors 由配置构建监测项列表（跳过已停用的）
// check-in 监测项会注册到 registry
func BuildMonitors(cfg *config.AppConfig, pool *monitor.ClientPool, registry *monitor.CheckInRegistry) ([]Monitor, error) {
	active := cfg.ActiveMonitors()
	out := make([]Monitor, 0, len(active))
	for i := range active {
		mc := &active[i]
		probe, err := monitor.NewProber(mc, pool, registry)
		if err != nil {
			return nil, fmt.Errorf("创建探测器失败: %w", err)
		}
		out = append(out, Monitor{
			Descriptor: monitor.NewDescriptor(mc),
			Probe:      probe,
			Secret:     mc.Secret,
		})
	}
	return out, nil
}
