package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"statuswatch/internal/config"
	"statuswatch/internal/monitor"
)

// newCheckCmd 对单个拉取型监测项执行一次探测（不写入存储），用于验证配置
func newCheckCmd(configFile *string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check NAME",
		Short: "立即探测一次指定监测项并输出结果",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}

			target := cfg.FindMonitor(args[0])
			if target == nil {
				return fmt.Errorf("未找到监测项: %s", args[0])
			}
			if target.IsCheckIn() {
				return fmt.Errorf("监测项 %q 是 check-in 类型，无法主动探测", target.Name)
			}

			fmt.Printf("🔍 验证监测项: %s (%s)\n", target.Name, target.Type)
			fmt.Println("========================================")
			if verbose {
				printTarget(target)
			}

			pool := monitor.NewClientPool()
			defer pool.Close()
			probe, err := monitor.NewProber(target, pool, nil)
			if err != nil {
				return err
			}

			start := time.Now()
			raw := probe.Query(cmd.Context(), target.TimeoutDuration)
			elapsed := time.Since(start)

			d := monitor.NewDescriptor(target)
			effective, _ := monitor.Evaluate(&d, &monitor.RuntimeStatus{}, raw)

			fmt.Printf("状态: %s\n", effective.State)
			fmt.Printf("耗时: %v\n", elapsed.Truncate(time.Millisecond))
			if effective.ResponseText != "" {
				fmt.Printf("说明: %s\n", effective.ResponseText)
			}

			if effective.State == monitor.StateDown {
				return fmt.Errorf("监测项 %q 不可用", target.Name)
			}
			fmt.Println("✅ 探测完成")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "输出监测项配置")
	return cmd
}

func printTarget(m *config.MonitorConfig) {
	fmt.Printf("📋 配置信息:\n")
	switch m.Type {
	case config.TypeHTTP:
		fmt.Printf("  URL: %s\n", m.URL)
		fmt.Printf("  Method: %s\n", m.Method)
		if m.SuccessContains != "" {
			fmt.Printf("  Success Contains: %s\n", m.SuccessContains)
		}
		for k, v := range m.Headers {
			// 隐藏凭据
			lower := strings.ToLower(k)
			if strings.Contains(lower, "key") || strings.Contains(lower, "auth") {
				v = v[:min(10, len(v))] + "..."
			}
			fmt.Printf("    %s: %s\n", k, v)
		}
	case config.TypeDNS:
		fmt.Printf("  Query: %s %s\n", m.RecordType, m.Host)
		if m.Resolver != "" {
			fmt.Printf("  Resolver: %s\n", m.Resolver)
		}
	default:
		fmt.Printf("  Host: %s\n", m.Host)
		if m.Port > 0 {
			fmt.Printf("  Port: %d\n", m.Port)
		}
	}
	fmt.Printf("  Timeout: %v\n", m.TimeoutDuration)
	fmt.Println()
}
