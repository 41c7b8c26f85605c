package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/storage"
)

// openStore 离线命令直接打开配置中的存储
func openStore(configFile string) (*config.AppConfig, storage.Storage, *storage.EventStore, error) {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	backend, err := storage.New(&cfg.Storage)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	return cfg, backend, storage.NewEventStore(backend, &cfg.Storage, nil), nil
}

func closeStore(backend storage.Storage, store *storage.EventStore) {
	_ = store.Close()
	_ = backend.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatsCmd(configFile *string) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "输出监测项统计",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, backend, store, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer closeStore(backend, store)

			engine := storage.NewStatsEngine(store, cfg.Storage.HistoryCount)
			stats, err := engine.ComputeStats(cmd.Context(), args[0], history)
			if err != nil {
				return fmt.Errorf("查询统计失败: %w", err)
			}
			if stats == nil {
				return fmt.Errorf("监测项 %q 没有任何记录", args[0])
			}
			return printJSON(events.NewStatsView(stats))
		},
	}
	cmd.Flags().IntVar(&history, "history", storage.DefaultHistoryCount, "统计窗口条数")
	return cmd
}

func newEventsCmd(configFile *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "events NAME",
		Short: "输出监测项最近事件（倒序）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, backend, store, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer closeStore(backend, store)

			list, err := store.ReadRecent(cmd.Context(), args[0], count)
			if err != nil {
				return fmt.Errorf("查询事件失败: %w", err)
			}
			return printJSON(events.NewEventViews(list))
		},
	}
	cmd.Flags().IntVar(&count, "count", storage.DefaultHistoryCount, "事件条数")
	return cmd
}

func newPurgeCmd(configFile *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "删除早于保留期的历史事件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, backend, store, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer closeStore(backend, store)

			retention := olderThan
			if !cmd.Flags().Changed("older-than") {
				retention = cfg.Storage.Retention.PeriodDuration
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cleaner := storage.NewCleaner(store, &cfg.Storage.Retention, nil)
			deleted, err := cleaner.PurgeOlderThan(ctx, retention)
			if err != nil {
				return fmt.Errorf("清理失败: %w", err)
			}
			fmt.Printf("已删除 %d 条早于 %s 的事件\n", deleted, retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "保留时长（默认使用 storage.retention.period）")
	return cmd
}
