package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"statuswatch/internal/buildinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd 根命令：不带子命令时等同于 serve
func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "statuswatch",
		Short:        "statuswatch 服务可用性监测",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "配置文件路径")

	root.Version = buildinfo.GetVersion()
	root.SetVersionTemplate(fmt.Sprintf("statuswatch %s (commit %s, built %s)\n",
		buildinfo.GetVersion(), buildinfo.GetGitCommit(), buildinfo.GetBuildTime()))

	root.AddCommand(newServeCmd(&configFile))
	root.AddCommand(newStatsCmd(&configFile))
	root.AddCommand(newEventsCmd(&configFile))
	root.AddCommand(newPurgeCmd(&configFile))
	root.AddCommand(newCheckCmd(&configFile))
	return root
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动监测服务与 HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configFile)
		},
	}
}
