// Package buildinfo 保存构建时通过 -ldflags 注入的版本信息
package buildinfo

import "runtime"

// 通过 -ldflags "-X statuswatch/internal/buildinfo.Version=..." 注入
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersion 返回版本号
func GetVersion() string { return Version }

// GetGitCommit 返回 git commit
func GetGitCommit() string { return GitCommit }

// GetBuildTime 返回构建时间
func GetBuildTime() string { return BuildTime }

// GetGoVersion 返回编译所用的 Go 版本
func GetGoVersion() string { return runtime.Version() }
