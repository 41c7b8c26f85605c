package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DotenvPath 返回配置文件同目录下的 .env 路径
func DotenvPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".env")
}

// LoadDotenvFromConfigDir 加载配置文件同目录下的 .env，返回实际加载的路径
//
// 已存在的环境变量优先（godotenv.Load 不覆盖），因此部署环境注入的
// MONITOR_<NAME>_SECRET 等变量始终生效。文件不存在时返回空路径和 nil。
func LoadDotenvFromConfigDir(configPath string) (string, error) {
	if configPath == "" {
		return "", nil
	}

	path := DotenvPath(configPath)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("检查 .env 失败 (%s): %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("加载 .env 失败 (%s): %w", path, err)
	}
	return path, nil
}
