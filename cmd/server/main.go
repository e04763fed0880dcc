package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "filmrec",
		Short:         "电影目录入库与相似推荐服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// 加载环境变量
			if err := godotenv.Load(); err != nil {
				logging.Debug().Msg("未找到 .env 文件，使用系统环境变量")
			}
		},
	}

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newResetCmd(),
		newReconcileCmd(),
		newTokenCmd(),
	)
	return root
}

// loadConfig 加载并校验配置，同时初始化日志
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置错误: %w", err)
	}
	return cfg, nil
}
