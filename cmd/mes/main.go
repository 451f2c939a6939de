package main

import (
	"fmt"
	"log"
	"os"

	"github.com/bitfantasy/nimo-mes/internal/bootstrap"
	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

// 命令行操作以系统身份执行
var cliPrincipal = service.Principal{
	UserID:      "system",
	Name:        "mes-cli",
	Permissions: []string{entity.PermAll},
}

var rootCmd = &cobra.Command{
	Use:           "mes",
	Short:         "nimo-mes work order routing service",
	Long:          "Work-order routing readiness and operation status service.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载 .env 文件
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: failed to load .env: %v", err)
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		if logger == nil {
			zapLogger, err := initLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger = zapLogger
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.GetEnvOrDefault("MES_CONFIG", ""), "config file (default ./configs/config.yaml)")
}

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newContainer() *do.Injector {
	return bootstrap.BuildContainer(cfg, logger, bootstrap.Build{Version: Version, BuildTime: BuildTime})
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	if cfg.Output != "" && cfg.Output != "stdout" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
