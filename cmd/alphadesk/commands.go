package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"alphadesk/internal/app"
	"alphadesk/internal/config"
	"alphadesk/internal/logger"
	"alphadesk/internal/strategy"
	apihttp "alphadesk/internal/transport/http"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/alphadesk.toml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "alphadesk",
		Short:         "alphadesk - automated trading engine with remote control",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 不存在时忽略
			_ = godotenv.Load()
			if cfgPath == "" {
				cfgPath = os.Getenv("ALPHADESK_CONFIG")
			}
			if cfgPath == "" {
				cfgPath = defaultConfigPath
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (env ALPHADESK_CONFIG)")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newCheckConfigCmd(&cfgPath))
	root.AddCommand(newHashPasswordCmd())
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the decision loop and remote surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("读取配置失败: %w", err)
			}
			logFile, err := setupLogOutput(cfg.App.LogPath)
			if err != nil {
				return fmt.Errorf("初始化日志文件失败: %w", err)
			}
			if logFile != nil {
				defer logFile.Close()
			}
			logger.SetLevel(cfg.App.LogLevel)
			logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, *cfgPath)

			a, err := app.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("运行失败: %w", err)
			}
			logger.Infof("已退出")
			return nil
		},
	}
}

func newCheckConfigCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the process config, engine config and strategy bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ %s\n", *cfgPath)
			ecfg, err := config.LoadEngineConfig(cfg.Engine.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ %s symbols=%s timeframe=%s\n", cfg.Engine.Path, strings.Join(ecfg.Symbols, ","), ecfg.Timeframe)
			b, err := strategy.ReadBundle(cfg.Strategy.Bundle)
			if err != nil {
				return err
			}
			if !strategy.SchemaSupported(b.SchemaVersion) {
				return &strategy.IncompatibleSchemaError{Agent: b.Name, Version: b.SchemaVersion}
			}
			fmt.Fprintf(out, "✓ %s kind=%s schema=v%d\n", cfg.Strategy.Bundle, b.Kind, b.SchemaVersion)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for http.password_hash (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw string
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return fmt.Errorf("password cannot be empty")
			}
			hash, err := apihttp.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
