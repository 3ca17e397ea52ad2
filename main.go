package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/austentel/console/config"
	"github.com/austentel/console/handler"
	"github.com/austentel/console/mcp"
	"github.com/austentel/console/model"
	"github.com/austentel/console/provider"
	"github.com/austentel/console/settings"
	"github.com/austentel/console/store"
)

func main() {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:          "console",
		Short:        "AUSTENTEL chat console backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config and PORT)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 默认值 < 配置文件 < 环境变量（含 .env）
func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// defaultSettings 进程级配置覆盖编译期默认值；API key 不写入设置文档
func defaultSettings(cfg *config.Config) settings.Document {
	doc := settings.Defaults()
	if cfg.OpenAI.BaseURL != "" {
		doc.OpenAI.BaseURL = cfg.OpenAI.BaseURL
	}
	if cfg.Anthropic.BaseURL != "" {
		doc.Claude.BaseURL = cfg.Anthropic.BaseURL
	}
	doc.MCP.ServerURL = cfg.MCP.ServerURL
	doc.MCP.Enabled = cfg.MCP.Enabled
	if cfg.MCP.Timeout > 0 {
		doc.MCP.Timeout = cfg.MCP.Timeout
	}
	return doc
}

func run(cfg *config.Config) error {
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("db", cfg.Database.Path),
		zap.String("env", cfg.Env))

	db, err := model.InitDB(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to init database", zap.Error(err))
		return err
	}
	logger.Info("database initialized")

	st := store.New(db, logger, defaultSettings(cfg))
	defer st.Close()
	if err := st.EnsureSettings(context.Background()); err != nil {
		logger.Warn("failed to seed default settings", zap.Error(err))
	}

	srv := &handler.Server{
		Store:   st,
		Bridge:  mcp.NewBridge(st, cfg.MCP.ServerURL, logger),
		Checker: provider.NewChecker(time.Duration(cfg.OpenAI.Timeout)*time.Second, logger),
		Logger:  logger,
		Env: handler.Env{
			Name:         cfg.Env,
			OpenAIKey:    cfg.OpenAI.APIKey,
			AnthropicKey: cfg.Anthropic.APIKey,
			MCPEnabled:   cfg.MCP.Enabled,
		},
	}

	gin.SetMode(cfg.Server.Mode)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
