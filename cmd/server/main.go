package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/garyjia/ai-interview/internal/config"
	"github.com/garyjia/ai-interview/internal/container"
	"github.com/garyjia/ai-interview/pkg/utils"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "ai-interview",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting interview turn-taking service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port),
		zap.String("initial_state", cfg.Conversation.InitialState))

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	serveErr := c.Server().Start(ctx)
	if serveErr != nil {
		logger.Error("HTTP server stopped unexpectedly", zap.Error(serveErr))
	}

	logger.Info("Shutting down")
	closeErr := c.Close()

	return errors.Join(serveErr, closeErr)
}

// configPath resolves the config file: INTERVIEW_CONFIG, then the default
// location if present. No file means defaults plus environment.
func configPath() string {
	if p := os.Getenv(config.EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	if config.Exists(defaultConfigPath) {
		return defaultConfigPath
	}
	return ""
}
