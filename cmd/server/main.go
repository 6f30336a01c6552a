package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/config"
	"github.com/garyjia/expense-approval/internal/container"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
	"github.com/garyjia/expense-approval/pkg/utils"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting expense approval service",
		zap.String("version", "1.0.0"),
		zap.String("database", cfg.Database.Driver),
		zap.Strings("notifiers", cfg.Notifier.Drivers),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	services := c.Services()
	server := httpapi.NewServer(
		httpapi.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		httpapi.Services{
			Engine:    services.Engine,
			Companies: services.Companies,
			Workflows: services.Workflows,
			Expenses:  services.Expenses,
			Approvals: services.Approvals,
			Reports:   services.Reports,
		},
		func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status.Components
		},
		utils.NewKeyValueLogger(logger, "http"),
	)

	// Start blocks until a signal cancels ctx, then shuts the server down
	return server.Start(ctx)
}
