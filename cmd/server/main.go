package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/config"
	"github.com/jinkaiteo/edms/internal/container"
	httpapi "github.com/jinkaiteo/edms/internal/interfaces/http"
	"github.com/jinkaiteo/edms/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// .env is optional; real environment variables win over it
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
		os.Exit(1)
	}

	configPath := os.Getenv("EDMS_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting document control service",
		zap.String("database", cfg.Database.Driver),
		zap.String("timezone", cfg.Scheduler.Timezone),
		zap.Int("port", cfg.Server.Port))

	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		return fmt.Errorf("build container config: %w", err)
	}

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("start container: %w", err)
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.Deps{
		Sweeper:  c.Scheduler(),
		Lock:     c.SweepLock(),
		Scanner:  c.Monitor(),
		Health:   c,
		Clock:    c.Clock(),
		Location: containerCfg.Scheduler.Location,
	}, c.KVLogger("http"))

	// Start blocks until a signal cancels ctx or the listener fails
	serveErr := server.Start(ctx)

	logger.Info("Shutting down")
	closeErr := c.Close()
	if serveErr != nil {
		return serveErr
	}
	return closeErr
}
