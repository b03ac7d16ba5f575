package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/palabrita/palabrita/internal/config"
	"github.com/palabrita/palabrita/internal/logging"
	"github.com/palabrita/palabrita/internal/service"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/palabrita.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Palabrita API %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	// Initialize structured logger
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting Palabrita API",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("default_version", cfg.Versioning.DefaultVersion),
		zap.Int("versions", len(cfg.Versioning.Versions)),
		zap.Int("migrations", len(cfg.Versioning.Migrations)),
	)

	svc, err := service.New(cfg)
	if err != nil {
		logging.Error("Failed to create service", zap.Error(err))
		os.Exit(1)
	}

	// Watch the config file and swap the pipeline on valid changes.
	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		logging.Error("Failed to create config watcher", zap.Error(err))
		os.Exit(1)
	}
	watcher.OnChange(func(updated *config.Config) {
		if err := svc.Reload(updated); err != nil {
			logging.Error("Reload rejected, keeping previous configuration", zap.Error(err))
		}
	})
	if err := watcher.Start(); err != nil {
		logging.Error("Failed to start config watcher", zap.Error(err))
		os.Exit(1)
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("Shutdown complete")
}
