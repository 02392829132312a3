package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/appointly/internal/app"
	"github.com/markdave123-py/appointly/internal/config"
	"github.com/markdave123-py/appointly/internal/logging"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer application.Close()

	log.Info("appointly is running", "env", cfg.AppEnv, "port", cfg.Port)
	if err := application.Run(ctx); err != nil {
		log.Error("server stopped", "err", err)
		application.Close()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
