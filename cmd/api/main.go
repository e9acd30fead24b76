package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/documind/internal/app"
	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/config"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "documind: %v\n", err)
		os.Exit(1)
	}
	logger := common.InitLogger(cfg.LogLevel)

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer application.Close()

	logger.Info().Str("port", cfg.Port).Msg("DocuMind is running")
	if err := application.Serve(ctx); err != nil {
		logger.Error().Err(err).Msg("server error")
		application.Close()
		os.Exit(1)
	}
	logger.Info().Msg("shutting down...")
}
