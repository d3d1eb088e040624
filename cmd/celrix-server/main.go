// Command celrix-server runs the CELRIX cache server.
//
// Configuration comes from the YAML file named by the CELRIX_CONFIG
// environment variable, falling back to ./celrix.yaml when present and to
// built-in defaults otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/celrix/celrix"
	"github.com/celrix/celrix/config"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := celrix.NewTextLogger(cfg.LogLevel())
	srv := celrix.New(cfg.ListenAddr(), cfg.ServerOptions(logger)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, celrix.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CELRIX_CONFIG")
	if path == "" {
		if _, err := os.Stat("celrix.yaml"); err == nil {
			path = "celrix.yaml"
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
