// Command server runs the paper ledger HTTP API. It is configured through
// PAPER_CONFIG and the environment, for containers that have no CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/atmx/paper-ledger/internal/app"
	"github.com/atmx/paper-ledger/internal/config"
	"github.com/atmx/paper-ledger/internal/logging"
	"github.com/atmx/paper-ledger/internal/tracing"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("paper ledger failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("paper ledger stopped")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("PAPER_CONFIG"))
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return err
	}

	tc := cfg.Tracing
	tc.Version = version
	shutdown, err := tracing.Setup(ctx, tc)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("paper ledger listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "oracle", cfg.Oracle.Kind)
	return a.Serve(ctx)
}
