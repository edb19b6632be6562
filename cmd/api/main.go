package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"creditledger/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		log.Fatalf("Bootstrap error: %v", err)
	}
	defer cleanup()

	slog.Info("Credit ledger is running")

	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Run error: %v", err)
	}

	slog.Info("Credit ledger stopped")
}
