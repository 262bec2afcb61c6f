package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wedogs/backend/internal/app"
	"github.com/wedogs/backend/internal/config"
	"github.com/wedogs/backend/internal/indexer"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	ix := indexer.New(a.Campaigns, a.Instant, a.Donations, a.Redis, 0, a.Metrics, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down TON indexer")
		cancel()
	}()

	log.Info("TON indexer started",
		zap.String("network", cfg.TONNetwork),
		zap.Duration("interval", cfg.IndexerPollInterval),
	)
	ix.Run(ctx, cfg.IndexerPollInterval)
}
