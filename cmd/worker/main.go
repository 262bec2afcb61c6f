package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wedogs/backend/internal/app"
	"github.com/wedogs/backend/internal/config"
	"github.com/wedogs/backend/internal/worker"
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

	// Health and metrics
	probe := fiber.New(fiber.Config{DisableStartupMessage: true})
	probe.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	probe.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	go func() {
		if err := probe.Listen(fmt.Sprintf(":%s", cfg.WorkerPort)); err != nil {
			log.Error("probe server error", zap.Error(err))
		}
	}()
	defer probe.Shutdown()

	log.Info("worker started")

	jobs := map[worker.Job]time.Duration{
		&worker.ResyncJob{
			Txs:         a.Transactions,
			Donations:   a.Donations,
			MinAge:      cfg.ResyncMinAge,
			BatchSize:   cfg.ResyncBatchSize,
			Concurrency: cfg.ResyncConcurrency,
			Budget:      cfg.ResyncInterval,
			Log:         log,
		}: cfg.ResyncInterval,
		&worker.ProgressionJob{Donors: a.Donors, Progression: a.Progression, Log: log}: cfg.ProgressionInterval,
		&worker.BalanceWarmJob{Campaigns: a.Campaigns, Balances: a.Balances, Log: log}: cfg.BalanceWarmInterval,
	}
	running := worker.Schedule(ctx, log, jobs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down worker")
	case <-ctx.Done():
	}
	cancel()
	running.Wait()
	a.Donations.Wait()
}
