// Package app wires the reconciliation engine for the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/wedogs/backend/internal/cache"
	"github.com/wedogs/backend/internal/config"
	"github.com/wedogs/backend/internal/db"
	"github.com/wedogs/backend/internal/escrow"
	"github.com/wedogs/backend/internal/events"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/pricing"
	"github.com/wedogs/backend/internal/repositories"
	"github.com/wedogs/backend/internal/services"
	"github.com/wedogs/backend/internal/ton"
	"github.com/wedogs/backend/migrations"
	"go.uber.org/zap"
)

// InstantAsset is the only asset accepted on the instant rail.
const InstantAsset = "TON"

type App struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *metrics.Metrics

	Campaigns    *repositories.CampaignRepo
	Transactions *repositories.TransactionRepo
	Donors       *repositories.DonorRepo
	Quests       *repositories.QuestRepo
	Audit        *repositories.AuditRepo

	Instant   *ton.Client
	Escrow    *escrow.Client
	Publisher *events.RedisPublisher

	Aggregator  *services.Aggregator
	Balances    *services.BalanceService
	Progression *services.ProgressionService
	Donations   *services.DonationService
	Campaign    *services.CampaignService
}

type Options struct {
	// Migrate applies embedded migrations on startup. Only the API does.
	Migrate bool
}

// Build connects to Postgres, Redis and the instant rail and constructs
// every service. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (*App, error) {
	a := &App{Metrics: metrics.New()}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:     int32(cfg.PostgresMaxConns),
		PingAttempts: uint64(max(cfg.StartupAttempts, 1)),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Pool = pool

	if opts.Migrate {
		if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, uint64(max(cfg.StartupAttempts, 1)), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb

	tonAPI, err := ton.Connect(ctx, ton.NetworkConfig{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ton: %w", err)
	}

	a.Campaigns = repositories.NewCampaignRepo(pool)
	a.Transactions = repositories.NewTransactionRepo(pool)
	a.Donors = repositories.NewDonorRepo(pool)
	a.Quests = repositories.NewQuestRepo(pool)
	a.Audit = repositories.NewAuditRepo(pool)

	a.Instant = ton.NewClient(tonAPI, log, ton.WithMaxPages(cfg.TONHistoryPages), ton.WithMetrics(a.Metrics))
	a.Escrow = escrow.NewClient(cfg.EscrowAPIURL, cfg.EscrowAPIKey, cfg.EscrowTimeout, a.Metrics, log)
	a.Publisher = events.NewRedisPublisher(rdb, log)

	quoter := pricing.NewQuoter(rdb, pricing.Options{
		BaseURL:  cfg.RatesAPIURL,
		Currency: cfg.FiatCurrency,
		Pegged:   cfg.PeggedAssets,
		TTL:      cfg.RateCacheTTL,
	}, log)
	balanceCache := cache.NewBalances(rdb, cfg.BalanceCacheTTL)
	assets := services.RailAssets{Escrow: cfg.EscrowAsset, Instant: InstantAsset}

	a.Aggregator = services.NewAggregator(a.Escrow, a.Instant, a.Transactions, quoter, assets, cfg.RailQueryTimeout, a.Metrics, log)
	a.Balances = services.NewBalanceService(a.Escrow, a.Instant, quoter, balanceCache, assets, cfg.RailQueryTimeout, a.Metrics, log)
	a.Progression = services.NewProgressionService(a.Transactions, a.Donors, a.Quests, a.Publisher, log)
	a.Donations = services.NewDonationService(
		a.Campaigns, a.Transactions, a.Donors, a.Aggregator, quoter, a.Balances, a.Progression,
		a.Audit, a.Publisher, assets,
		services.CorroborationPolicy{
			Attempts: cfg.CorroborationAttempts,
			Interval: cfg.CorroborationInterval,
			Deadline: cfg.CorroborationDeadline,
		},
		a.Metrics, log,
	)
	a.Campaign = services.NewCampaignService(a.Campaigns, a.Audit, a.Escrow, a.Aggregator, a.Balances, a.Publisher, assets, log)

	return a, nil
}

// Close waits for in-flight donation workflows, then releases connections.
func (a *App) Close() {
	if a.Donations != nil {
		a.Donations.Wait()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
