// Package indexer follows every active campaign's instant-rail address and
// records incoming payments as corroborated donations.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/models"
	"go.uber.org/zap"
)

const cursorKeyPrefix = "ton-indexer:cursor:"

type CampaignLister interface {
	ListWithInstantAddress(ctx context.Context) ([]models.Campaign, error)
}

// PaymentSource is implemented by *ton.Client.
type PaymentSource interface {
	PaymentsSince(ctx context.Context, addr string, cursorLT uint64) ([]models.RailPayment, uint64, error)
	LatestLT(ctx context.Context, addr string) (uint64, error)
}

// Ingester is implemented by *services.DonationService.
type Ingester interface {
	Ingest(ctx context.Context, c *models.Campaign, p models.RailPayment) (bool, error)
}

type Indexer struct {
	campaigns CampaignLister
	source    PaymentSource
	ingester  Ingester
	rdb       redis.Cmdable
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(campaigns CampaignLister, source PaymentSource, ingester Ingester, rdb redis.Cmdable, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Indexer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Indexer{
		campaigns: campaigns,
		source:    source,
		ingester:  ingester,
		rdb:       rdb,
		timeout:   timeout,
		metrics:   m,
		log:       log,
	}
}

// Run polls until ctx is done.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ix.PollOnce(ctx); err != nil {
				ix.log.Error("poll cycle failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce runs one cycle over all campaigns. A failing campaign is logged
// and skipped; its cursor stays put so the next cycle retries it.
func (ix *Indexer) PollOnce(ctx context.Context) error {
	campaigns, err := ix.campaigns.ListWithInstantAddress(ctx)
	if err != nil {
		return fmt.Errorf("list campaigns: %w", err)
	}

	for i := range campaigns {
		c := &campaigns[i]
		if err := ix.pollCampaign(ctx, c); err != nil {
			ix.log.Warn("campaign poll failed",
				zap.String("campaign_id", c.ID.String()),
				zap.String("address", c.RailRef(models.RailInstant)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (ix *Indexer) pollCampaign(ctx context.Context, c *models.Campaign) error {
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	addr := c.RailRef(models.RailInstant)
	cursor, ok, err := ix.loadCursor(ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return ix.initCursor(ctx, addr)
	}

	payments, next, err := ix.source.PaymentsSince(ctx, addr, cursor)
	if err != nil {
		return fmt.Errorf("fetch payments: %w", err)
	}

	ingested := 0
	for _, p := range payments {
		changed, err := ix.ingester.Ingest(ctx, c, p)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", p.TxHash, err)
		}
		if changed {
			ingested++
		}
	}
	if ingested > 0 {
		ix.metrics.IncIndexedPayments(ingested)
		ix.log.Info("indexed payments",
			zap.String("campaign_id", c.ID.String()),
			zap.Int("count", ingested),
			zap.Uint64("lt", next),
		)
	}

	if next > cursor {
		return ix.saveCursor(ctx, addr, next)
	}
	return nil
}

// initCursor starts a new address at its current state so history from
// before the campaign was indexed is not replayed.
func (ix *Indexer) initCursor(ctx context.Context, addr string) error {
	lt, err := ix.source.LatestLT(ctx, addr)
	if err != nil {
		return fmt.Errorf("init cursor: %w", err)
	}
	ix.log.Info("cursor initialized", zap.String("address", addr), zap.Uint64("lt", lt))
	return ix.saveCursor(ctx, addr, lt)
}

func (ix *Indexer) loadCursor(ctx context.Context, addr string) (uint64, bool, error) {
	val, err := ix.rdb.Get(ctx, cursorKeyPrefix+addr).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}
	lt, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor %q: %w", val, err)
	}
	return lt, true, nil
}

func (ix *Indexer) saveCursor(ctx context.Context, addr string, lt uint64) error {
	if err := ix.rdb.Set(ctx, cursorKeyPrefix+addr, strconv.FormatUint(lt, 10), 0).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
