package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BalanceService resolves per-rail balances with direct balance queries.
// It never derives a balance from transactions.
type BalanceService struct {
	escrow  EscrowRail
	instant InstantRail
	quoter  FiatQuoter
	cache   BalanceCache
	assets  RailAssets
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewBalanceService(
	escrowRail EscrowRail,
	instantRail InstantRail,
	quoter FiatQuoter,
	cache BalanceCache,
	assets RailAssets,
	timeout time.Duration,
	m *metrics.Metrics,
	log *zap.Logger,
) *BalanceService {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &BalanceService{
		escrow:  escrowRail,
		instant: instantRail,
		quoter:  quoter,
		cache:   cache,
		assets:  assets,
		timeout: timeout,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Resolve serves the cached entry when one is fresh, otherwise queries both
// rails concurrently. Partial results are returned but not cached.
func (s *BalanceService) Resolve(ctx context.Context, c *models.Campaign) *models.Balances {
	cached, err := s.cache.Get(ctx, c.ID)
	if err != nil {
		s.log.Warn("balance cache read failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
	}
	if cached != nil {
		s.metrics.IncBalanceCache("hit")
		return cached
	}
	s.metrics.IncBalanceCache("miss")

	b := s.resolve(ctx, c)
	if !b.Partial {
		if err := s.cache.Set(ctx, b); err != nil {
			s.log.Warn("balance cache write failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		}
	}
	return b
}

// Refresh drops the fresh cache entry and resolves again.
func (s *BalanceService) Refresh(ctx context.Context, c *models.Campaign) *models.Balances {
	if err := s.Invalidate(ctx, c.ID); err != nil {
		s.log.Warn("balance cache invalidate failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
	}
	return s.Resolve(ctx, c)
}

func (s *BalanceService) Invalidate(ctx context.Context, campaignID uuid.UUID) error {
	return s.cache.Invalidate(ctx, campaignID)
}

func (s *BalanceService) resolve(ctx context.Context, c *models.Campaign) *models.Balances {
	b := &models.Balances{CampaignID: c.ID}

	var g errgroup.Group
	g.Go(func() error {
		b.Escrow = s.resolveRail(ctx, c, models.RailEscrow)
		return nil
	})
	g.Go(func() error {
		b.Instant = s.resolveRail(ctx, c, models.RailInstant)
		return nil
	})
	_ = g.Wait()

	b.TotalRaised = decimal.Zero
	for _, rb := range []models.RailBalance{b.Escrow, b.Instant} {
		if rb.Contributes() {
			b.TotalRaised = b.TotalRaised.Add(rb.Fiat)
		}
		if rb.Status == models.BalanceStatusStale || rb.Status == models.BalanceStatusUnknown {
			b.Partial = true
		}
	}
	b.TotalRaised = b.TotalRaised.Round(2)
	b.ResolvedAt = s.now()
	return b
}

func (s *BalanceService) resolveRail(ctx context.Context, c *models.Campaign, rail models.Rail) models.RailBalance {
	ref := c.RailRef(rail)
	if ref == "" {
		return models.RailBalance{Rail: rail, Native: decimal.Zero, Fiat: decimal.Zero, Status: models.BalanceStatusNone}
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	native, asset, err := s.query(rctx, rail, ref)
	if err == nil {
		var fiat decimal.Decimal
		fiat, err = fiatValue(rctx, s.quoter, asset, native)
		if err == nil {
			asOf := s.now()
			rb := models.RailBalance{Rail: rail, Asset: asset, Native: native, Fiat: fiat, Status: models.BalanceStatusOK, AsOf: &asOf}
			if err := s.cache.SetLastKnown(ctx, c.ID, rb); err != nil {
				s.log.Warn("failed to store last known balance", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			}
			return rb
		}
	}

	s.log.Warn("rail balance unavailable",
		zap.String("campaign_id", c.ID.String()),
		zap.String("rail", string(rail)),
		zap.Error(err),
	)

	last, lerr := s.cache.LastKnown(ctx, c.ID, rail)
	if lerr == nil && last != nil {
		s.metrics.IncBalanceCache("stale")
		last.Status = models.BalanceStatusStale
		return *last
	}
	return models.RailBalance{Rail: rail, Asset: s.assets.For(rail), Native: decimal.Zero, Fiat: decimal.Zero, Status: models.BalanceStatusUnknown}
}

func (s *BalanceService) query(ctx context.Context, rail models.Rail, ref string) (decimal.Decimal, string, error) {
	switch rail {
	case models.RailEscrow:
		q, err := s.escrow.GetBalance(ctx, ref)
		if err != nil {
			return decimal.Zero, "", err
		}
		asset := strings.ToUpper(q.Asset)
		if asset == "" {
			asset = strings.ToUpper(s.assets.Escrow)
		}
		return q.Amount, asset, nil
	case models.RailInstant:
		amount, err := s.instant.GetAccountBalance(ctx, ref)
		if err != nil {
			return decimal.Zero, "", err
		}
		return amount, strings.ToUpper(s.assets.Instant), nil
	}
	return decimal.Zero, "", fmt.Errorf("unknown rail %q", rail)
}
