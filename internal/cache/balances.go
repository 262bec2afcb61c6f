package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wedogs/backend/internal/models"
)

const (
	keyBalances     = "balances:"
	keyLastBalances = "balances:last:"
)

// Balances caches resolved campaign balances in Redis. The fresh entry
// expires after the TTL and is dropped on Invalidate. Last-known rail values
// have no TTL and survive invalidation.
type Balances struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewBalances(rdb redis.Cmdable, ttl time.Duration) *Balances {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Balances{rdb: rdb, ttl: ttl}
}

// Get returns the fresh entry, or nil when there is none.
func (c *Balances) Get(ctx context.Context, campaignID uuid.UUID) (*models.Balances, error) {
	data, err := c.rdb.Get(ctx, keyBalances+campaignID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	var b models.Balances
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return &b, nil
}

func (c *Balances) Set(ctx context.Context, b *models.Balances) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyBalances+b.CampaignID.String(), data, c.ttl).Err()
}

func (c *Balances) Invalidate(ctx context.Context, campaignID uuid.UUID) error {
	return c.rdb.Del(ctx, keyBalances+campaignID.String()).Err()
}

// LastKnown returns the last successfully resolved value for one rail.
func (c *Balances) LastKnown(ctx context.Context, campaignID uuid.UUID, rail models.Rail) (*models.RailBalance, error) {
	data, err := c.rdb.HGet(ctx, keyLastBalances+campaignID.String(), string(rail)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last known balance: %w", err)
	}
	var rb models.RailBalance
	if err := json.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("decode last known balance: %w", err)
	}
	return &rb, nil
}

func (c *Balances) SetLastKnown(ctx context.Context, campaignID uuid.UUID, rb models.RailBalance) error {
	data, err := json.Marshal(rb)
	if err != nil {
		return err
	}
	return c.rdb.HSet(ctx, keyLastBalances+campaignID.String(), string(rb.Rail), data).Err()
}
