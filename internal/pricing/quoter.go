package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrNoRate = errors.New("no fiat rate available")

const (
	keyRate     = "pricing:rate:"
	keyLastRate = "pricing:rate:last:"
)

// Quoter values amounts of an asset in the reference fiat currency.
// Pegged assets never hit the network. Other rates are cached in Redis
// with a TTL and a last-known copy that is served when the rates API fails.
type Quoter struct {
	rdb        redis.Cmdable
	baseURL    string
	currency   string
	pegged     map[string]decimal.Decimal
	ttl        time.Duration
	httpClient *http.Client
	group      singleflight.Group
	log        *zap.Logger
}

type Options struct {
	BaseURL  string
	Currency string
	Pegged   map[string]decimal.Decimal
	TTL      time.Duration
	Timeout  time.Duration
}

func NewQuoter(rdb redis.Cmdable, opts Options, log *zap.Logger) *Quoter {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	pegged := make(map[string]decimal.Decimal, len(opts.Pegged))
	for k, v := range opts.Pegged {
		pegged[strings.ToUpper(k)] = v
	}
	return &Quoter{
		rdb:        rdb,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		currency:   opts.Currency,
		pegged:     pegged,
		ttl:        opts.TTL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log,
	}
}

// Rate returns the fiat price of one unit of asset.
func (q *Quoter) Rate(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if rate, ok := q.pegged[asset]; ok {
		return rate, nil
	}

	if cached, err := q.rdb.Get(ctx, keyRate+asset).Result(); err == nil {
		if rate, err := decimal.NewFromString(cached); err == nil {
			return rate, nil
		}
	}

	v, err, _ := q.group.Do(asset, func() (any, error) {
		return q.fetch(ctx, asset)
	})
	if err == nil {
		rate := v.(decimal.Decimal)
		pipe := q.rdb.TxPipeline()
		pipe.Set(ctx, keyRate+asset, rate.String(), q.ttl)
		pipe.Set(ctx, keyLastRate+asset, rate.String(), 0)
		if _, perr := pipe.Exec(ctx); perr != nil {
			q.log.Warn("failed to cache rate", zap.String("asset", asset), zap.Error(perr))
		}
		return rate, nil
	}

	last, lerr := q.rdb.Get(ctx, keyLastRate+asset).Result()
	if lerr == nil {
		if rate, perr := decimal.NewFromString(last); perr == nil {
			q.log.Warn("rates api failed, using last known rate", zap.String("asset", asset), zap.Error(err))
			return rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w for %s: %v", ErrNoRate, asset, err)
}

// FiatValue converts amount of asset to fiat, rounded to cents.
func (q *Quoter) FiatValue(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := q.Rate(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (q *Quoter) fetch(ctx context.Context, asset string) (decimal.Decimal, error) {
	if q.baseURL == "" {
		return decimal.Zero, errors.New("rates api not configured")
	}

	u := fmt.Sprintf("%s/rates?asset=%s&currency=%s", q.baseURL, url.QueryEscape(asset), url.QueryEscape(q.currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates api unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return decimal.Zero, fmt.Errorf("rates api returned %d: %s", resp.StatusCode, string(body))
	}

	var out rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate: %w", err)
	}
	if !out.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rates api returned non-positive rate %s", out.Rate)
	}
	return out.Rate, nil
}
