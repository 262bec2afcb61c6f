package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T, handler http.HandlerFunc) (*Quoter, *miniredis.Miniredis, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	q := NewQuoter(rdb, Options{
		BaseURL: srv.URL,
		Pegged:  map[string]decimal.Decimal{"usdc": decimal.NewFromInt(1)},
		TTL:     time.Minute,
	}, zap.NewNop())
	return q, mr, &hits
}

func TestPeggedAssetSkipsNetwork(t *testing.T) {
	q, _, hits := setup(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("rates api must not be called for pegged assets")
	})

	v, err := q.FiatValue(context.Background(), "USDC", decimal.RequireFromString("12.345"))
	require.NoError(t, err)
	assert.Equal(t, "12.35", v.StringFixed(2))
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestRateIsCached(t *testing.T) {
	q, mr, hits := setup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TON", r.URL.Query().Get("asset"))
		assert.Equal(t, "USD", r.URL.Query().Get("currency"))
		_, _ = w.Write([]byte(`{"asset":"TON","rate":"5.20"}`))
	})
	ctx := context.Background()

	v, err := q.FiatValue(ctx, "ton", decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "7.80", v.StringFixed(2))

	_, err = q.Rate(ctx, "TON")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	mr.FastForward(2 * time.Minute)
	_, err = q.Rate(ctx, "TON")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestLastKnownRateServedOnFailure(t *testing.T) {
	var fail atomic.Bool
	q, mr, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"rate":"4"}`))
	})
	ctx := context.Background()

	_, err := q.Rate(ctx, "TON")
	require.NoError(t, err)

	fail.Store(true)
	mr.FastForward(2 * time.Minute)

	rate, err := q.Rate(ctx, "TON")
	require.NoError(t, err)
	assert.Equal(t, "4", rate.String())
}

func TestNoRate(t *testing.T) {
	q, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rate":"0"}`))
	})

	_, err := q.Rate(context.Background(), "DOGE")
	assert.True(t, errors.Is(err, ErrNoRate))
}
