package escrow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wedogs/backend/internal/models"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/contracts/C1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"contract_id":"C1","engagement_id":"camp-1","receiver_address":"GABC","asset":"USDC","title":"Rex"}`))
	})
	mux.HandleFunc("/contracts/C1/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		_, _ = w.Write([]byte(`{"amount":"120.00","asset":"USDC"}`))
	})
	mux.HandleFunc("/contracts/C1/payments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payments":[
			{"tx_hash":"h1","amount":"40.5","asset":"USDC","from":"GDONOR","timestamp":"2024-05-01T10:00:00Z"},
			{"tx_hash":"","amount":"1","asset":"USDC","timestamp":"2024-05-01T11:00:00Z"},
			{"tx_hash":"h2","amount":79.5,"asset":"XLM","from":"GOTHER","to":"C1","memo":"hi","timestamp":"2024-05-02T10:00:00+02:00"}
		]}`))
	})
	mux.HandleFunc("/contracts/BROKEN/balance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream rpc timeout"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetBalance(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/", "secret", time.Second, nil, zap.NewNop())

	q, err := c.GetBalance(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "120", q.Amount.String())
	assert.Equal(t, "USDC", q.Asset)

	_, err = NewClient(srv.URL, "wrong", time.Second, nil, zap.NewNop()).GetBalance(context.Background(), "C1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = c.GetBalance(context.Background(), "BROKEN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream rpc timeout")

	_, err = c.GetBalance(context.Background(), "MISSING")
	assert.True(t, errors.Is(err, ErrContractNotFound))
}

func TestGetPaymentHistory(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", time.Second, nil, zap.NewNop())

	payments, err := c.GetPaymentHistory(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, payments, 2)

	assert.Equal(t, models.RailEscrow, payments[0].Rail)
	assert.Equal(t, "h1", payments[0].TxHash)
	assert.Equal(t, "40.5", payments[0].Amount.String())
	assert.Equal(t, "C1", payments[0].To)

	assert.Equal(t, "XLM", payments[1].Asset)
	assert.Equal(t, "79.5", payments[1].Amount.String())
	assert.Equal(t, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC), payments[1].Timestamp)
}

func TestGetContractDetails(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, "secret", time.Second, nil, zap.NewNop())

	d, err := c.GetContractDetails(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "camp-1", d.EngagementID)
	assert.Equal(t, "GABC", d.ReceiverAddress)

	_, err = c.GetContractDetails(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrContractNotFound)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 50*time.Millisecond, nil, zap.NewNop())
	_, err := c.GetBalance(context.Background(), "C1")
	assert.Error(t, err)
}
