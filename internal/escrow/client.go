package escrow

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

	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/models"
	"go.uber.org/zap"
)

var ErrContractNotFound = errors.New("escrow contract not found")

const maxErrorBody = 512

// Client talks to the escrow indexer HTTP API. It only reads.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
		log:     log,
	}
}

type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  string          `json:"asset"`
}

type ContractDetails struct {
	ContractID      string `json:"contract_id"`
	EngagementID    string `json:"engagement_id"`
	ReceiverAddress string `json:"receiver_address"`
	Asset           string `json:"asset"`
	Title           string `json:"title"`
}

type paymentDTO struct {
	TxHash    string          `json:"tx_hash"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Memo      string          `json:"memo"`
	Timestamp time.Time       `json:"timestamp"`
}

type paymentsResponse struct {
	Payments []paymentDTO `json:"payments"`
}

func (c *Client) GetBalance(ctx context.Context, contractID string) (q *Quote, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRailQuery(string(models.RailEscrow), "balance", err, time.Since(start)) }()

	var out Quote
	if err := c.get(ctx, "/contracts/"+url.PathEscape(contractID)+"/balance", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPaymentHistory returns deposits into the contract as typed payments.
func (c *Client) GetPaymentHistory(ctx context.Context, contractID string) (payments []models.RailPayment, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRailQuery(string(models.RailEscrow), "history", err, time.Since(start)) }()

	var out paymentsResponse
	if err := c.get(ctx, "/contracts/"+url.PathEscape(contractID)+"/payments", &out); err != nil {
		return nil, err
	}

	payments = make([]models.RailPayment, 0, len(out.Payments))
	for _, p := range out.Payments {
		if p.TxHash == "" {
			c.log.Warn("escrow payment without tx hash", zap.String("contract_id", contractID))
			continue
		}
		to := p.To
		if to == "" {
			to = contractID
		}
		payments = append(payments, models.RailPayment{
			Rail:      models.RailEscrow,
			TxHash:    p.TxHash,
			Amount:    p.Amount,
			Asset:     p.Asset,
			From:      p.From,
			To:        to,
			Memo:      p.Memo,
			Timestamp: p.Timestamp.UTC(),
		})
	}
	return payments, nil
}

func (c *Client) GetContractDetails(ctx context.Context, contractID string) (d *ContractDetails, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRailQuery(string(models.RailEscrow), "details", err, time.Since(start)) }()

	var out ContractDetails
	if err := c.get(ctx, "/contracts/"+url.PathEscape(contractID), &out); err != nil {
		return nil, err
	}
	if out.ContractID == "" {
		out.ContractID = contractID
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("escrow indexer unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrContractNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("escrow indexer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode escrow response: %w", err)
	}
	return nil
}
