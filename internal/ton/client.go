package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/models"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const (
	AssetTON    = "TON"
	AssetJetton = "JETTON"

	opTextComment          = 0x00000000
	opJettonTransferNotify = 0x7362d09c

	defaultBatchSize = 50
	defaultMaxPages  = 10
)

// API is the subset of the lite-server client used here.
// ton.APIClientWrapped satisfies it.
type API interface {
	CurrentMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	GetAccount(ctx context.Context, block *ton.BlockIDExt, addr *address.Address) (*tlb.Account, error)
	ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error)
}

type NetworkConfig struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect opens a lite-server connection pool. With an explicit host and key
// it talks to that server only, otherwise it discovers servers from the
// network's global config.
func Connect(ctx context.Context, cfg NetworkConfig, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if isMainnet(cfg.Network) {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	policy := ton.ProofCheckPolicyFast
	if isMainnet(cfg.Network) {
		policy = ton.ProofCheckPolicySecure
	}
	return ton.NewAPIClient(client, policy).WithRetry(), nil
}

func isMainnet(network string) bool {
	return strings.EqualFold(network, "mainnet")
}

// Client reads balances and incoming payments of instant-rail accounts.
type Client struct {
	api       API
	batchSize uint32
	maxPages  int
	metrics   *metrics.Metrics
	log       *zap.Logger
}

type Option func(*Client)

// WithMaxPages bounds how far back GetPaymentHistory pages.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

func WithBatchSize(n uint32) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(api API, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		api:       api,
		batchSize: defaultBatchSize,
		maxPages:  defaultMaxPages,
		log:       log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) account(ctx context.Context, addr *address.Address) (*tlb.Account, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}
	account, err := c.api.GetAccount(ctx, block, addr)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// GetAccountBalance returns the account balance in TON. Accounts that were
// never deployed hold zero.
func (c *Client) GetAccountBalance(ctx context.Context, addr string) (bal decimal.Decimal, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRailQuery(string(models.RailInstant), "balance", err, time.Since(start)) }()

	parsed, err := ParseAddress(addr)
	if err != nil {
		return decimal.Zero, err
	}
	account, err := c.account(ctx, parsed)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil || !account.IsActive || account.State == nil {
		return decimal.Zero, nil
	}
	return NanoToTON(account.State.Balance.Nano()), nil
}

// GetPaymentHistory returns incoming payments of the account, newest first,
// looking back at most maxPages pages of transactions.
func (c *Client) GetPaymentHistory(ctx context.Context, addr string) (payments []models.RailPayment, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRailQuery(string(models.RailInstant), "history", err, time.Since(start)) }()

	parsed, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	account, err := c.account(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		return nil, nil
	}

	txs, err := c.listBackwards(ctx, parsed, account.LastTxLT, account.LastTxHash, 0, c.maxPages)
	if err != nil {
		return nil, err
	}

	to := rawString(parsed)
	for i := len(txs) - 1; i >= 0; i-- {
		if p, ok := paymentFromTx(txs[i], to); ok {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

// PaymentsSince returns incoming payments with logical time above cursorLT in
// chronological order, along with the account's latest logical time to use
// as the next cursor.
func (c *Client) PaymentsSince(ctx context.Context, addr string, cursorLT uint64) ([]models.RailPayment, uint64, error) {
	parsed, err := ParseAddress(addr)
	if err != nil {
		return nil, cursorLT, err
	}
	account, err := c.account(ctx, parsed)
	if err != nil {
		return nil, cursorLT, err
	}
	if account == nil || !account.IsActive || account.LastTxLT <= cursorLT {
		return nil, cursorLT, nil
	}

	txs, err := c.listBackwards(ctx, parsed, account.LastTxLT, account.LastTxHash, cursorLT, 0)
	if err != nil {
		return nil, cursorLT, err
	}

	to := rawString(parsed)
	var payments []models.RailPayment
	for _, tx := range txs {
		if p, ok := paymentFromTx(tx, to); ok {
			payments = append(payments, p)
		}
	}
	return payments, account.LastTxLT, nil
}

// LatestLT returns the account's last transaction logical time, zero for
// inactive accounts.
func (c *Client) LatestLT(ctx context.Context, addr string) (uint64, error) {
	parsed, err := ParseAddress(addr)
	if err != nil {
		return 0, err
	}
	account, err := c.account(ctx, parsed)
	if err != nil {
		return 0, err
	}
	if account == nil || !account.IsActive {
		return 0, nil
	}
	return account.LastTxLT, nil
}

// listBackwards pages ListTransactions from (lt, hash) towards older
// transactions until it passes stopLT or reaches maxPages (0 = unbounded).
// Results are returned oldest first.
func (c *Client) listBackwards(ctx context.Context, addr *address.Address, lt uint64, hash []byte, stopLT uint64, maxPages int) ([]*tlb.Transaction, error) {
	var all []*tlb.Transaction

	for page := 0; maxPages == 0 || page < maxPages; page++ {
		txs, err := c.api.ListTransactions(ctx, addr, c.batchSize, lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reachedStop := false
		for _, tx := range txs {
			if tx.LT <= stopLT {
				reachedStop = true
				continue
			}
			all = append(all, tx)
		}

		if reachedStop || len(txs) < int(c.batchSize) {
			break
		}

		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt = oldest.PrevTxLT
		hash = oldest.PrevTxHash
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].LT < all[j].LT
	})
	return all, nil
}

// paymentFromTx turns an incoming, non-bounced internal message carrying
// value into a RailPayment. Everything else is skipped.
func paymentFromTx(tx *tlb.Transaction, to string) (models.RailPayment, bool) {
	if tx == nil || tx.IO.In == nil {
		return models.RailPayment{}, false
	}
	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil || inMsg.Bounced {
		return models.RailPayment{}, false
	}
	nano := inMsg.Amount.Nano()
	if nano.Sign() <= 0 {
		return models.RailPayment{}, false
	}

	asset, memo := classifyBody(inMsg)

	from := ""
	if inMsg.SrcAddr != nil {
		from = rawString(inMsg.SrcAddr)
	}

	return models.RailPayment{
		Rail:      models.RailInstant,
		TxHash:    hex.EncodeToString(tx.Hash),
		Amount:    NanoToTON(nano),
		Asset:     asset,
		From:      from,
		To:        to,
		Memo:      memo,
		Timestamp: time.Unix(int64(tx.Now), 0).UTC(),
	}, true
}

func classifyBody(inMsg *tlb.InternalMessage) (asset, memo string) {
	if inMsg.Body == nil {
		return AssetTON, ""
	}
	slice := inMsg.Body.BeginParse()
	if slice.BitsLeft() < 32 {
		return AssetTON, ""
	}
	op, err := slice.LoadUInt(32)
	if err != nil {
		return AssetTON, ""
	}

	switch op {
	case opTextComment:
		text, err := slice.LoadStringSnake()
		if err != nil {
			return AssetTON, ""
		}
		return AssetTON, strings.TrimSpace(text)
	case opJettonTransferNotify:
		return AssetJetton, ""
	}
	return AssetTON, ""
}
