package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/ton"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	SortByDate   = "date"
	SortByAmount = "amount"
)

type SortOptions struct {
	By   string
	Desc bool
}

// DefaultSort is newest first.
var DefaultSort = SortOptions{By: SortByDate, Desc: true}

// ParseSort maps query parameters to SortOptions. Empty values fall back to
// the default for that field.
func ParseSort(by, order string) (SortOptions, error) {
	opts := DefaultSort
	switch strings.ToLower(by) {
	case "", SortByDate:
	case SortByAmount:
		opts.By = SortByAmount
	default:
		return opts, fmt.Errorf("unknown sort field %q", by)
	}
	switch strings.ToLower(order) {
	case "", "desc":
		opts.Desc = true
	case "asc":
		opts.Desc = false
	default:
		return opts, fmt.Errorf("unknown sort order %q", order)
	}
	return opts, nil
}

// Aggregator merges both rails' payment histories with the locally stored
// transactions of a campaign.
type Aggregator struct {
	escrow  EscrowRail
	instant InstantRail
	txs     TransactionStore
	quoter  FiatQuoter
	assets  RailAssets
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewAggregator(
	escrowRail EscrowRail,
	instantRail InstantRail,
	txs TransactionStore,
	quoter FiatQuoter,
	assets RailAssets,
	timeout time.Duration,
	m *metrics.Metrics,
	log *zap.Logger,
) *Aggregator {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Aggregator{
		escrow:  escrowRail,
		instant: instantRail,
		txs:     txs,
		quoter:  quoter,
		assets:  assets,
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

// Aggregate never fails. A rail that cannot be read is listed in FailedRails
// and the result is marked partial; the other rail and the local records are
// still returned.
func (a *Aggregator) Aggregate(ctx context.Context, c *models.Campaign, opts SortOptions) *models.Aggregation {
	res := &models.Aggregation{
		CampaignID:   c.ID,
		Transactions: []models.Transaction{},
		FetchedAt:    time.Now().UTC(),
	}
	if !c.AcceptsFunding() {
		return res
	}

	var (
		escrowPays, instantPays []models.RailPayment
		escrowErr, instantErr   error
		local                   []models.Transaction
		localErr                error
	)

	var g errgroup.Group
	if ref := c.RailRef(models.RailEscrow); ref != "" {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			escrowPays, escrowErr = a.escrow.GetPaymentHistory(rctx, ref)
			return nil
		})
	}
	if ref := c.RailRef(models.RailInstant); ref != "" {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			instantPays, instantErr = a.instant.GetPaymentHistory(rctx, ref)
			return nil
		})
	}
	g.Go(func() error {
		local, localErr = a.txs.ListByCampaign(ctx, c.ID)
		return nil
	})
	_ = g.Wait()

	for _, f := range []struct {
		rail models.Rail
		err  error
	}{{models.RailEscrow, escrowErr}, {models.RailInstant, instantErr}} {
		if f.err == nil {
			continue
		}
		res.Partial = true
		res.FailedRails = append(res.FailedRails, f.rail)
		a.metrics.IncAggregationPartial(string(f.rail))
		a.log.Warn("rail history unavailable",
			zap.String("campaign_id", c.ID.String()),
			zap.String("rail", string(f.rail)),
			zap.Error(f.err),
		)
	}
	if localErr != nil {
		res.Partial = true
		a.log.Warn("local transactions unavailable", zap.String("campaign_id", c.ID.String()), zap.Error(localErr))
	}

	rates := newRateMemo(a.quoter)
	escrowTxs := a.toTransactions(ctx, c, models.RailEscrow, escrowPays, rates)
	instantTxs := a.toTransactions(ctx, c, models.RailInstant, instantPays, rates)

	res.Transactions = mergeTransactions(escrowTxs, instantTxs, local)
	sortTransactions(res.Transactions, opts)
	return res
}

// Lookup looks for one payment on one rail. A nil payment with a nil error
// means the rail does not show it yet.
func (a *Aggregator) Lookup(ctx context.Context, c *models.Campaign, rail models.Rail, txHash string) (*models.RailPayment, error) {
	ref := c.RailRef(rail)
	if ref == "" {
		return nil, fmt.Errorf("campaign %s has no %s reference", c.ID, rail)
	}

	rctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		pays []models.RailPayment
		err  error
	)
	switch rail {
	case models.RailEscrow:
		pays, err = a.escrow.GetPaymentHistory(rctx, ref)
	case models.RailInstant:
		pays, err = a.instant.GetPaymentHistory(rctx, ref)
	default:
		return nil, fmt.Errorf("unknown rail %q", rail)
	}
	if err != nil {
		return nil, err
	}

	want := NormalizeTxHash(rail, txHash)
	for i := range pays {
		p := pays[i]
		if NormalizeTxHash(rail, p.TxHash) == want && a.accepts(rail, ref, p) {
			return &p, nil
		}
	}
	return nil, nil
}

// accepts keeps positive payments of the rail's asset addressed to the
// campaign's identity on that rail.
func (a *Aggregator) accepts(rail models.Rail, ref string, p models.RailPayment) bool {
	if !p.Amount.IsPositive() || !a.assets.Matches(rail, p.Asset) {
		return false
	}
	if rail == models.RailInstant {
		return ton.SameAddress(p.To, ref)
	}
	return p.To == ref
}

func (a *Aggregator) toTransactions(ctx context.Context, c *models.Campaign, rail models.Rail, pays []models.RailPayment, rates *rateMemo) []models.Transaction {
	if len(pays) == 0 {
		return nil
	}
	ref := c.RailRef(rail)
	out := make([]models.Transaction, 0, len(pays))
	for _, p := range pays {
		if !a.accepts(rail, ref, p) {
			continue
		}
		fiat, err := rates.value(ctx, p.Asset, p.Amount)
		if err != nil {
			a.log.Debug("no rate for rail payment", zap.String("asset", p.Asset), zap.Error(err))
		}
		out = append(out, models.Transaction{
			Rail:         rail,
			TxHash:       NormalizeTxHash(rail, p.TxHash),
			Amount:       p.Amount,
			Asset:        strings.ToUpper(p.Asset),
			FiatValue:    fiat,
			Counterparty: p.From,
			Timestamp:    p.Timestamp.UTC(),
			CampaignID:   c.ID,
			Observed:     true,
		})
	}
	return out
}

// mergeTransactions deduplicates by tx hash only. Local rows keep their
// identity, donor and fiat value while rail-observed fields overlay them.
// When both rails report one hash the escrow entry wins, whatever order the
// rails answered in.
func mergeTransactions(escrowTxs, instantTxs, local []models.Transaction) []models.Transaction {
	type entry struct {
		tx       models.Transaction
		fromRail bool
	}
	byHash := make(map[string]*entry, len(local)+len(escrowTxs)+len(instantTxs))
	var order []string

	for _, t := range local {
		if _, dup := byHash[t.TxHash]; dup {
			continue
		}
		t.Observed = false
		byHash[t.TxHash] = &entry{tx: t}
		order = append(order, t.TxHash)
	}

	for _, list := range [][]models.Transaction{escrowTxs, instantTxs} {
		for _, rt := range list {
			e, ok := byHash[rt.TxHash]
			if !ok {
				byHash[rt.TxHash] = &entry{tx: rt, fromRail: true}
				order = append(order, rt.TxHash)
				continue
			}
			if e.fromRail {
				continue
			}
			e.fromRail = true
			e.tx.Observed = true
			e.tx.Rail = rt.Rail
			e.tx.Amount = rt.Amount
			e.tx.Asset = rt.Asset
			e.tx.Timestamp = rt.Timestamp
			if e.tx.Counterparty == "" {
				e.tx.Counterparty = rt.Counterparty
			}
			if e.tx.FiatValue.IsZero() || (!e.tx.IsCorroborated() && rt.FiatValue.IsPositive()) {
				e.tx.FiatValue = rt.FiatValue
			}
		}
	}

	out := make([]models.Transaction, 0, len(order))
	for _, h := range order {
		out = append(out, byHash[h].tx)
	}
	return out
}

// sortTransactions orders by timestamp or fiat value and breaks ties by tx
// hash ascending, so the result depends on the data alone.
func sortTransactions(txs []models.Transaction, opts SortOptions) {
	sort.SliceStable(txs, func(i, j int) bool {
		var c int
		switch opts.By {
		case SortByAmount:
			c = txs[i].FiatValue.Cmp(txs[j].FiatValue)
		default:
			c = txs[i].Timestamp.Compare(txs[j].Timestamp)
		}
		if c != 0 {
			if opts.Desc {
				return c > 0
			}
			return c < 0
		}
		return txs[i].TxHash < txs[j].TxHash
	})
}

// NormalizeTxHash trims the hash; instant-rail hashes are hex and compared
// case-insensitively.
func NormalizeTxHash(rail models.Rail, hash string) string {
	hash = strings.TrimSpace(hash)
	if rail == models.RailInstant {
		return strings.ToLower(hash)
	}
	return hash
}

// rateMemo looks each asset up once per aggregation.
type rateMemo struct {
	quoter FiatQuoter
	rates  map[string]decimal.Decimal
	errs   map[string]error
}

func newRateMemo(q FiatQuoter) *rateMemo {
	return &rateMemo{quoter: q, rates: map[string]decimal.Decimal{}, errs: map[string]error{}}
}

func (m *rateMemo) value(ctx context.Context, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)
	if err, failed := m.errs[asset]; failed {
		return decimal.Zero, err
	}
	rate, ok := m.rates[asset]
	if !ok {
		r, err := m.quoter.Rate(ctx, asset)
		if err != nil {
			m.errs[asset] = err
			return decimal.Zero, err
		}
		m.rates[asset] = r
		rate = r
	}
	return amount.Mul(rate).Round(2), nil
}
