package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/events"
	"github.com/wedogs/backend/internal/metrics"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/repositories"
	"github.com/wedogs/backend/internal/ton"
	"go.uber.org/zap"
)

var errNotVisible = errors.New("payment not visible on rail yet")

// PaymentLookup is implemented by *Aggregator.
type PaymentLookup interface {
	Lookup(ctx context.Context, c *models.Campaign, rail models.Rail, txHash string) (*models.RailPayment, error)
}

// BalanceRefresher is implemented by *BalanceService.
type BalanceRefresher interface {
	Refresh(ctx context.Context, c *models.Campaign) *models.Balances
}

// ProgressionRefresher is implemented by *ProgressionService.
type ProgressionRefresher interface {
	Refresh(ctx context.Context, donorID uuid.UUID) (*models.Snapshot, error)
}

// CorroborationPolicy bounds how long a new donation waits for its rail.
type CorroborationPolicy struct {
	Attempts int
	Interval time.Duration
	Deadline time.Duration
}

var DefaultCorroborationPolicy = CorroborationPolicy{
	Attempts: 4,
	Interval: 1500 * time.Millisecond,
	Deadline: 8 * time.Second,
}

type RecordRequest struct {
	Rail       models.Rail
	Amount     decimal.Decimal
	Asset      string
	CampaignID uuid.UUID
	DonorID    *uuid.UUID
	TxHash     string
	// FiatValue, when set, is the client's valuation at transfer time.
	FiatValue *decimal.Decimal
	// DonorAddress is the sender address as claimed by the client. It is
	// only used to attribute the donation when the rail gives no sender.
	DonorAddress string
}

type Receipt struct {
	Transaction models.Transaction `json:"transaction"`
	State       string             `json:"state"`
	Duplicate   bool               `json:"duplicate"`
	Syncing     bool               `json:"syncing"`
}

// DonationService records donations and follows each one until its rail
// confirms it or the corroboration deadline passes. Every donation runs in
// its own goroutine; they share nothing but the WaitGroup.
type DonationService struct {
	campaigns   CampaignStore
	txs         TransactionStore
	donors      DonorStore
	lookup      PaymentLookup
	quoter      FiatQuoter
	balances    BalanceRefresher
	progression ProgressionRefresher
	audit       AuditLogger
	publisher   events.Publisher
	assets      RailAssets
	policy      CorroborationPolicy
	metrics     *metrics.Metrics
	log         *zap.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

func NewDonationService(
	campaigns CampaignStore,
	txs TransactionStore,
	donors DonorStore,
	lookup PaymentLookup,
	quoter FiatQuoter,
	balances BalanceRefresher,
	progression ProgressionRefresher,
	audit AuditLogger,
	publisher events.Publisher,
	assets RailAssets,
	policy CorroborationPolicy,
	m *metrics.Metrics,
	log *zap.Logger,
) *DonationService {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultCorroborationPolicy.Attempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultCorroborationPolicy.Interval
	}
	if policy.Deadline <= 0 {
		policy.Deadline = DefaultCorroborationPolicy.Deadline
	}
	return &DonationService{
		campaigns:   campaigns,
		txs:         txs,
		donors:      donors,
		lookup:      lookup,
		quoter:      quoter,
		balances:    balances,
		progression: progression,
		audit:       audit,
		publisher:   publisher,
		assets:      assets,
		policy:      policy,
		metrics:     m,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Record persists the donation and returns as soon as it is stored.
// Corroboration and the balance and progression updates continue in the
// background. Replays of a tx hash return the stored row.
func (s *DonationService) Record(ctx context.Context, req RecordRequest) (*Receipt, error) {
	state := models.DonationStateSubmitted

	c, err := s.validate(ctx, &req)
	if err != nil {
		if errors.Is(err, ErrInvalidDonation) {
			return nil, err
		}
		return &Receipt{State: s.advance(req.TxHash, state, models.DonationStateFailed)}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	fiat, err := s.valuation(ctx, req)
	if err != nil {
		return &Receipt{State: s.advance(req.TxHash, state, models.DonationStateFailed)}, fmt.Errorf("%w: value donation: %w", ErrPersistence, err)
	}

	tx := models.Transaction{
		Rail:       req.Rail,
		TxHash:     req.TxHash,
		Amount:     req.Amount,
		Asset:      req.Asset,
		FiatValue:  fiat,
		Timestamp:  s.now(),
		CampaignID: c.ID,
		DonorID:    req.DonorID,
	}

	inserted, err := s.txs.InsertIfAbsent(ctx, &tx)
	if err != nil {
		s.log.Error("failed to persist donation", zap.String("tx_hash", req.TxHash), zap.Error(err))
		return &Receipt{State: s.advance(req.TxHash, state, models.DonationStateFailed)}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if !inserted {
		if tx.CampaignID != c.ID {
			return nil, fmt.Errorf("%w: tx %s is already recorded for another campaign", ErrInvalidDonation, tx.TxHash)
		}
		s.log.Info("duplicate donation submission", zap.String("tx_hash", tx.TxHash), zap.String("campaign_id", c.ID.String()))
		if req.DonorID != nil && tx.DonorID == nil {
			if err := s.claim(ctx, &tx, *req.DonorID); err != nil {
				return nil, err
			}
		}
		dupState := models.DonationStatePersisted
		if tx.IsCorroborated() {
			dupState = models.DonationStateProgressionUpdated
		}
		return &Receipt{Transaction: tx, State: dupState, Duplicate: true, Syncing: !tx.IsCorroborated()}, nil
	}

	state = s.advance(tx.TxHash, state, models.DonationStatePersisted)

	actorType := models.AuditActorGuest
	if tx.DonorID != nil {
		actorType = models.AuditActorDonor
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorID:    tx.DonorID,
		ActorType:  actorType,
		Action:     models.AuditActionDonationRecorded,
		EntityType: models.AuditEntityTransaction,
		EntityID:   &tx.ID,
		Meta:       map[string]any{"tx_hash": tx.TxHash, "rail": tx.Rail, "campaign_id": c.ID.String()},
	})
	s.publish(ctx, events.EventDonationRecorded, &tx, true)

	hint := req.DonorAddress
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.corroborate(bg, c, tx, hint, true)
	}()

	return &Receipt{Transaction: tx, State: state, Syncing: true}, nil
}

// Wait blocks until every background workflow has finished.
func (s *DonationService) Wait() {
	s.wg.Wait()
}

// Resync runs corroboration again for a stored row the rail had not shown
// in time. It runs synchronously and returns the final state.
func (s *DonationService) Resync(ctx context.Context, tx models.Transaction) (string, error) {
	if tx.IsCorroborated() {
		return models.DonationStateProgressionUpdated, nil
	}
	c, err := s.campaigns.GetByID(ctx, tx.CampaignID)
	if err != nil {
		return models.DonationStateFailed, fmt.Errorf("load campaign %s: %w", tx.CampaignID, err)
	}
	return s.corroborate(ctx, c, tx, "", false), nil
}

// Ingest records a payment the indexer saw on the rail. Such payments are
// corroborated by construction. It reports whether anything changed.
func (s *DonationService) Ingest(ctx context.Context, c *models.Campaign, p models.RailPayment) (bool, error) {
	ref := c.RailRef(p.Rail)
	if ref == "" || !p.Amount.IsPositive() || !s.assets.Matches(p.Rail, p.Asset) {
		return false, nil
	}
	if p.Rail == models.RailInstant && !ton.SameAddress(p.To, ref) {
		return false, nil
	}

	fiat, err := fiatValue(ctx, s.quoter, p.Asset, p.Amount)
	if err != nil {
		return false, fmt.Errorf("value payment %s: %w", p.TxHash, err)
	}

	donorID := s.resolveDonor(ctx, p.From, "")
	corroboratedAt := s.now()
	tx := models.Transaction{
		Rail:           p.Rail,
		TxHash:         NormalizeTxHash(p.Rail, p.TxHash),
		Amount:         p.Amount,
		Asset:          strings.ToUpper(p.Asset),
		FiatValue:      fiat,
		Counterparty:   p.From,
		Timestamp:      p.Timestamp.UTC(),
		CampaignID:     c.ID,
		DonorID:        donorID,
		CorroboratedAt: &corroboratedAt,
	}

	inserted, err := s.txs.InsertIfAbsent(ctx, &tx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !inserted {
		if tx.IsCorroborated() || tx.CampaignID != c.ID {
			return false, nil
		}
		updated, err := s.txs.MarkCorroborated(ctx, tx.TxHash, models.Corroboration{
			Amount:       p.Amount,
			Asset:        strings.ToUpper(p.Asset),
			FiatValue:    fiat,
			Counterparty: p.From,
			DonorID:      donorID,
			ObservedAt:   p.Timestamp,
		})
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		tx = *updated
	}

	tx.Observed = true
	s.metrics.IncCorroboration("indexed")
	s.publish(ctx, events.EventDonationCorroborated, &tx, false)
	s.settle(ctx, c, &tx)
	return true, nil
}

func (s *DonationService) validate(ctx context.Context, req *RecordRequest) (*models.Campaign, error) {
	req.TxHash = NormalizeTxHash(req.Rail, req.TxHash)
	req.Asset = strings.ToUpper(strings.TrimSpace(req.Asset))

	if req.TxHash == "" {
		return nil, fmt.Errorf("%w: tx hash is required", ErrInvalidDonation)
	}
	if _, err := models.ParseRail(string(req.Rail)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDonation, err)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidDonation)
	}
	if req.FiatValue != nil && req.FiatValue.IsNegative() {
		return nil, fmt.Errorf("%w: fiat value must not be negative", ErrInvalidDonation)
	}
	if !s.assets.Matches(req.Rail, req.Asset) {
		return nil, fmt.Errorf("%w: %s rail accepts %s, got %q", ErrInvalidDonation, req.Rail, s.assets.For(req.Rail), req.Asset)
	}

	c, err := s.campaigns.GetByID(ctx, req.CampaignID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDonation, ErrCampaignNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if !c.AcceptsRail(req.Rail) {
		return nil, fmt.Errorf("%w: campaign does not accept %s donations", ErrInvalidDonation, req.Rail)
	}
	if c.Status != models.CampaignStatusActive {
		return nil, fmt.Errorf("%w: campaign is %s", ErrInvalidDonation, c.Status)
	}
	return c, nil
}

func (s *DonationService) valuation(ctx context.Context, req RecordRequest) (decimal.Decimal, error) {
	if req.FiatValue != nil {
		return req.FiatValue.Round(2), nil
	}
	return fiatValue(ctx, s.quoter, req.Asset, req.Amount)
}

// corroborate polls the rail with bounded retries. Running out of attempts
// or time is not a failure: the stored row stays authoritative and the
// donation is reported as syncing when announce is set. Once the rail shows
// the payment, its amount and asset replace the submitted ones and the fiat
// value is recomputed from them.
func (s *DonationService) corroborate(ctx context.Context, c *models.Campaign, tx models.Transaction, hint string, announce bool) string {
	state := s.advance(tx.TxHash, models.DonationStatePersisted, models.DonationStateCorroborating)

	found, err := s.poll(ctx, c, tx)
	if err != nil {
		s.log.Info("donation not yet visible on rail",
			zap.String("tx_hash", tx.TxHash),
			zap.String("rail", string(tx.Rail)),
			zap.Error(err),
		)
		return s.syncing(ctx, c, tx, hint, announce, state)
	}

	fiat, err := fiatValue(ctx, s.quoter, found.Asset, found.Amount)
	if err != nil {
		s.log.Warn("cannot value rail payment, leaving donation unconfirmed",
			zap.String("tx_hash", tx.TxHash),
			zap.String("asset", found.Asset),
			zap.Error(err),
		)
		return s.syncing(ctx, c, tx, hint, announce, state)
	}
	if !found.Amount.Equal(tx.Amount) {
		s.log.Warn("submitted amount differs from rail",
			zap.String("tx_hash", tx.TxHash),
			zap.String("submitted", tx.Amount.String()),
			zap.String("rail", found.Amount.String()),
		)
	}

	donorID := tx.DonorID
	if donorID == nil {
		donorID = s.resolveDonor(ctx, found.From, hint)
	}

	updated, err := s.txs.MarkCorroborated(ctx, tx.TxHash, models.Corroboration{
		Amount:       found.Amount,
		Asset:        strings.ToUpper(found.Asset),
		FiatValue:    fiat,
		Counterparty: found.From,
		DonorID:      donorID,
		ObservedAt:   found.Timestamp,
	})
	if err != nil {
		s.metrics.IncCorroboration("failed")
		s.log.Error("failed to store corroboration", zap.String("tx_hash", tx.TxHash), zap.Error(err))
		return s.advance(tx.TxHash, state, models.DonationStateFailed)
	}
	tx = *updated
	tx.Observed = true
	state = s.advance(tx.TxHash, state, models.DonationStateCorroborated)

	s.metrics.IncCorroboration("corroborated")
	s.publish(ctx, events.EventDonationCorroborated, &tx, false)
	s.settle(ctx, c, &tx)
	return s.advance(tx.TxHash, state, models.DonationStateProgressionUpdated)
}

// syncing finishes a workflow whose payment the rail has not shown. The
// client's address hint still attributes the donation when it matches a
// donor.
func (s *DonationService) syncing(ctx context.Context, c *models.Campaign, tx models.Transaction, hint string, announce bool, state string) string {
	s.metrics.IncCorroboration("syncing")

	attributed := false
	if tx.DonorID == nil && hint != "" {
		if donorID := s.resolveDonor(ctx, "", hint); donorID != nil {
			updated, changed, err := s.txs.AttributeDonor(ctx, tx.TxHash, *donorID)
			if err != nil {
				s.log.Warn("failed to attribute donor", zap.String("tx_hash", tx.TxHash), zap.Error(err))
			} else {
				tx = *updated
				attributed = changed
			}
		}
	}

	if announce {
		s.publish(ctx, events.EventDonationSyncing, &tx, true)
	}
	if announce || attributed {
		s.settle(ctx, c, &tx)
	}
	return s.advance(tx.TxHash, state, models.DonationStateProgressionUpdated)
}

// claim attributes an already stored, donor-less donation to the donor who
// submitted it and refreshes that donor's progression in the background.
func (s *DonationService) claim(ctx context.Context, tx *models.Transaction, donorID uuid.UUID) error {
	updated, changed, err := s.txs.AttributeDonor(ctx, tx.TxHash, donorID)
	if err != nil {
		return fmt.Errorf("%w: attribute donor: %w", ErrPersistence, err)
	}
	*tx = *updated
	if !changed {
		return nil
	}

	s.log.Info("donation attributed to donor",
		zap.String("tx_hash", tx.TxHash),
		zap.String("donor_id", donorID.String()),
	)
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorID:    &donorID,
		ActorType:  models.AuditActorDonor,
		Action:     models.AuditActionDonationClaimed,
		EntityType: models.AuditEntityTransaction,
		EntityID:   &tx.ID,
		Meta:       map[string]any{"tx_hash": tx.TxHash},
	})

	bg := context.WithoutCancel(ctx)
	claimed := *tx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refreshDonor(bg, &claimed)
	}()
	return nil
}

func (s *DonationService) poll(ctx context.Context, c *models.Campaign, tx models.Transaction) (*models.RailPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.Deadline)
	defer cancel()

	var found *models.RailPayment
	backoff := retry.WithMaxRetries(uint64(s.policy.Attempts-1), retry.NewConstant(s.policy.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := s.lookup.Lookup(ctx, c, tx.Rail, tx.TxHash)
		if err != nil {
			return retry.RetryableError(err)
		}
		if p == nil {
			return retry.RetryableError(errNotVisible)
		}
		found = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// settle recomputes what depends on the new transaction: campaign balances
// always, donor progression when the donor is known.
func (s *DonationService) settle(ctx context.Context, c *models.Campaign, tx *models.Transaction) {
	b := s.balances.Refresh(ctx, c)
	_ = s.publisher.Publish(ctx, events.StreamDonations, events.Event{
		Type: events.EventBalancesUpdated,
		Payload: map[string]any{
			"campaign_id":  c.ID.String(),
			"total_raised": b.TotalRaised.StringFixed(2),
			"partial":      b.Partial,
		},
	})

	s.refreshDonor(ctx, tx)
}

func (s *DonationService) refreshDonor(ctx context.Context, tx *models.Transaction) {
	if tx.DonorID == nil {
		return
	}
	if _, err := s.progression.Refresh(ctx, *tx.DonorID); err != nil {
		s.log.Warn("progression refresh failed",
			zap.String("donor_id", tx.DonorID.String()),
			zap.String("tx_hash", tx.TxHash),
			zap.Error(err),
		)
	}
}

// resolveDonor matches the rail sender, or the client's hint when the rail
// reported none, against registered donor wallets. No match is not an error.
func (s *DonationService) resolveDonor(ctx context.Context, from, hint string) *uuid.UUID {
	for _, candidate := range []string{from, hint} {
		if candidate == "" {
			continue
		}
		addr := candidate
		if normalized, err := ton.NormalizeAddress(candidate); err == nil {
			addr = normalized
		}
		d, err := s.donors.GetByAddress(ctx, addr)
		if err == nil {
			return &d.ID
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			s.log.Warn("donor lookup failed", zap.String("address", addr), zap.Error(err))
		}
	}
	return nil
}

func (s *DonationService) advance(txHash, from, to string) string {
	if !models.IsValidDonationTransition(from, to) {
		s.log.Error("invalid donation transition", zap.String("tx_hash", txHash), zap.String("from", from), zap.String("to", to))
		return from
	}
	s.log.Debug("donation state", zap.String("tx_hash", txHash), zap.String("from", from), zap.String("to", to))
	return to
}

func (s *DonationService) publish(ctx context.Context, eventType string, tx *models.Transaction, syncing bool) {
	payload := map[string]any{
		"campaign_id": tx.CampaignID.String(),
		"tx_hash":     tx.TxHash,
		"rail":        string(tx.Rail),
		"amount":      tx.Amount.String(),
		"asset":       tx.Asset,
		"fiat_value":  tx.FiatValue.StringFixed(2),
		"syncing":     syncing,
	}
	if tx.DonorID != nil {
		payload["donor_id"] = tx.DonorID.String()
	}
	if tx.Counterparty != "" {
		payload["from"] = tx.Counterparty
	}
	_ = s.publisher.Publish(ctx, events.StreamDonations, events.Event{Type: eventType, Payload: payload})
}
