package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/escrow"
	"github.com/wedogs/backend/internal/events"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/repositories"
)

var testAssets = RailAssets{Escrow: "USDC", Instant: "TON"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

// memTxStore is an in-memory TransactionStore keyed by tx hash.
type memTxStore struct {
	mu      sync.Mutex
	rows    map[string]models.Transaction
	inserts int
	failAll error
}

func newMemTxStore() *memTxStore {
	return &memTxStore{rows: map[string]models.Transaction{}}
}

func (m *memTxStore) InsertIfAbsent(ctx context.Context, t *models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return false, m.failAll
	}
	if existing, ok := m.rows[t.TxHash]; ok {
		*t = existing
		return false, nil
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.rows[t.TxHash] = *t
	m.inserts++
	return true, nil
}

func (m *memTxStore) GetByHash(ctx context.Context, hash string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &t, nil
}

func (m *memTxStore) MarkCorroborated(ctx context.Context, hash string, obs models.Corroboration) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if t.CorroboratedAt == nil {
		if obs.Amount.IsPositive() {
			t.Amount = obs.Amount
			t.FiatValue = obs.FiatValue
		}
		if obs.Asset != "" {
			t.Asset = obs.Asset
		}
		if !obs.ObservedAt.IsZero() {
			t.Timestamp = obs.ObservedAt
		}
		now := time.Now()
		t.CorroboratedAt = &now
	}
	if t.Counterparty == "" {
		t.Counterparty = obs.Counterparty
	}
	if t.DonorID == nil {
		t.DonorID = obs.DonorID
	}
	m.rows[hash] = t
	return &t, nil
}

func (m *memTxStore) AttributeDonor(ctx context.Context, hash string, donorID uuid.UUID) (*models.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return nil, false, repositories.ErrNotFound
	}
	if t.DonorID != nil {
		return &t, false, nil
	}
	t.DonorID = &donorID
	m.rows[hash] = t
	return &t, true, nil
}

func (m *memTxStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	var out []models.Transaction
	for _, t := range m.rows {
		if t.CampaignID == campaignID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTxStore) ListByDonor(ctx context.Context, donorID uuid.UUID) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.rows {
		if t.DonorID != nil && *t.DonorID == donorID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTxStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memCampaignStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]models.Campaign
	links     int
}

func newMemCampaignStore(cs ...models.Campaign) *memCampaignStore {
	m := &memCampaignStore{campaigns: map[uuid.UUID]models.Campaign{}}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *memCampaignStore) Create(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.campaigns[c.ID] = *c
	return nil
}

func (m *memCampaignStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (m *memCampaignStore) List(ctx context.Context, f repositories.CampaignFilter) ([]models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Campaign
	for _, c := range m.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (m *memCampaignStore) SetEscrowContract(ctx context.Context, id uuid.UUID, contractID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.EscrowContractID != nil {
		return false, nil
	}
	c.EscrowContractID = &contractID
	m.campaigns[id] = c
	m.links++
	return true, nil
}

type memDonorStore struct {
	mu     sync.Mutex
	donors map[uuid.UUID]models.Donor
	stats  int
}

func newMemDonorStore(ds ...models.Donor) *memDonorStore {
	m := &memDonorStore{donors: map[uuid.UUID]models.Donor{}}
	for _, d := range ds {
		m.donors[d.ID] = d
	}
	return m
}

func (m *memDonorStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Donor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.donors[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &d, nil
}

func (m *memDonorStore) GetByAddress(ctx context.Context, address string) (*models.Donor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.donors {
		if d.WalletAddress != nil && *d.WalletAddress == address {
			return &d, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memDonorStore) UpdateStats(ctx context.Context, id uuid.UUID, total decimal.Decimal, count, campaigns int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.donors[id]
	if !ok {
		return repositories.ErrNotFound
	}
	d.TotalDonatedFiat = total
	d.DonationCount = count
	d.CampaignsSupported = campaigns
	m.donors[id] = d
	m.stats++
	return nil
}

type staticQuests struct {
	quests []models.Quest
	levels []models.Level
}

func (s staticQuests) ListActiveQuests(ctx context.Context) ([]models.Quest, error) {
	return s.quests, nil
}

func (s staticQuests) ListLevels(ctx context.Context) ([]models.Level, error) {
	return s.levels, nil
}

type nopAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *nopAudit) Log(ctx context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *nopAudit) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// fakeEscrow serves fixed data per contract, optionally delaying or failing.
type fakeEscrow struct {
	mu       sync.Mutex
	balances map[string]escrow.Quote
	history  map[string][]models.RailPayment
	details  map[string]escrow.ContractDetails
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeEscrow) wait(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	delay, err := f.delay, f.err
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeEscrow) GetBalance(ctx context.Context, contractID string) (*escrow.Quote, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	q, ok := f.balances[contractID]
	if !ok {
		return nil, escrow.ErrContractNotFound
	}
	return &q, nil
}

func (f *fakeEscrow) GetPaymentHistory(ctx context.Context, contractID string) ([]models.RailPayment, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RailPayment(nil), f.history[contractID]...), nil
}

func (f *fakeEscrow) GetContractDetails(ctx context.Context, contractID string) (*escrow.ContractDetails, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	d, ok := f.details[contractID]
	if !ok {
		return nil, escrow.ErrContractNotFound
	}
	return &d, nil
}

type fakeInstant struct {
	mu      sync.Mutex
	balance map[string]decimal.Decimal
	history map[string][]models.RailPayment
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeInstant) wait(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	delay, err := f.delay, f.err
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeInstant) GetAccountBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := f.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return f.balance[address], nil
}

func (f *fakeInstant) GetPaymentHistory(ctx context.Context, address string) ([]models.RailPayment, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RailPayment(nil), f.history[address]...), nil
}

func (f *fakeInstant) addPayment(address string, p models.RailPayment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.history == nil {
		f.history = map[string][]models.RailPayment{}
	}
	f.history[address] = append(f.history[address], p)
}

type fixedRates map[string]decimal.Decimal

func (r fixedRates) Rate(ctx context.Context, asset string) (decimal.Decimal, error) {
	rate, ok := r[asset]
	if !ok {
		return decimal.Zero, errors.New("no rate")
	}
	return rate, nil
}

var testRates = fixedRates{"USDC": decimal.NewFromInt(1), "TON": decimal.NewFromInt(5)}

// memBalanceCache mirrors cache.Balances without TTLs.
type memBalanceCache struct {
	mu    sync.Mutex
	fresh map[uuid.UUID]models.Balances
	last  map[string]models.RailBalance
}

func newMemBalanceCache() *memBalanceCache {
	return &memBalanceCache{fresh: map[uuid.UUID]models.Balances{}, last: map[string]models.RailBalance{}}
}

func (c *memBalanceCache) Get(ctx context.Context, id uuid.UUID) (*models.Balances, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.fresh[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (c *memBalanceCache) Set(ctx context.Context, b *models.Balances) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh[b.CampaignID] = *b
	return nil
}

func (c *memBalanceCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fresh, id)
	return nil
}

func (c *memBalanceCache) LastKnown(ctx context.Context, id uuid.UUID, rail models.Rail) (*models.RailBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rb, ok := c.last[id.String()+string(rail)]
	if !ok {
		return nil, nil
	}
	return &rb, nil
}

func (c *memBalanceCache) SetLastKnown(ctx context.Context, id uuid.UUID, rb models.RailBalance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[id.String()+string(rb.Rail)] = rb
	return nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
