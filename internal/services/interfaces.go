package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/escrow"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/repositories"
)

type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	List(ctx context.Context, f repositories.CampaignFilter) ([]models.Campaign, error)
	SetEscrowContract(ctx context.Context, id uuid.UUID, contractID string) (bool, error)
}

type TransactionStore interface {
	InsertIfAbsent(ctx context.Context, t *models.Transaction) (bool, error)
	GetByHash(ctx context.Context, hash string) (*models.Transaction, error)
	MarkCorroborated(ctx context.Context, hash string, obs models.Corroboration) (*models.Transaction, error)
	AttributeDonor(ctx context.Context, hash string, donorID uuid.UUID) (*models.Transaction, bool, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Transaction, error)
	ListByDonor(ctx context.Context, donorID uuid.UUID) ([]models.Transaction, error)
}

type DonorStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Donor, error)
	GetByAddress(ctx context.Context, address string) (*models.Donor, error)
	UpdateStats(ctx context.Context, id uuid.UUID, total decimal.Decimal, count, campaigns int) error
}

type QuestStore interface {
	ListActiveQuests(ctx context.Context) ([]models.Quest, error)
	ListLevels(ctx context.Context) ([]models.Level, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type AuditStore interface {
	AuditLogger
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// EscrowRail is implemented by *escrow.Client.
type EscrowRail interface {
	GetBalance(ctx context.Context, contractID string) (*escrow.Quote, error)
	GetPaymentHistory(ctx context.Context, contractID string) ([]models.RailPayment, error)
	GetContractDetails(ctx context.Context, contractID string) (*escrow.ContractDetails, error)
}

// InstantRail is implemented by *ton.Client.
type InstantRail interface {
	GetAccountBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetPaymentHistory(ctx context.Context, address string) ([]models.RailPayment, error)
}

// FiatQuoter is implemented by *pricing.Quoter.
type FiatQuoter interface {
	Rate(ctx context.Context, asset string) (decimal.Decimal, error)
}

// BalanceCache is implemented by *cache.Balances.
type BalanceCache interface {
	Get(ctx context.Context, campaignID uuid.UUID) (*models.Balances, error)
	Set(ctx context.Context, b *models.Balances) error
	Invalidate(ctx context.Context, campaignID uuid.UUID) error
	LastKnown(ctx context.Context, campaignID uuid.UUID, rail models.Rail) (*models.RailBalance, error)
	SetLastKnown(ctx context.Context, campaignID uuid.UUID, rb models.RailBalance) error
}

// RailAssets names the asset each rail is expected to carry.
type RailAssets struct {
	Escrow  string
	Instant string
}

func (a RailAssets) For(rail models.Rail) string {
	if rail == models.RailEscrow {
		return a.Escrow
	}
	return a.Instant
}

func (a RailAssets) Matches(rail models.Rail, asset string) bool {
	return strings.EqualFold(a.For(rail), strings.TrimSpace(asset))
}

func fiatValue(ctx context.Context, q FiatQuoter, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := q.Rate(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}
