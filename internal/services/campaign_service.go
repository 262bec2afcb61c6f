package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wedogs/backend/internal/escrow"
	"github.com/wedogs/backend/internal/events"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/repositories"
	"github.com/wedogs/backend/internal/ton"
	"go.uber.org/zap"
)

// CampaignBalances is implemented by *BalanceService.
type CampaignBalances interface {
	Resolve(ctx context.Context, c *models.Campaign) *models.Balances
	Invalidate(ctx context.Context, campaignID uuid.UUID) error
}

// CampaignLedger is implemented by *Aggregator.
type CampaignLedger interface {
	Aggregate(ctx context.Context, c *models.Campaign, opts SortOptions) *models.Aggregation
}

type CampaignService struct {
	campaignRepo CampaignStore
	auditRepo    AuditStore
	escrow       EscrowRail
	ledger       CampaignLedger
	balances     CampaignBalances
	publisher    events.Publisher
	assets       RailAssets
	log          *zap.Logger
}

func NewCampaignService(
	campaignRepo CampaignStore,
	auditRepo AuditStore,
	escrowRail EscrowRail,
	ledger CampaignLedger,
	balances CampaignBalances,
	publisher events.Publisher,
	assets RailAssets,
	log *zap.Logger,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		auditRepo:    auditRepo,
		escrow:       escrowRail,
		ledger:       ledger,
		balances:     balances,
		publisher:    publisher,
		assets:       assets,
		log:          log,
	}
}

// Create opens a campaign for a care provider. The escrow contract is never
// set here, only through LinkEscrow.
func (s *CampaignService) Create(ctx context.Context, providerID uuid.UUID, c *models.Campaign) error {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidCampaign)
	}
	if !c.GoalFiat.IsPositive() {
		return fmt.Errorf("%w: goal must be positive", ErrInvalidCampaign)
	}
	if c.InstantAddress != nil {
		addr, err := ton.NormalizeAddress(*c.InstantAddress)
		if err != nil {
			return fmt.Errorf("%w: instant address: %w", ErrInvalidCampaign, err)
		}
		c.InstantAddress = &addr
	}

	c.CareProviderID = providerID
	c.EscrowContractID = nil
	c.Status = models.CampaignStatusActive

	if err := s.campaignRepo.Create(ctx, c); err != nil {
		return err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorID:    &providerID,
		ActorType:  models.AuditActorCareProvider,
		Action:     models.AuditActionCampaignCreated,
		EntityType: models.AuditEntityCampaign,
		EntityID:   &c.ID,
	})
	return nil
}

func (s *CampaignService) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, err := s.campaignRepo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CampaignService) List(ctx context.Context, f repositories.CampaignFilter) ([]models.Campaign, error) {
	return s.campaignRepo.List(ctx, f)
}

// LinkEscrow attaches an escrow contract after checking with the escrow
// indexer that the contract was created for this campaign. A mismatch is an
// ErrIntegrity and leaves the campaign untouched. Linking the same contract
// twice is a no-op.
func (s *CampaignService) LinkEscrow(ctx context.Context, campaignID uuid.UUID, contractID string, actorID uuid.UUID) (*models.Campaign, error) {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return nil, fmt.Errorf("%w: contract id is required", ErrIntegrity)
	}

	c, err := s.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.CareProviderID != actorID {
		return nil, ErrForbidden
	}
	if c.EscrowContractID != nil {
		if *c.EscrowContractID == contractID {
			return c, nil
		}
		return nil, ErrEscrowAlreadyLinked
	}

	details, err := s.escrow.GetContractDetails(ctx, contractID)
	if errors.Is(err, escrow.ErrContractNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch escrow contract: %w", err)
	}
	if err := s.verifyContract(c, details); err != nil {
		s.log.Warn("escrow link rejected",
			zap.String("campaign_id", c.ID.String()),
			zap.String("contract_id", contractID),
			zap.Error(err),
		)
		return nil, err
	}

	changed, err := s.campaignRepo.SetEscrowContract(ctx, c.ID, contractID)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Linked concurrently; accept only if it is the same contract.
		current, err := s.GetByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if current.EscrowContractID != nil && *current.EscrowContractID == contractID {
			return current, nil
		}
		return nil, ErrEscrowAlreadyLinked
	}
	c.EscrowContractID = &contractID

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorID:    &actorID,
		ActorType:  models.AuditActorCareProvider,
		Action:     models.AuditActionEscrowLinked,
		EntityType: models.AuditEntityCampaign,
		EntityID:   &c.ID,
		Meta:       map[string]any{"contract_id": contractID, "receiver_address": details.ReceiverAddress},
	})

	if err := s.balances.Invalidate(ctx, c.ID); err != nil {
		s.log.Warn("balance cache invalidate failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
	}

	_ = s.publisher.Publish(ctx, events.StreamDonations, events.Event{
		Type: events.EventEscrowLinked,
		Payload: map[string]any{
			"campaign_id": c.ID.String(),
			"contract_id": contractID,
		},
	})

	s.log.Info("escrow linked", zap.String("campaign_id", c.ID.String()), zap.String("contract_id", contractID))
	return c, nil
}

func (s *CampaignService) verifyContract(c *models.Campaign, d *escrow.ContractDetails) error {
	if !strings.EqualFold(strings.TrimSpace(d.EngagementID), c.ID.String()) {
		return fmt.Errorf("%w: engagement %q does not match campaign", ErrIntegrity, d.EngagementID)
	}
	if c.InstantAddress != nil && !ton.SameAddress(d.ReceiverAddress, *c.InstantAddress) {
		return fmt.Errorf("%w: receiver %q does not match campaign address", ErrIntegrity, d.ReceiverAddress)
	}
	if d.Asset != "" && !s.assets.Matches(models.RailEscrow, d.Asset) {
		return fmt.Errorf("%w: contract holds %s, expected %s", ErrIntegrity, d.Asset, s.assets.Escrow)
	}
	return nil
}

// AuditTrail lists the audit entries of a campaign, newest first. Only the
// owning care provider may read them.
func (s *CampaignService) AuditTrail(ctx context.Context, campaignID, actorID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	c, err := s.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.CareProviderID != actorID {
		return nil, ErrForbidden
	}
	logs, err := s.auditRepo.GetByEntity(ctx, models.AuditEntityCampaign, c.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}

func (s *CampaignService) Transactions(ctx context.Context, id uuid.UUID, opts SortOptions) (*models.Aggregation, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.Aggregate(ctx, c, opts), nil
}

func (s *CampaignService) Balances(ctx context.Context, id uuid.UUID) (*models.Balances, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.balances.Resolve(ctx, c), nil
}
