package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wedogs/backend/internal/events"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/progression"
	"github.com/wedogs/backend/internal/repositories"
	"go.uber.org/zap"
)

type ProgressionService struct {
	txs       TransactionStore
	donors    DonorStore
	quests    QuestStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewProgressionService(
	txs TransactionStore,
	donors DonorStore,
	quests QuestStore,
	publisher events.Publisher,
	log *zap.Logger,
) *ProgressionService {
	return &ProgressionService{
		txs:       txs,
		donors:    donors,
		quests:    quests,
		publisher: publisher,
		log:       log,
	}
}

// Project recomputes the donor's snapshot from their stored transactions.
// The cached totals on the donor row are not read.
func (s *ProgressionService) Project(ctx context.Context, donorID uuid.UUID) (*models.Snapshot, error) {
	if _, err := s.donors.GetByID(ctx, donorID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrDonorNotFound
		}
		return nil, fmt.Errorf("load donor: %w", err)
	}

	txs, err := s.txs.ListByDonor(ctx, donorID)
	if err != nil {
		return nil, fmt.Errorf("load donor transactions: %w", err)
	}
	quests, err := s.quests.ListActiveQuests(ctx)
	if err != nil {
		return nil, fmt.Errorf("load quests: %w", err)
	}
	levels, err := s.quests.ListLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load levels: %w", err)
	}

	snap := progression.Project(donorID, txs, quests, levels)
	return &snap, nil
}

// Refresh projects and rewrites the donor's cached totals.
func (s *ProgressionService) Refresh(ctx context.Context, donorID uuid.UUID) (*models.Snapshot, error) {
	snap, err := s.Project(ctx, donorID)
	if err != nil {
		return nil, err
	}

	if err := s.donors.UpdateStats(ctx, donorID, snap.TotalDonated, snap.DonationCount, snap.CampaignsSupported); err != nil {
		return nil, fmt.Errorf("update donor stats: %w", err)
	}

	_ = s.publisher.Publish(ctx, events.StreamDonations, events.Event{
		Type: events.EventProgressionUpdated,
		Payload: map[string]any{
			"donor_id":      donorID.String(),
			"total_points":  snap.TotalPoints,
			"level":         snap.Level.Name,
			"total_donated": snap.TotalDonated.StringFixed(2),
			"badges":        snap.Badges,
		},
	})

	s.log.Debug("progression refreshed",
		zap.String("donor_id", donorID.String()),
		zap.String("level", snap.Level.Name),
		zap.Int("points", snap.TotalPoints),
	)
	return snap, nil
}
