package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wedogs/backend/internal/events"
	"github.com/wedogs/backend/internal/models"
	"go.uber.org/zap"
)

func TestProgressionService(t *testing.T) {
	donor := models.Donor{ID: uuid.New(), TotalDonatedFiat: dec("9999"), DonationCount: 99}
	donors := newMemDonorStore(donor)
	txs := newMemTxStore()
	pub := &recordingPublisher{}

	campaignA, campaignB := uuid.New(), uuid.New()
	for i, tx := range []models.Transaction{
		{TxHash: "a", FiatValue: dec("60"), CampaignID: campaignA, DonorID: &donor.ID},
		{TxHash: "b", FiatValue: dec("70"), CampaignID: campaignB, DonorID: &donor.ID},
		{TxHash: "c", FiatValue: dec("500"), CampaignID: campaignB},
	} {
		tx.Rail = models.RailEscrow
		tx.Amount = tx.FiatValue
		_, err := txs.InsertIfAbsent(context.Background(), &tx)
		require.NoError(t, err, i)
	}

	quests := staticQuests{
		quests: []models.Quest{
			{ID: uuid.New(), Name: "Two Campaigns", Kind: models.QuestKindUniqueCampaigns, Threshold: dec("2"), Points: 20},
			{ID: uuid.New(), Name: "Big Heart", Kind: models.QuestKindSingleDonation, Threshold: dec("100"), Points: 50},
		},
		levels: []models.Level{{Name: "Newcomer", Rank: 1}, {Name: "Supporter", Rank: 2, MinTotalDonated: dec("100"), MinDonationCount: 2}},
	}
	svc := NewProgressionService(txs, donors, quests, pub, zap.NewNop())

	snap, err := svc.Refresh(context.Background(), donor.ID)
	require.NoError(t, err)

	assert.Equal(t, "130.00", snap.TotalDonated.StringFixed(2), "cached donor totals are ignored")
	assert.Equal(t, 2, snap.DonationCount)
	assert.Equal(t, 20, snap.TotalPoints)
	assert.Equal(t, "Supporter", snap.Level.Name)
	assert.Equal(t, 1, snap.Badges)

	stored, err := donors.GetByID(context.Background(), donor.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.DonationCount)
	assert.Equal(t, 2, stored.CampaignsSupported)
	assert.Equal(t, []string{events.EventProgressionUpdated}, pub.types())

	_, err = svc.Project(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDonorNotFound)
}
