package progression

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wedogs/backend/internal/models"
)

var (
	donorID   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	campaignA = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	campaignB = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tx(hash, fiat string, campaign uuid.UUID) models.Transaction {
	return models.Transaction{
		TxHash:     hash,
		FiatValue:  d(fiat),
		CampaignID: campaign,
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func quest(name, kind, threshold string, points int) models.Quest {
	return models.Quest{ID: uuid.NewSHA1(uuid.Nil, []byte(name)), Name: name, Kind: kind, Threshold: d(threshold), Points: points, IsActive: true}
}

var levels = []models.Level{
	{Name: "Guardian", Rank: 3, MinTotalDonated: d("1000"), MinDonationCount: 10},
	{Name: "Newcomer", Rank: 0},
	{Name: "Supporter", Rank: 2, MinTotalDonated: d("250"), MinDonationCount: 3},
	{Name: "Friend", Rank: 1, MinTotalDonated: d("50"), MinDonationCount: 1},
}

func TestCumulativeQuestScenario(t *testing.T) {
	txs := []models.Transaction{
		tx("a", "40", campaignA),
		tx("b", "60", campaignA),
		tx("c", "100", campaignB),
	}
	quests := []models.Quest{quest("Care Fund", models.QuestKindTotalDonations, "150", 60)}

	snap := Project(donorID, txs, quests, levels)

	require.Len(t, snap.Quests, 1)
	q := snap.Quests[0]
	assert.True(t, q.Completed)
	assert.Equal(t, "100", q.Percent.String())
	assert.Equal(t, "200", q.Progress.String())
	assert.Equal(t, 60, snap.TotalPoints)
	assert.Equal(t, "200", snap.TotalDonated.String())
	assert.Equal(t, 2, snap.Badges)
}

func TestQuestKinds(t *testing.T) {
	txs := []models.Transaction{
		tx("a", "40", campaignA),
		tx("b", "75.5", campaignB),
		tx("c", "10", campaignA),
		tx("refund", "0", campaignB),
	}
	quests := []models.Quest{
		quest("count", models.QuestKindDonationCount, "5", 10),
		quest("single", models.QuestKindSingleDonation, "75", 20),
		quest("total", models.QuestKindTotalDonations, "250", 30),
		quest("unique", models.QuestKindUniqueCampaigns, "2", 40),
		quest("unknown", "streak", "1", 50),
	}

	snap := Project(donorID, txs, quests, levels)

	tests := []struct {
		name      string
		progress  string
		percent   string
		completed bool
	}{
		{"count", "3", "60", false},
		{"single", "75.5", "100", true},
		{"total", "125.5", "50.2", false},
		{"unique", "2", "100", true},
		{"unknown", "0", "0", false},
	}
	require.Len(t, snap.Quests, len(tests))
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := snap.Quests[i]
			assert.Equal(t, tt.name, q.Name)
			assert.Equal(t, tt.progress, q.Progress.String())
			assert.Equal(t, tt.percent, q.Percent.String())
			assert.Equal(t, tt.completed, q.Completed)
		})
	}
	assert.Equal(t, 60, snap.TotalPoints)
	assert.Equal(t, 3, snap.DonationCount)
	assert.Equal(t, 2, snap.CampaignsSupported)
}

func TestPercentIsClamped(t *testing.T) {
	quests := []models.Quest{quest("total", models.QuestKindTotalDonations, "100", 5)}
	snap := Project(donorID, []models.Transaction{tx("a", "500", campaignA)}, quests, levels)

	assert.Equal(t, "100", snap.Quests[0].Percent.String())
	assert.Equal(t, "500", snap.Quests[0].Progress.String())

	assert.Equal(t, "100", Percent(d("3"), d("0")).String())
	assert.Equal(t, "33.33", Percent(d("1"), d("3")).String())
}

func TestProjectIsDeterministic(t *testing.T) {
	txs := []models.Transaction{tx("a", "40", campaignA), tx("b", "260", campaignB), tx("c", "5", campaignA)}
	quests := []models.Quest{
		quest("count", models.QuestKindDonationCount, "3", 10),
		quest("total", models.QuestKindTotalDonations, "1000", 30),
	}

	first := Project(donorID, txs, quests, levels)
	second := Project(donorID, txs, quests, levels)
	assert.Equal(t, first, second)
}

func TestAppendingNeverDecreases(t *testing.T) {
	quests := []models.Quest{
		quest("count", models.QuestKindDonationCount, "5", 10),
		quest("single", models.QuestKindSingleDonation, "100", 20),
		quest("total", models.QuestKindTotalDonations, "500", 30),
		quest("unique", models.QuestKindUniqueCampaigns, "3", 40),
	}
	amounts := []string{"10", "45", "0.5", "120", "80", "300", "15", "700"}

	var txs []models.Transaction
	prev := Project(donorID, txs, quests, levels)
	for i, amount := range amounts {
		campaign := campaignA
		if i%2 == 1 {
			campaign = campaignB
		}
		txs = append(txs, tx(string(rune('a'+i)), amount, campaign))
		next := Project(donorID, txs, quests, levels)

		for j := range quests {
			assert.False(t, next.Quests[j].Progress.LessThan(prev.Quests[j].Progress), "quest %s after tx %d", quests[j].Name, i)
		}
		assert.GreaterOrEqual(t, next.Level.Rank, prev.Level.Rank, "level after tx %d", i)
		assert.GreaterOrEqual(t, next.TotalPoints, prev.TotalPoints)
		prev = next
	}
	assert.Equal(t, "Supporter", prev.Level.Name)
}

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		count    int
		levels   []models.Level
		want     string
		wantNext string
	}{
		{"empty table falls back to newcomer", "999", 99, nil, "Newcomer", ""},
		{"nothing met returns lowest", "0", 0, levels, "Newcomer", "Friend"},
		{"total met but count not", "300", 2, levels, "Friend", "Supporter"},
		{"both met", "300", 3, levels, "Supporter", "Guardian"},
		{"top level", "5000", 40, levels, "Guardian", ""},
		{"higher level reached past an unmet lower one", "250", 6, []models.Level{
			{Name: "Base", Rank: 1},
			{Name: "Regular", Rank: 2, MinTotalDonated: d("100"), MinDonationCount: 10},
			{Name: "Patron", Rank: 3, MinTotalDonated: d("200"), MinDonationCount: 5},
		}, "Patron", ""},
		{"only the lower of two crossing levels met", "150", 12, []models.Level{
			{Name: "Base", Rank: 1},
			{Name: "Regular", Rank: 2, MinTotalDonated: d("100"), MinDonationCount: 10},
			{Name: "Patron", Rank: 3, MinTotalDonated: d("200"), MinDonationCount: 5},
		}, "Regular", "Patron"},
		{"lowest level with thresholds is still default", "0", 0, []models.Level{{Name: "Pup", Rank: 1, MinTotalDonated: d("10"), MinDonationCount: 1}}, "Pup", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, next := ResolveLevel(d(tt.total), tt.count, tt.levels)
			assert.Equal(t, tt.want, level.Name)
			if tt.wantNext == "" {
				assert.Nil(t, next)
			} else {
				require.NotNil(t, next)
				assert.Equal(t, tt.wantNext, next.Name)
			}
		})
	}
}

func TestNextLevelPercentUsesLesserThreshold(t *testing.T) {
	// Supporter needs 250 and 3 donations: 200/250 = 80%, 2/3 = 66.67%.
	txs := []models.Transaction{tx("a", "100", campaignA), tx("b", "100", campaignA)}
	snap := Project(donorID, txs, nil, levels)

	assert.Equal(t, "Friend", snap.Level.Name)
	require.NotNil(t, snap.NextLevel)
	assert.Equal(t, "66.67", snap.NextLevelPercent.String())
}

func TestBadges(t *testing.T) {
	tests := []struct {
		total string
		want  int
	}{
		{"0", 0},
		{"99.99", 0},
		{"100", 1},
		{"250", 2},
		{"700", 7},
		{"12000", 7},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			assert.Equal(t, tt.want, Badges(d(tt.total)))
		})
	}
}
