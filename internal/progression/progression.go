// Package progression projects a donor's donation history onto quests,
// badges and levels. Everything here is a pure function of its input.
package progression

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/models"
)

const (
	// One badge per BadgeStep of fiat donated, at most MaxBadges.
	BadgeStep = 100
	MaxBadges = 7
)

var hundred = decimal.NewFromInt(100)

// DefaultLevel is used when the level table is empty.
var DefaultLevel = models.Level{Name: "Newcomer"}

type totals struct {
	count     int
	sum       decimal.Decimal
	max       decimal.Decimal
	campaigns int
}

func summarize(txs []models.Transaction) totals {
	t := totals{sum: decimal.Zero, max: decimal.Zero}
	seen := make(map[uuid.UUID]struct{})
	for _, tx := range txs {
		if !tx.FiatValue.IsPositive() {
			continue
		}
		t.count++
		t.sum = t.sum.Add(tx.FiatValue)
		if tx.FiatValue.GreaterThan(t.max) {
			t.max = tx.FiatValue
		}
		seen[tx.CampaignID] = struct{}{}
	}
	t.campaigns = len(seen)
	return t
}

func (t totals) progressFor(kind string) decimal.Decimal {
	switch kind {
	case models.QuestKindDonationCount:
		return decimal.NewFromInt(int64(t.count))
	case models.QuestKindSingleDonation:
		return t.max
	case models.QuestKindTotalDonations:
		return t.sum
	case models.QuestKindUniqueCampaigns:
		return decimal.NewFromInt(int64(t.campaigns))
	}
	return decimal.Zero
}

// Percent returns progress/threshold as a percentage in [0, 100], rounded
// to two places. A non-positive threshold counts as done.
func Percent(progress, threshold decimal.Decimal) decimal.Decimal {
	if !threshold.IsPositive() {
		return hundred
	}
	p := progress.Div(threshold).Mul(hundred)
	if p.GreaterThan(hundred) {
		return hundred
	}
	if p.IsNegative() {
		return decimal.Zero
	}
	return p.Round(2)
}

// Badges returns how many badges a donor has earned for total fiat donated.
func Badges(total decimal.Decimal) int {
	n := total.Div(decimal.NewFromInt(BadgeStep)).Floor().IntPart()
	if n > MaxBadges {
		return MaxBadges
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// Project computes the donor's snapshot. Transactions with a non-positive
// fiat value do not count towards anything. Quests keep their input order.
func Project(donorID uuid.UUID, txs []models.Transaction, quests []models.Quest, levels []models.Level) models.Snapshot {
	t := summarize(txs)

	snap := models.Snapshot{
		DonorID:            donorID,
		Quests:             make([]models.QuestProgress, 0, len(quests)),
		TotalDonated:       t.sum,
		DonationCount:      t.count,
		CampaignsSupported: t.campaigns,
		Badges:             Badges(t.sum),
	}

	for _, q := range quests {
		progress := t.progressFor(q.Kind)
		qp := models.QuestProgress{
			QuestID:   q.ID,
			Name:      q.Name,
			Kind:      q.Kind,
			Progress:  progress,
			Threshold: q.Threshold,
			Percent:   Percent(progress, q.Threshold),
			Completed: progress.GreaterThanOrEqual(q.Threshold),
			Points:    q.Points,
		}
		if qp.Completed {
			snap.TotalPoints += q.Points
		}
		snap.Quests = append(snap.Quests, qp)
	}

	snap.Level, snap.NextLevel = ResolveLevel(t.sum, t.count, levels)
	snap.NextLevelPercent = hundred
	if snap.NextLevel != nil {
		byTotal := Percent(t.sum, snap.NextLevel.MinTotalDonated)
		byCount := Percent(decimal.NewFromInt(int64(t.count)), decimal.NewFromInt(int64(snap.NextLevel.MinDonationCount)))
		snap.NextLevelPercent = decimal.Min(byTotal, byCount)
	}

	return snap
}

// ResolveLevel picks the highest level, ordered by total then count, whose
// thresholds are both met. A lower level that is skipped does not block a
// higher one. The lowest level is the default and the next level is the one
// following the current in that order.
func ResolveLevel(total decimal.Decimal, count int, levels []models.Level) (models.Level, *models.Level) {
	if len(levels) == 0 {
		return DefaultLevel, nil
	}

	sorted := make([]models.Level, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := a.MinTotalDonated.Cmp(b.MinTotalDonated); c != 0 {
			return c < 0
		}
		if a.MinDonationCount != b.MinDonationCount {
			return a.MinDonationCount < b.MinDonationCount
		}
		return a.Rank < b.Rank
	})

	at := 0
	for i := 1; i < len(sorted); i++ {
		l := sorted[i]
		if !total.LessThan(l.MinTotalDonated) && count >= l.MinDonationCount {
			at = i
		}
	}
	if at == len(sorted)-1 {
		return sorted[at], nil
	}
	next := sorted[at+1]
	return sorted[at], &next
}
