package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type QuestProgress struct {
	QuestID   uuid.UUID       `json:"quest_id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Progress  decimal.Decimal `json:"progress"`
	Threshold decimal.Decimal `json:"threshold"`
	Percent   decimal.Decimal `json:"percent"`
	Completed bool            `json:"completed"`
	Points    int             `json:"points"`
}

// Snapshot is a donor's progression projected from their transactions.
// It is recomputed on demand and never stored as a source of truth.
type Snapshot struct {
	DonorID            uuid.UUID       `json:"donor_id"`
	Quests             []QuestProgress `json:"quests"`
	TotalPoints        int             `json:"total_points"`
	Level              Level           `json:"level"`
	NextLevel          *Level          `json:"next_level,omitempty"`
	NextLevelPercent   decimal.Decimal `json:"next_level_percent"`
	TotalDonated       decimal.Decimal `json:"total_donated"`
	DonationCount      int             `json:"donation_count"`
	CampaignsSupported int             `json:"campaigns_supported"`
	Badges             int             `json:"badges"`
}
