package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quest requirement kinds
const (
	QuestKindDonationCount   = "donation_count"
	QuestKindSingleDonation  = "single_donation"
	QuestKindTotalDonations  = "total_donations"
	QuestKindUniqueCampaigns = "unique_campaigns"
)

func IsValidQuestKind(kind string) bool {
	switch kind {
	case QuestKindDonationCount, QuestKindSingleDonation, QuestKindTotalDonations, QuestKindUniqueCampaigns:
		return true
	}
	return false
}

type Quest struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Threshold decimal.Decimal `json:"threshold"`
	Points    int             `json:"points"`
	IsActive  bool            `json:"is_active"`
}

type Level struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	Rank             int             `json:"rank"`
	MinTotalDonated  decimal.Decimal `json:"min_total_donated"`
	MinDonationCount int             `json:"min_donation_count"`
}
