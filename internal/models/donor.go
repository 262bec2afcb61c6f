package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Donor totals are a cache of the last progression projection. Business
// logic recomputes them from transactions instead of reading them.
type Donor struct {
	ID                 uuid.UUID       `json:"id"`
	WalletAddress      *string         `json:"wallet_address,omitempty"`
	TotalDonatedFiat   decimal.Decimal `json:"total_donated_fiat"`
	DonationCount      int             `json:"donation_count"`
	CampaignsSupported int             `json:"campaigns_supported"`
	StatsUpdatedAt     *time.Time      `json:"stats_updated_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
