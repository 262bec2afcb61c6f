package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rail balance statuses
const (
	BalanceStatusOK      = "ok"
	BalanceStatusStale   = "stale"   // last-known value served
	BalanceStatusUnknown = "unknown" // query failed, nothing cached
	BalanceStatusNone    = "none"    // campaign has no reference on this rail
)

type RailBalance struct {
	Rail   Rail            `json:"rail"`
	Asset  string          `json:"asset,omitempty"`
	Native decimal.Decimal `json:"native"`
	Fiat   decimal.Decimal `json:"fiat"`
	Status string          `json:"status"`
	AsOf   *time.Time      `json:"as_of,omitempty"`
}

// Contributes reports whether the balance counts towards the campaign total.
func (b RailBalance) Contributes() bool {
	return b.Status == BalanceStatusOK || b.Status == BalanceStatusStale
}

type Balances struct {
	CampaignID  uuid.UUID       `json:"campaign_id"`
	Escrow      RailBalance     `json:"escrow"`
	Instant     RailBalance     `json:"instant"`
	TotalRaised decimal.Decimal `json:"total_raised"`
	Partial     bool            `json:"partial"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

type Aggregation struct {
	CampaignID   uuid.UUID     `json:"campaign_id"`
	Transactions []Transaction `json:"transactions"`
	Partial      bool          `json:"partial"`
	FailedRails  []Rail        `json:"failed_rails,omitempty"`
	FetchedAt    time.Time     `json:"fetched_at"`
}
