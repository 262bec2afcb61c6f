package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	Rail           Rail            `json:"rail"`
	TxHash         string          `json:"tx_hash"`
	Amount         decimal.Decimal `json:"amount"`
	Asset          string          `json:"asset"`
	FiatValue      decimal.Decimal `json:"fiat_value"`
	Counterparty   string          `json:"counterparty,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	CampaignID     uuid.UUID       `json:"campaign_id"`
	DonorID        *uuid.UUID      `json:"donor_id,omitempty"`
	CorroboratedAt *time.Time      `json:"corroborated_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`

	// Observed is set by aggregation when the rail itself reported the
	// payment in the current read. Not persisted.
	Observed bool `json:"observed"`
}

// Corroboration is what a rail reported for a stored transaction. The rail's
// amount, asset and the fiat value derived from them replace the submitted
// ones on first corroboration.
type Corroboration struct {
	Amount       decimal.Decimal
	Asset        string
	FiatValue    decimal.Decimal
	Counterparty string
	DonorID      *uuid.UUID
	ObservedAt   time.Time
}

func (t *Transaction) IsCorroborated() bool {
	return t.CorroboratedAt != nil
}

// Syncing means the record is persisted but the rail has not confirmed it yet.
func (t *Transaction) Syncing() bool {
	return t.CorroboratedAt == nil && !t.Observed
}
