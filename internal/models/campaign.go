package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CampaignStatusActive = "active"
	CampaignStatusClosed = "closed"
)

type Campaign struct {
	ID               uuid.UUID       `json:"id"`
	CareProviderID   uuid.UUID       `json:"care_provider_id"`
	DogID            *uuid.UUID      `json:"dog_id,omitempty"`
	Title            string          `json:"title"`
	GoalFiat         decimal.Decimal `json:"goal_fiat"`
	SpentOnCareFiat  decimal.Decimal `json:"spent_on_care_fiat"`
	EscrowContractID *string         `json:"escrow_contract_id,omitempty"`
	InstantAddress   *string         `json:"instant_address,omitempty"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RailRef returns the campaign's identity on the given rail, or "" when the
// campaign has no reference there.
func (c *Campaign) RailRef(rail Rail) string {
	switch rail {
	case RailEscrow:
		if c.EscrowContractID != nil {
			return *c.EscrowContractID
		}
	case RailInstant:
		if c.InstantAddress != nil {
			return *c.InstantAddress
		}
	}
	return ""
}

func (c *Campaign) AcceptsRail(rail Rail) bool {
	return c.RailRef(rail) != ""
}

// AcceptsFunding is false for campaigns with neither rail reference.
func (c *Campaign) AcceptsFunding() bool {
	return c.AcceptsRail(RailEscrow) || c.AcceptsRail(RailInstant)
}
