package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionEscrowLinked     = "campaign.escrow_linked"
	AuditActionDonationRecorded = "donation.recorded"
	AuditActionDonationClaimed  = "donation.claimed"
	AuditActionCampaignCreated  = "campaign.created"
)

const (
	AuditEntityCampaign    = "campaign"
	AuditEntityTransaction = "transaction"
)

const (
	AuditActorGuest        = "guest"
	AuditActorDonor        = "donor"
	AuditActorCareProvider = "care_provider"
)

// AuditLog is an append-only record of a state change. Meta is stored as
// jsonb.
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	ActorType  string     `json:"actor_type"`
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty"`
	Meta       any        `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
