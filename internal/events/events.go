package events

import (
	"context"
	"time"
)

// Event types
const (
	EventDonationRecorded     = "donation_recorded"
	EventDonationCorroborated = "donation_corroborated"
	EventDonationSyncing      = "donation_syncing"
	EventBalancesUpdated      = "balances_updated"
	EventProgressionUpdated   = "progression_updated"
	EventEscrowLinked         = "escrow_linked"
)

// StreamDonations carries every donation, balance and progression event.
const StreamDonations = "events:donations"

type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// CampaignID returns the campaign the event belongs to, if any.
func (e Event) CampaignID() string {
	id, _ := e.Payload["campaign_id"].(string)
	return id
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
