package models

// Donation workflow states
const (
	DonationStateSubmitted          = "submitted"
	DonationStatePersisted          = "persisted"
	DonationStateCorroborating      = "corroborating"
	DonationStateCorroborated       = "corroborated"
	DonationStateProgressionUpdated = "progression_updated"
	DonationStateFailed             = "failed"
)

// Valid state transitions: from -> []to.
// Corroborating may skip straight to progression_updated when the rail
// does not show the payment before the deadline.
var ValidDonationTransitions = map[string][]string{
	DonationStateSubmitted:          {DonationStatePersisted, DonationStateFailed},
	DonationStatePersisted:          {DonationStateCorroborating, DonationStateFailed},
	DonationStateCorroborating:      {DonationStateCorroborated, DonationStateProgressionUpdated, DonationStateFailed},
	DonationStateCorroborated:       {DonationStateProgressionUpdated},
	DonationStateProgressionUpdated: {},
	DonationStateFailed:             {},
}

func IsValidDonationTransition(from, to string) bool {
	allowed, ok := ValidDonationTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
