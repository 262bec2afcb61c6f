package services

import "errors"

var (
	ErrInvalidDonation     = errors.New("invalid donation")
	ErrPersistence         = errors.New("donation could not be persisted")
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrDonorNotFound       = errors.New("donor not found")
	ErrInvalidCampaign     = errors.New("invalid campaign")
	ErrIntegrity           = errors.New("escrow contract does not belong to campaign")
	ErrEscrowAlreadyLinked = errors.New("campaign already has an escrow contract")
	ErrForbidden           = errors.New("forbidden")
)
