package dto

type CreateCampaignRequest struct {
	Title          string  `json:"title"`
	GoalFiat       string  `json:"goal_fiat"`
	DogID          *string `json:"dog_id,omitempty"`
	InstantAddress *string `json:"instant_address,omitempty"`
}

type LinkEscrowRequest struct {
	ContractID string `json:"contract_id"`
}

// RecordDonationRequest is sent by the client right after it submitted the
// transfer on a rail. Amounts are decimal strings.
type RecordDonationRequest struct {
	Rail         string  `json:"rail"`
	Amount       string  `json:"amount"`
	Asset        string  `json:"asset"`
	CampaignID   string  `json:"campaign_id"`
	TxHash       string  `json:"tx_hash"`
	FiatValue    *string `json:"fiat_value,omitempty"`
	DonorAddress string  `json:"donor_address,omitempty"`
}
