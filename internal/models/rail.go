package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Rail string

const (
	RailEscrow  Rail = "escrow"
	RailInstant Rail = "instant"
)

// Rails lists every rail in merge-preference order.
var Rails = []Rail{RailEscrow, RailInstant}

func ParseRail(s string) (Rail, error) {
	switch Rail(s) {
	case RailEscrow, RailInstant:
		return Rail(s), nil
	}
	return "", fmt.Errorf("unknown rail %q", s)
}

func (r Rail) String() string {
	return string(r)
}

// RailPayment is a single incoming payment as reported by one rail's
// history API. Rail clients build it; nothing downstream sees raw payloads.
type RailPayment struct {
	Rail      Rail            `json:"rail"`
	TxHash    string          `json:"tx_hash"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Memo      string          `json:"memo,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
