package ton

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
)

const nanoExp = -9

// ParseAddress accepts both the raw "wc:hex" form and the user-friendly
// base64 form.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if strings.Contains(s, ":") {
		wc, hash, err := parseRawAddress(s)
		if err != nil {
			return nil, err
		}
		return address.NewAddress(0, byte(int8(wc)), hash), nil
	}
	addr, err := address.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}
	return addr, nil
}

// NormalizeAddress returns the raw lowercase "wc:hex" form. Friendly
// encodings of the same account normalize to the same string regardless of
// their bounce and testnet flags.
func NormalizeAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return rawString(addr), nil
}

// SameAddress reports whether a and b denote the same account. Unparseable
// input never matches.
func SameAddress(a, b string) bool {
	na, err := NormalizeAddress(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeAddress(b)
	if err != nil {
		return false
	}
	return na == nb
}

func rawString(addr *address.Address) string {
	return fmt.Sprintf("%d:%s", addr.Workchain(), hex.EncodeToString(addr.Data()))
}

func parseRawAddress(raw string) (int32, []byte, error) {
	wcPart, hashHex, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, nil, fmt.Errorf("invalid raw address format: %s", raw)
	}
	var wc int32
	switch wcPart {
	case "0":
		wc = 0
	case "-1":
		wc = -1
	default:
		return 0, nil, fmt.Errorf("unsupported workchain %q", wcPart)
	}
	hash, err := hex.DecodeString(strings.ToLower(hashHex))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid address hash hex: %w", err)
	}
	if len(hash) != 32 {
		return 0, nil, fmt.Errorf("address hash must be 32 bytes, got %d", len(hash))
	}
	return wc, hash, nil
}

// NanoToTON converts nanotons to TON without rounding.
func NanoToTON(nano *big.Int) decimal.Decimal {
	if nano == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(nano, nanoExp)
}

// TONToNano truncates anything below one nanoton.
func TONToNano(amount decimal.Decimal) *big.Int {
	return amount.Shift(-nanoExp).Truncate(0).BigInt()
}
