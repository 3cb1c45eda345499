package shared

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor units (cents). It encodes to JSON as a number
// with exactly two decimals.
type Money int64

// maxMoneyUnits is the largest whole part NUMERIC(15,2) stores.
const maxMoneyUnits = 9_999_999_999_999

// ErrInvalidAmount rejects amounts that are not plain decimals with at most
// two fraction digits.
var ErrInvalidAmount = NewError(KindValidationFailure, "INVALID_AMOUNT", "invalid amount")

// ParseMoney parses "100", "100.5" or "100.50", optionally prefixed with "-".
// Anything else, more than two decimals or a whole part beyond NUMERIC(15,2) is
// ErrInvalidAmount.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	raw := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, hasFrac := strings.Cut(s, ".")
	switch {
	case !digitsOnly(whole):
		return 0, ErrInvalidAmount.Withf("invalid amount %q", raw)
	case hasFrac && (len(frac) == 0 || len(frac) > 2 || !digitsOnly(frac)):
		return 0, ErrInvalidAmount.Withf("amount %q must have one or two decimals", raw)
	}
	units, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || units > maxMoneyUnits {
		return 0, ErrInvalidAmount.Withf("amount %q is out of range", raw)
	}
	frac += strings.Repeat("0", 2-len(frac))
	cents, _ := strconv.ParseUint(frac, 10, 64)
	m := Money(int64(units)*100 + int64(cents))
	if neg {
		m = -m
	}
	return m, nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders the amount with two decimals.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float64 is used for metrics and reports only.
func (m Money) Float64() float64 {
	return float64(m) / 100
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if string(data) == "null" {
		return nil
	}
	v, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
