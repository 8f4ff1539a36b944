package ledger

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// Decimals is the number of fractional digits in one whole unit (wei scale).
const Decimals = 18

var unit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))

// Unit returns 10^Decimals.
func Unit() *uint256.Int {
	return unit.Clone()
}

// ParseAmount converts a decimal string such as "0.10" into base units.
// A value without a decimal point is read as whole units.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", types.ErrInvalidValue)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", types.ErrInvalidValue, s, Decimals)
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: amount %q is not a decimal number", types.ErrInvalidValue, s)
		}
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", types.ErrInvalidValue, s, err)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants; it panics on error.
func MustParseAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatAmount renders base units as a decimal string with trailing zeros trimmed,
// keeping at least one fractional digit.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0.0"
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(v, unit, r)

	frac := r.Dec()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	return q.Dec() + "." + frac
}

// Fee returns floor(price * bps / 10000). The second result reports overflow.
func Fee(price *uint256.Int, bps types.BasisPoints) (*uint256.Int, bool) {
	fee, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(uint64(bps)))
	if overflow {
		return nil, true
	}
	return fee.Div(fee, uint256.NewInt(10_000)), false
}
