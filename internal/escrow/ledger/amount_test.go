package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0.10", "100000000000000000"},
		{"1", "1000000000000000000"},
		{".5", "500000000000000000"},
		{"0.0975", "97500000000000000"},
		{"0", "0"},
		{"0.000000000000000001", "1"},
		{" 2.5 ", "2500000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "-1", "0.0000000000000000001", "1e18"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAmount(in)
			require.ErrorIs(t, err, types.ErrInvalidValue)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0.1", FormatAmount(MustParseAmount("0.10")))
	require.Equal(t, "0.0975", FormatAmount(MustParseAmount("0.0975")))
	require.Equal(t, "12.0", FormatAmount(MustParseAmount("12")))
	require.Equal(t, "0.000000000000000001", FormatAmount(uint256.NewInt(1)))
	require.Equal(t, "0.0", FormatAmount(nil))
}

func TestFee(t *testing.T) {
	price := MustParseAmount("0.10")

	fee, overflow := Fee(price, 250)
	require.False(t, overflow)
	require.Equal(t, "0.0025", FormatAmount(fee))

	// Floor division: 3 * 250 / 10000 = 0.075 -> 0.
	fee, _ = Fee(uint256.NewInt(3), 250)
	require.True(t, fee.IsZero())

	maxPrice := new(uint256.Int).SetAllOne()
	_, overflow = Fee(maxPrice, 2)
	require.True(t, overflow)
}

func TestFee_NeverExceedsPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := uint256.NewInt(rapid.Uint64Min(1).Draw(t, "price"))
		bps := types.BasisPoints(rapid.IntRange(0, int(types.MaxFeeBps)).Draw(t, "bps"))

		fee, overflow := Fee(price, bps)
		if overflow {
			t.Fatalf("unexpected overflow for %s", price.Dec())
		}
		if fee.Gt(price) {
			t.Fatalf("fee %s exceeds price %s", fee.Dec(), price.Dec())
		}
		// fee*10000 <= price*bps < (fee+1)*10000
		lhs := new(uint256.Int).Mul(fee, uint256.NewInt(10_000))
		rhs := new(uint256.Int).Mul(price, uint256.NewInt(uint64(bps)))
		if lhs.Gt(rhs) {
			t.Fatalf("fee not floored")
		}
		next := new(uint256.Int).Add(lhs, uint256.NewInt(10_000))
		if !rhs.Lt(next) {
			t.Fatalf("fee too small")
		}
	})
}

func TestParseFormatRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := uint256.NewInt(rapid.Uint64().Draw(t, "wei"))
		back, err := ParseAmount(FormatAmount(v))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !back.Eq(v) {
			t.Fatalf("round trip %s -> %s", v.Dec(), back.Dec())
		}
	})
}
