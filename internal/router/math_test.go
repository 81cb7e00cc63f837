package router

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAmountOutMin_SlippageBound(t *testing.T) {
	quotes := []*big.Int{
		big.NewInt(1),
		big.NewInt(999_999),
		new(big.Int).Mul(big.NewInt(123_456_789), big.NewInt(1e18)),
	}
	for _, quoted := range quotes {
		for bps := int64(0); bps <= BpsDenominator; bps += 37 {
			min := AmountOutMin(quoted, bps)

			// min*10000 <= quoted*(10000-bps) < (min+1)*10000
			lhs := new(big.Int).Mul(min, bigBps)
			target := new(big.Int).Mul(quoted, big.NewInt(BpsDenominator-bps))
			upper := new(big.Int).Add(lhs, bigBps)
			assert.True(t, lhs.Cmp(target) <= 0, "quoted=%s bps=%d", quoted, bps)
			assert.True(t, target.Cmp(upper) < 0, "quoted=%s bps=%d", quoted, bps)
			assert.True(t, min.Cmp(quoted) <= 0)
		}
	}

	assert.Equal(t, "0", AmountOutMin(big.NewInt(1000), BpsDenominator).String())
	assert.Equal(t, "1000", AmountOutMin(big.NewInt(1000), 0).String())
	assert.Equal(t, "990", AmountOutMin(big.NewInt(1000), 100).String())
	assert.Equal(t, "989", AmountOutMin(big.NewInt(999), 100).String())
}

func TestImpactBps(t *testing.T) {
	tests := []struct {
		name string
		mid  *big.Int
		out  *big.Int
		want int64
	}{
		{"no mid", nil, big.NewInt(10), 0},
		{"zero mid", big.NewInt(0), big.NewInt(10), 0},
		{"at mid", big.NewInt(1000), big.NewInt(1000), 0},
		{"above mid", big.NewInt(1000), big.NewInt(1010), 0},
		{"one percent", big.NewInt(1000), big.NewInt(990), 100},
		{"truncates", big.NewInt(997), big.NewInt(990), 70},
		{"wiped out", big.NewInt(1000), big.NewInt(0), 10_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ImpactBps(tt.mid, tt.out))
		})
	}
}

func TestV2AmountOut(t *testing.T) {
	out := v2AmountOut(big.NewInt(1000), big.NewInt(1_000_000), big.NewInt(1_000_000), 30)
	assert.Equal(t, "996", out.String())

	// zero fee on a deep pool is close to the mid price
	out = v2AmountOut(big.NewInt(1000), big.NewInt(1e15), big.NewInt(2e15), 0)
	assert.Equal(t, "1999", out.String())
}

func TestV3MidOut(t *testing.T) {
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	// sqrtPrice = 2 * 2^96 means token0 is worth 4 token1.
	sqrtP := new(big.Int).Mul(q96, big.NewInt(2))

	assert.Equal(t, "4000", v3MidOut(big.NewInt(1000), sqrtP, true).String())
	assert.Equal(t, "250", v3MidOut(big.NewInt(1000), sqrtP, false).String())
	assert.Equal(t, "0", v3MidOut(big.NewInt(1000), new(big.Int), true).String())
}

func TestUnitsConversion(t *testing.T) {
	raw, _ := new(big.Int).SetString("1234567890000000000000", 10)
	assert.Equal(t, "1234.56789", ToUnits(raw, 18).String())
	assert.Equal(t, "0", ToUnits(nil, 18).String())

	assert.Equal(t, "1234567890", FromUnits(decimal.RequireFromString("1234.56789"), 6).String())
	assert.Equal(t, "1234567", FromUnits(decimal.RequireFromString("1.2345679"), 6).String())
}
