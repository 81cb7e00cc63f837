package router

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

var (
	bigBps = big.NewInt(BpsDenominator)
	q192   = new(big.Int).Lsh(big.NewInt(1), 192)
)

// AmountOutMin returns floor(quoted * (10000 - slippageBps) / 10000).
func AmountOutMin(quoted *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(quoted, big.NewInt(BpsDenominator-slippageBps))
	return out.Quo(out, bigBps)
}

// ImpactBps returns how far out falls below the pool mid output, in bps.
// Outputs at or above mid have zero impact.
func ImpactBps(mid, out *big.Int) int64 {
	if mid == nil || mid.Sign() <= 0 || out.Cmp(mid) >= 0 {
		return 0
	}
	diff := new(big.Int).Sub(mid, out)
	diff.Mul(diff, bigBps)
	return diff.Quo(diff, mid).Int64()
}

// v2AmountOut is the constant-product output with an input fee.
func v2AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(BpsDenominator-feeBps))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, bigBps)
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

// midOut scales amount by the reserve ratio out/in.
func midOut(amount, reserveIn, reserveOut *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, reserveOut)
	return out.Quo(out, reserveIn)
}

// v3MidOut converts amountIn at the pool's sqrtPriceX96.
// sqrtPriceX96^2 / 2^192 is the price of token0 in token1.
func v3MidOut(amountIn, sqrtPriceX96 *big.Int, inIsToken0 bool) *big.Int {
	p := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	if p.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int)
	if inIsToken0 {
		out.Mul(amountIn, p)
		return out.Quo(out, q192)
	}
	out.Mul(amountIn, q192)
	return out.Quo(out, p)
}

// ToUnits converts base units to whole token units.
func ToUnits(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// FromUnits converts whole token units to base units, rounding down.
func FromUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Floor().BigInt()
}
