package router

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"dex-copy-engine/internal/domain"
)

// Venue quotes one swap venue of a chain's waterfall.
type Venue interface {
	Kind() domain.Venue
	Quote(ctx context.Context, req *SwapRequest) (*Quote, error)
}

// Limits are the venue-specific safety thresholds.
type Limits struct {
	MinLiquidityUSD float64
	MaxImpactPct    float64
}

// Quote is a venue's priced route before safety gates.
type Quote struct {
	Venue     domain.Venue
	Router    common.Address // transaction target
	Spender   common.Address // allowance spender; zero for native input
	Path      []common.Address
	FeeTier   uint32
	AmountIn  *big.Int
	QuotedOut *big.Int
	Value     *big.Int

	// MidOut is the output at the pre-trade pool mid price; nil when the
	// venue exposes no pool.
	MidOut *big.Int

	// Pool liquidity is valued from one pool side, doubled. LiquidityUSD,
	// when set, overrides the pool side.
	LiquidityToken  common.Address
	LiquidityAmount *big.Int
	LiquidityUSD    *decimal.Decimal

	Limits Limits

	// calldata encodes the swap for the final minimum output and deadline.
	calldata func(amountOutMin, deadline *big.Int) ([]byte, error)
}
