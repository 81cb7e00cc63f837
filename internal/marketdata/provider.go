// Package marketdata provides token prices, liquidity and bonding curve state.
package marketdata

import (
	"context"
	"errors"
	"math/big"
)

// ErrNoPrice is returned when no price is known for a token.
var ErrNoPrice = errors.New("marketdata: no price")

// Liquidity is a token's aggregate pool liquidity.
type Liquidity struct {
	TVL      float64 // USD
	Eligible bool    // listed and tradable
}

// BondingCurve is the launchpad state of a token that has not yet migrated.
// Reserves are virtual reserves in base units.
type BondingCurve struct {
	Migrated     bool
	TokenReserve *big.Int
	QuoteReserve *big.Int // quoted in the launchpad's funding token
	QuoteToken   string   // funding token address; empty means native
}

// Provider is the market data collaborator.
// Token is a contract address or a symbol; chain is the lower-case chain name.
type Provider interface {
	// GetPrice returns the latest USD price. ok is false when the token is unknown.
	GetPrice(ctx context.Context, token, chain string) (price float64, ok bool, err error)

	// GetLiquidity returns aggregate liquidity for token.
	GetLiquidity(ctx context.Context, token, chain string) (Liquidity, error)

	// GetReferencePrice returns an off-chain reference USD price used to
	// sanity check on-chain quotes.
	GetReferencePrice(ctx context.Context, token, chain string) (price float64, ok bool, err error)

	// GetBondingCurve returns launchpad state. ok is false when the token
	// was never on a bonding curve.
	GetBondingCurve(ctx context.Context, token, chain string) (curve BondingCurve, ok bool, err error)
}
