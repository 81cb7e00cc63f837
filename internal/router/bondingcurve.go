package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/marketdata"
)

// Bonding curve quote failures.
var (
	ErrNotOnCurve    = errors.New("token not on bonding curve")
	ErrCurveMigrated = errors.New("bonding curve migrated")
	ErrCurveFunding  = errors.New("input token does not fund the curve")
	ErrNoCurveSource = errors.New("no bonding curve data source")
)

// bondingVenue buys launchpad tokens against the curve's virtual reserves.
type bondingVenue struct {
	cr       *chainRoute
	router   common.Address
	feeBps   int64
	provider marketdata.Provider
	limits   Limits
}

var _ Venue = (*bondingVenue)(nil)

func newBondingVenue(cr *chainRoute, vc config.VenueConfig, provider marketdata.Provider) *bondingVenue {
	return &bondingVenue{
		cr:       cr,
		router:   common.HexToAddress(vc.Router),
		feeBps:   vc.FeeBps,
		provider: provider,
		limits:   Limits{MinLiquidityUSD: vc.MinLiquidityUSD, MaxImpactPct: vc.MaxImpactPct},
	}
}

func (v *bondingVenue) Kind() domain.Venue { return domain.VenueBondingCurve }

func (v *bondingVenue) Quote(ctx context.Context, req *SwapRequest) (*Quote, error) {
	if v.provider == nil {
		return nil, ErrNoCurveSource
	}
	curve, ok, err := v.provider.GetBondingCurve(ctx, req.TokenOut.Hex(), v.cr.name)
	if err != nil {
		return nil, fmt.Errorf("bonding curve state: %w", err)
	}
	if !ok {
		return nil, ErrNotOnCurve
	}
	if curve.Migrated {
		return nil, ErrCurveMigrated
	}
	if curve.TokenReserve == nil || curve.QuoteReserve == nil || curve.TokenReserve.Sign() <= 0 || curve.QuoteReserve.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", ErrNotOnCurve)
	}

	native := curve.QuoteToken == ""
	funding := v.cr.wnative
	if !native {
		funding = common.HexToAddress(curve.QuoteToken)
	}
	if funding != req.TokenIn {
		return nil, fmt.Errorf("%w: curve funded in %s", ErrCurveFunding, funding.Hex())
	}

	fee := new(big.Int).Mul(req.AmountIn, big.NewInt(v.feeBps))
	fee.Quo(fee, bigBps)
	net := new(big.Int).Sub(req.AmountIn, fee)

	// Constant product on virtual reserves: out = net * T / (Q + net).
	out := new(big.Int).Mul(net, curve.TokenReserve)
	out.Quo(out, new(big.Int).Add(curve.QuoteReserve, net))

	q := &Quote{
		Venue:           domain.VenueBondingCurve,
		Router:          v.router,
		Path:            []common.Address{req.TokenIn, req.TokenOut},
		AmountIn:        new(big.Int).Set(req.AmountIn),
		QuotedOut:       out,
		MidOut:          midOut(net, curve.QuoteReserve, curve.TokenReserve),
		LiquidityToken:  funding,
		LiquidityAmount: new(big.Int).Set(curve.QuoteReserve),
		Limits:          v.limits,
	}
	if native {
		q.Value = new(big.Int).Set(req.AmountIn)
	} else {
		q.Spender = v.router
	}

	token, funds := req.TokenOut, q.AmountIn
	q.calldata = func(amountOutMin, _ *big.Int) ([]byte, error) {
		return chain.LaunchpadABI.Pack("buyTokenAMAP", token, funds, amountOutMin)
	}
	return q, nil
}
