package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Gate rejection reasons.
var (
	ErrLiquidityBelowFloor = errors.New("liquidity below floor")
	ErrLiquidityUnknown    = errors.New("liquidity unknown")
	ErrPriceUnreasonable   = errors.New("price deviates from reference")
	ErrImpactTooHigh       = errors.New("price impact too high")
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// checkGates applies the enabled safety gates to q and returns its price impact in bps.
func (r *Router) checkGates(ctx context.Context, cr *chainRoute, req *SwapRequest, q *Quote) (int64, error) {
	if q.QuotedOut == nil || q.QuotedOut.Sign() <= 0 {
		return 0, fmt.Errorf("%w: zero output", ErrLiquidityBelowFloor)
	}

	if r.safety.LiquidityCheck {
		if err := r.checkLiquidity(ctx, cr, q); err != nil {
			return 0, err
		}
	}

	if r.safety.ReasonabilityCheck {
		if err := r.checkReasonability(ctx, cr, req, q); err != nil {
			return 0, err
		}
	}

	impact := ImpactBps(q.MidOut, q.QuotedOut)
	if r.safety.ImpactCheck && q.MidOut != nil {
		limit := decimal.NewFromFloat(q.Limits.MaxImpactPct).Mul(hundred).IntPart()
		if impact > limit {
			return impact, fmt.Errorf("%w: %d bps > %d bps", ErrImpactTooHigh, impact, limit)
		}
	}
	return impact, nil
}

func (r *Router) checkLiquidity(ctx context.Context, cr *chainRoute, q *Quote) error {
	tvl, ok, err := r.poolLiquidityUSD(ctx, cr, q)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLiquidityUnknown, err)
	}
	if !ok {
		return ErrLiquidityUnknown
	}
	floor := decimal.NewFromFloat(q.Limits.MinLiquidityUSD)
	if tvl.LessThan(floor) {
		return fmt.Errorf("%w: $%s < $%s", ErrLiquidityBelowFloor, tvl.StringFixed(0), floor.StringFixed(0))
	}
	return nil
}

// poolLiquidityUSD values the quote's pool as twice one side.
func (r *Router) poolLiquidityUSD(ctx context.Context, cr *chainRoute, q *Quote) (decimal.Decimal, bool, error) {
	if q.LiquidityUSD != nil {
		return *q.LiquidityUSD, true, nil
	}
	if q.LiquidityAmount == nil {
		return decimal.Zero, false, nil
	}
	price, ok, err := r.tokenPriceUSD(ctx, cr, q.LiquidityToken)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	dec, err := cr.erc20.Decimals(ctx, q.LiquidityToken)
	if err != nil {
		return decimal.Zero, false, err
	}
	return ToUnits(q.LiquidityAmount, dec).Mul(price).Mul(two), true, nil
}

// checkReasonability compares the effective USD price of TokenOut against
// the provider's reference price. Unknown prices skip the gate.
func (r *Router) checkReasonability(ctx context.Context, cr *chainRoute, req *SwapRequest, q *Quote) error {
	inPrice, ok, err := r.tokenPriceUSD(ctx, cr, req.TokenIn)
	if err != nil || !ok {
		r.log.WithField("token", req.TokenIn.Hex()).Debug("reasonability check skipped: no input price")
		return nil
	}
	ref, ok, err := r.tokenPriceUSD(ctx, cr, req.TokenOut)
	if err != nil || !ok || ref.IsZero() {
		r.log.WithField("token", req.TokenOut.Hex()).Debug("reasonability check skipped: no reference price")
		return nil
	}

	decIn, err := cr.erc20.Decimals(ctx, req.TokenIn)
	if err != nil {
		return fmt.Errorf("decimals: %w", err)
	}
	decOut, err := cr.erc20.Decimals(ctx, req.TokenOut)
	if err != nil {
		return fmt.Errorf("decimals: %w", err)
	}

	spent := ToUnits(req.AmountIn, decIn).Mul(inPrice)
	received := ToUnits(q.QuotedOut, decOut)
	if received.IsZero() {
		return fmt.Errorf("%w: zero output", ErrPriceUnreasonable)
	}
	effective := spent.Div(received)

	deviation := effective.Sub(ref).Abs().Div(ref).Mul(hundred)
	limit := decimal.NewFromFloat(r.safety.MaxPriceDeviationPct)
	if deviation.GreaterThan(limit) {
		return fmt.Errorf("%w: %s%% > %s%% (effective %s, reference %s)",
			ErrPriceUnreasonable, deviation.StringFixed(2), limit.String(), effective.String(), ref.String())
	}
	return nil
}

// tokenPriceUSD prices stablecoins at one and everything else from the
// provider's reference price.
func (r *Router) tokenPriceUSD(ctx context.Context, cr *chainRoute, token common.Address) (decimal.Decimal, bool, error) {
	if cr.stables[token] {
		return decimal.NewFromInt(1), true, nil
	}
	if r.provider == nil {
		return decimal.Zero, false, nil
	}
	p, ok, err := r.provider.GetReferencePrice(ctx, token.Hex(), cr.name)
	if err != nil || !ok || p <= 0 {
		return decimal.Zero, false, err
	}
	return decimal.NewFromFloat(p), true, nil
}
