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
)

var errNoPair = errors.New("no pair")

// v2Venue quotes constant-product pairs, directly or through the wrapped native token.
type v2Venue struct {
	cr      *chainRoute
	factory common.Address
	router  common.Address
	feeBps  int64
	limits  Limits
}

var _ Venue = (*v2Venue)(nil)

func newV2Venue(cr *chainRoute, vc config.VenueConfig) *v2Venue {
	return &v2Venue{
		cr:      cr,
		factory: common.HexToAddress(vc.Factory),
		router:  common.HexToAddress(vc.Router),
		feeBps:  vc.FeeBps,
		limits:  Limits{MinLiquidityUSD: vc.MinLiquidityUSD, MaxImpactPct: vc.MaxImpactPct},
	}
}

func (v *v2Venue) Kind() domain.Venue { return domain.VenueV2 }

// reserves returns the pair reserves ordered as (tokenIn, tokenOut).
func (v *v2Venue) reserves(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, *big.Int, error) {
	out, err := chain.Call(ctx, v.cr.reader, chain.V2FactoryABI, v.factory, "getPair", tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	pair := out[0].(common.Address)
	if pair == (common.Address{}) {
		return nil, nil, fmt.Errorf("%w %s/%s", errNoPair, tokenIn.Hex(), tokenOut.Hex())
	}

	res, err := chain.Call(ctx, v.cr.reader, chain.V2PairABI, pair, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	t0, err := chain.Call(ctx, v.cr.reader, chain.V2PairABI, pair, "token0")
	if err != nil {
		return nil, nil, err
	}
	r0, r1 := res[0].(*big.Int), res[1].(*big.Int)
	if r0.Sign() == 0 || r1.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w %s/%s: empty reserves", errNoPair, tokenIn.Hex(), tokenOut.Hex())
	}
	if t0[0].(common.Address) == tokenIn {
		return r0, r1, nil
	}
	return r1, r0, nil
}

func (v *v2Venue) Quote(ctx context.Context, req *SwapRequest) (*Quote, error) {
	q, err := v.quotePath(ctx, req, []common.Address{req.TokenIn, req.TokenOut})
	if err == nil {
		return q, nil
	}
	wn := v.cr.wnative
	if !errors.Is(err, errNoPair) || wn == (common.Address{}) || wn == req.TokenIn || wn == req.TokenOut {
		return nil, err
	}
	relay, relayErr := v.quotePath(ctx, req, []common.Address{req.TokenIn, wn, req.TokenOut})
	if relayErr != nil {
		return nil, fmt.Errorf("direct: %v; relay: %w", err, relayErr)
	}
	return relay, nil
}

// quotePath chains the constant-product formula along path. The pool
// holding TokenOut is the one valued for the liquidity floor.
func (v *v2Venue) quotePath(ctx context.Context, req *SwapRequest, path []common.Address) (*Quote, error) {
	amount := new(big.Int).Set(req.AmountIn)
	mid := new(big.Int).Set(req.AmountIn)
	var lastIn common.Address
	var lastReserve *big.Int

	for i := 0; i+1 < len(path); i++ {
		rIn, rOut, err := v.reserves(ctx, path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		// Mid reference excludes impact but keeps the pair fee.
		feeAdj := new(big.Int).Mul(mid, big.NewInt(BpsDenominator-v.feeBps))
		feeAdj.Quo(feeAdj, bigBps)
		mid = midOut(feeAdj, rIn, rOut)
		amount = v2AmountOut(amount, rIn, rOut, v.feeBps)
		lastIn, lastReserve = path[i], rIn
	}

	amountIn := new(big.Int).Set(req.AmountIn)
	trader := req.Trader
	return &Quote{
		Venue:           domain.VenueV2,
		Router:          v.router,
		Spender:         v.router,
		Path:            path,
		AmountIn:        amountIn,
		QuotedOut:       amount,
		MidOut:          mid,
		LiquidityToken:  lastIn,
		LiquidityAmount: lastReserve,
		Limits:          v.limits,
		calldata: func(amountOutMin, deadline *big.Int) ([]byte, error) {
			return chain.V2RouterABI.Pack("swapExactTokensForTokensSupportingFeeOnTransferTokens",
				amountIn, amountOutMin, path, trader, deadline)
		},
	}, nil
}
