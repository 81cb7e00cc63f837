package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
)

// quoteExactInputSingleParams mirrors the QuoterV2 params tuple.
type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// exactInputSingleParams mirrors the SwapRouter02 params tuple.
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// v3Venue quotes concentrated-liquidity pools through QuoterV2.
type v3Venue struct {
	cr      *chainRoute
	factory common.Address
	router  common.Address
	quoter  common.Address
	tiers   []uint32
	limits  Limits
}

var _ Venue = (*v3Venue)(nil)

func newV3Venue(cr *chainRoute, vc config.VenueConfig) *v3Venue {
	return &v3Venue{
		cr:      cr,
		factory: common.HexToAddress(vc.Factory),
		router:  common.HexToAddress(vc.Router),
		quoter:  common.HexToAddress(vc.Quoter),
		tiers:   vc.FeeTiers,
		limits:  Limits{MinLiquidityUSD: vc.MinLiquidityUSD, MaxImpactPct: vc.MaxImpactPct},
	}
}

func (v *v3Venue) Kind() domain.Venue { return domain.VenueV3 }

type v3Pool struct {
	addr      common.Address
	fee       uint32
	liquidity *big.Int
}

// deepestPool returns the pool with the highest in-range liquidity across fee tiers.
func (v *v3Venue) deepestPool(ctx context.Context, tokenIn, tokenOut common.Address) (*v3Pool, error) {
	var best *v3Pool
	for _, fee := range v.tiers {
		out, err := chain.Call(ctx, v.cr.reader, chain.V3FactoryABI, v.factory, "getPool", tokenIn, tokenOut, new(big.Int).SetUint64(uint64(fee)))
		if err != nil {
			return nil, err
		}
		pool := out[0].(common.Address)
		if pool == (common.Address{}) {
			continue
		}
		out, err = chain.Call(ctx, v.cr.reader, chain.V3PoolABI, pool, "liquidity")
		if err != nil {
			return nil, err
		}
		liq := out[0].(*big.Int)
		if liq.Sign() == 0 {
			continue
		}
		if best == nil || liq.Cmp(best.liquidity) > 0 {
			best = &v3Pool{addr: pool, fee: fee, liquidity: liq}
		}
	}
	if best == nil {
		return nil, errors.New("no pool with liquidity")
	}
	return best, nil
}

func (v *v3Venue) Quote(ctx context.Context, req *SwapRequest) (*Quote, error) {
	pool, err := v.deepestPool(ctx, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).SetUint64(uint64(pool.fee))

	out, err := chain.Call(ctx, v.cr.reader, chain.V3QuoterABI, v.quoter, "quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		Fee:               fee,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, err
	}
	quoted := out[0].(*big.Int)

	out, err = chain.Call(ctx, v.cr.reader, chain.V3PoolABI, pool.addr, "slot0")
	if err != nil {
		return nil, err
	}
	sqrtP := out[0].(*big.Int)
	inIsToken0 := bytes.Compare(req.TokenIn.Bytes(), req.TokenOut.Bytes()) < 0

	// Fee is taken from the input, so the mid reference is the post-fee amount.
	afterFee := new(big.Int).Mul(req.AmountIn, big.NewInt(int64(1_000_000-pool.fee)))
	afterFee.Quo(afterFee, big.NewInt(1_000_000))
	mid := v3MidOut(afterFee, sqrtP, inIsToken0)

	depth, err := v.cr.erc20.BalanceOf(ctx, req.TokenIn, pool.addr)
	if err != nil {
		return nil, fmt.Errorf("pool depth: %w", err)
	}

	trader := req.Trader
	amountIn := new(big.Int).Set(req.AmountIn)
	return &Quote{
		Venue:           domain.VenueV3,
		Router:          v.router,
		Spender:         v.router,
		Path:            []common.Address{req.TokenIn, req.TokenOut},
		FeeTier:         pool.fee,
		AmountIn:        amountIn,
		QuotedOut:       quoted,
		MidOut:          mid,
		LiquidityToken:  req.TokenIn,
		LiquidityAmount: depth,
		Limits:          v.limits,
		calldata: func(amountOutMin, _ *big.Int) ([]byte, error) {
			return chain.V3RouterABI.Pack("exactInputSingle", exactInputSingleParams{
				TokenIn:           req.TokenIn,
				TokenOut:          req.TokenOut,
				Fee:               fee,
				Recipient:         trader,
				AmountIn:          amountIn,
				AmountOutMinimum:  amountOutMin,
				SqrtPriceLimitX96: new(big.Int),
			})
		},
	}, nil
}
