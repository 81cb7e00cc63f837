package execution

import (
	"math"

	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
)

// Plan is the liquidity-bounded split of a signal's accounts into batches.
type Plan struct {
	TotalNotional float64
	LiquidityUSD  float64
	MaxPerBatch   float64 // USD notional ceiling of one batch
	Batches       [][]domain.Allocation
}

// BatchSize returns the account count of the largest batch.
func (p Plan) BatchSize() int {
	n := 0
	for _, b := range p.Batches {
		if len(b) > n {
			n = len(b)
		}
	}
	return n
}

// TotalNotional sums the requested USD amounts.
func TotalNotional(accounts []domain.Allocation) float64 {
	var total float64
	for _, a := range accounts {
		total += a.AmountUSD
	}
	return total
}

// PlanBatches splits accounts into sequential batches.
//
// The per-batch notional ceiling is liquidity × MaxLiquidityPercent. Totals
// below the split threshold (MinSplitNotional, or the ceiling when unset) run
// as one batch; otherwise ceil(total / ceiling) batches share the accounts
// evenly in input order. No batch holds more than MaxAccountsPerBatch accounts.
func PlanBatches(accounts []domain.Allocation, liquidityUSD float64, cfg config.ExecutionConfig) Plan {
	p := Plan{
		TotalNotional: TotalNotional(accounts),
		LiquidityUSD:  liquidityUSD,
		MaxPerBatch:   liquidityUSD * cfg.MaxLiquidityPercent / 100,
	}
	if len(accounts) == 0 {
		return p
	}

	threshold := cfg.MinSplitNotional
	if threshold <= 0 {
		threshold = p.MaxPerBatch
	}

	count := 1
	if p.MaxPerBatch > 0 && p.TotalNotional >= threshold {
		count = int(math.Ceil(p.TotalNotional / p.MaxPerBatch))
	}
	if count > len(accounts) {
		count = len(accounts)
	}

	if limit := cfg.MaxAccountsPerBatch; limit > 0 && (len(accounts)+count-1)/count > limit {
		count = (len(accounts) + limit - 1) / limit
	}

	base, extra := len(accounts)/count, len(accounts)%count
	start := 0
	for i := 0; i < count; i++ {
		size := base
		if i < extra {
			size++
		}
		p.Batches = append(p.Batches, accounts[start:start+size])
		start += size
	}
	return p
}
