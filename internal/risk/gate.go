package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/idhash"
	"dex-copy-engine/internal/marketdata"
	"dex-copy-engine/internal/observability"
	"dex-copy-engine/internal/storage"
)

// BalanceReader reads a wallet's stablecoin and gas balances.
type BalanceReader interface {
	WalletBalance(ctx context.Context, chainName, wallet string) (chain.WalletBalance, error)
}

// LiquidityReader returns aggregate token liquidity.
type LiquidityReader interface {
	GetLiquidity(ctx context.Context, token, chain string) (marketdata.Liquidity, error)
}

var _ BalanceReader = (*chain.BalanceReader)(nil)

// Options for creating Gate.
type Options struct {
	// Required
	Balances   BalanceReader
	Strategies storage.StrategyStore
	Executions storage.ExecutionStore
	Positions  storage.PositionStore

	// Optional
	Liquidity LiquidityReader          // nil skips the liquidity warning
	Decisions storage.DecisionLogStore // nil disables the audit trail

	Config *config.Config
	Now    func() time.Time
	Logger *logrus.Entry
}

// Gate runs the ordered risk checks for a (strategy, signal) pair.
type Gate struct {
	balances   BalanceReader
	strategies storage.StrategyStore
	executions storage.ExecutionStore
	positions  storage.PositionStore
	liquidity  LiquidityReader
	decisions  storage.DecisionLogStore

	minGas        map[string]float64
	pauseDuration time.Duration
	memeMaxAge    time.Duration
	rangeMaxAge   time.Duration

	now func() time.Time
	log *logrus.Entry
}

// New creates a risk gate.
func New(opts Options) (*Gate, error) {
	if opts.Balances == nil || opts.Strategies == nil || opts.Executions == nil || opts.Positions == nil {
		return nil, errors.New("risk: balances, strategies, executions and positions are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Gate{
		balances:      opts.Balances,
		strategies:    opts.Strategies,
		executions:    opts.Executions,
		positions:     opts.Positions,
		liquidity:     opts.Liquidity,
		decisions:     opts.Decisions,
		minGas:        make(map[string]float64, len(cfg.Chains)),
		pauseDuration: cfg.Risk.PauseDuration,
		memeMaxAge:    cfg.Risk.MemeMaxAge,
		rangeMaxAge:   cfg.Risk.RangeMaxAge,
		now:           opts.Now,
		log:           opts.Logger,
	}
	for name, cc := range cfg.Chains {
		g.minGas[strings.ToLower(name)] = cc.MinGasBalance
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.log == nil {
		g.log = logrus.WithField("component", "risk")
	}
	return g, nil
}

// CheckTradeRisk runs the intake risk checks. It short-circuits on the
// first CRITICAL finding; HIGH and MEDIUM findings accumulate as warnings.
// A daily loss breach pauses the strategy as a side effect.
// Errors are reserved for storage failures.
func (g *Gate) CheckTradeRisk(ctx context.Context, s *domain.StrategyConfig, sig *domain.Signal, tradeAmount float64) (*Result, error) {
	return g.Check(ctx, domain.StageIntake, s, sig, tradeAmount)
}

// Check is CheckTradeRisk with an explicit decision log stage.
func (g *Gate) Check(ctx context.Context, stage string, s *domain.StrategyConfig, sig *domain.Signal, tradeAmount float64) (*Result, error) {
	res, err := g.check(ctx, s, sig, tradeAmount)
	if err != nil {
		return nil, err
	}

	observability.RecordRiskCheck(res.Passed, res.Code())
	fields := logrus.Fields{
		"strategy_id": s.ID,
		"signal_id":   sig.ID,
		"token":       sig.Token,
		"chain":       sig.Chain,
		"amount_usd":  tradeAmount,
		"stage":       stage,
	}
	if res.Passed {
		g.log.WithFields(fields).WithField("warnings", len(res.Warnings())).Debug("risk check passed")
	} else {
		g.log.WithFields(fields).WithField("code", res.Code()).Info("risk check rejected: " + res.Reason())
	}
	g.record(ctx, stage, s, sig, res)
	return res, nil
}

func (g *Gate) check(ctx context.Context, s *domain.StrategyConfig, sig *domain.Signal, tradeAmount float64) (*Result, error) {
	res := &Result{Passed: true}
	now := g.now()

	// 1. enabled, signal type, chain, pin
	if !s.Enabled {
		return res.reject(CodeDisabled, "Strategy disabled"), nil
	}
	if !sig.Type.IsEntry() {
		return res.reject(CodeSignalType, fmt.Sprintf("Only LONG/BUY supported, got %s", sig.Type)), nil
	}
	if _, ok := g.minGas[strings.ToLower(sig.Chain)]; !ok || !s.SupportsChain(sig.Chain) {
		return res.reject(CodeChain, fmt.Sprintf("Chain %s not supported", sig.Chain)), nil
	}
	if sig.StrategyID != "" && sig.StrategyID != s.ID {
		return res.reject(CodeStrategyPin, fmt.Sprintf("Signal pinned to strategy %s", sig.StrategyID)), nil
	}

	// 2. follow strategy
	if code, reason, ok := g.matchFollowStrategy(s, sig, now); !ok {
		return res.reject(code, reason), nil
	}

	// 3. circuit breaker
	if s.IsPaused(now) {
		return res.reject(CodePaused, fmt.Sprintf("Strategy paused until %s: %s", s.PausedUntil.UTC().Format(time.RFC3339), s.PauseReason)), nil
	}

	// 4. live balance
	bal, risk := g.CheckBalance(ctx, s, sig.Chain, tradeAmount)
	if risk != nil {
		return res.reject(risk.Code, risk.Reason), nil
	}

	// 5. open positions
	if s.MaxPositions > 0 {
		open, err := g.positions.CountHoldingByStrategy(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("count positions: %w", err)
		}
		if open >= s.MaxPositions {
			return res.reject(CodeMaxPositions, fmt.Sprintf("Max positions reached: %d/%d", open, s.MaxPositions)), nil
		}
	}

	// 6. amount ceiling
	if tradeAmount <= 0 {
		return res.reject(CodeAmountLimit, fmt.Sprintf("Invalid trade amount %.2f", tradeAmount)), nil
	}
	if s.MaxTradeAmount > 0 && tradeAmount > s.MaxTradeAmount {
		return res.reject(CodeAmountLimit, fmt.Sprintf("Trade amount $%.2f exceeds max $%.2f", tradeAmount, s.MaxTradeAmount)), nil
	}

	// 7. daily loss
	if s.DailyLossLimitPct > 0 {
		rejected, err := g.checkDailyLoss(ctx, s, now)
		if err != nil {
			return nil, err
		}
		if rejected != "" {
			return res.reject(CodeDailyLoss, rejected), nil
		}
	}

	// 8. white/blacklist
	if s.Blacklist.Contains(sig.Token) {
		return res.reject(CodeBlacklisted, fmt.Sprintf("Token %s is blacklisted", domain.NormalizeSymbol(sig.Token))), nil
	}
	if !s.Whitelist.Empty() && !s.Whitelist.Contains(sig.Token) {
		return res.reject(CodeNotWhitelisted, fmt.Sprintf("Token %s not in whitelist", domain.NormalizeSymbol(sig.Token))), nil
	}

	// 9. liquidity (advisory)
	if g.liquidity != nil && s.MinLiquidityRequired > 0 {
		liq, err := g.liquidity.GetLiquidity(ctx, sig.Asset(), sig.Chain)
		switch {
		case err != nil:
			res.add(LevelHigh, CodeLowLiquidity, fmt.Sprintf("Liquidity unavailable: %v", err))
		case liq.TVL < s.MinLiquidityRequired:
			res.add(LevelHigh, CodeLowLiquidity, fmt.Sprintf("Liquidity $%.0f below $%.0f", liq.TVL, s.MinLiquidityRequired))
		}
	}

	// 10. concentration (advisory)
	if s.SingleTokenMaxPercent > 0 && bal.Stable.IsPositive() {
		existing, err := g.executions.OpenExposure(ctx, s.ID, sig.Token)
		if err != nil {
			return nil, fmt.Errorf("open exposure: %w", err)
		}
		pct := decimal.NewFromFloat(existing + tradeAmount).Div(bal.Stable).Mul(decimal.NewFromInt(100))
		if pct.GreaterThan(decimal.NewFromFloat(s.SingleTokenMaxPercent)) {
			res.add(LevelMedium, CodeConcentration, fmt.Sprintf("Token concentration %s%% exceeds %.1f%%", pct.StringFixed(1), s.SingleTokenMaxPercent))
		}
	}

	return res, nil
}

// CheckBalance verifies the wallet holds tradeAmount in stablecoins and
// the chain's minimum gas balance. It returns the balance read and a
// CRITICAL risk on failure.
func (g *Gate) CheckBalance(ctx context.Context, s *domain.StrategyConfig, chainName string, tradeAmount float64) (chain.WalletBalance, *Risk) {
	if s.WalletAddress == "" {
		return chain.WalletBalance{}, &Risk{Level: LevelCritical, Code: CodeBalanceUnavailable, Reason: "Strategy has no wallet address"}
	}
	bal, err := g.balances.WalletBalance(ctx, chainName, s.WalletAddress)
	if err != nil {
		return chain.WalletBalance{}, &Risk{Level: LevelCritical, Code: CodeBalanceUnavailable, Reason: fmt.Sprintf("Balance check failed: %v", err)}
	}

	need := decimal.NewFromFloat(tradeAmount)
	if bal.Stable.LessThan(need) {
		return bal, &Risk{
			Level:  LevelCritical,
			Code:   CodeInsufficientBalance,
			Reason: fmt.Sprintf("Insufficient balance: $%s < $%s", bal.Stable.StringFixed(2), need.StringFixed(2)),
		}
	}
	minGas := decimal.NewFromFloat(g.minGas[strings.ToLower(chainName)])
	if bal.Native.LessThan(minGas) {
		return bal, &Risk{
			Level:  LevelCritical,
			Code:   CodeInsufficientGas,
			Reason: fmt.Sprintf("Insufficient gas on %s: %s < %s", chainName, bal.Native.String(), minGas.String()),
		}
	}
	return bal, nil
}

// checkDailyLoss returns a rejection reason when today's realized loss
// breaches the strategy's limit, pausing the strategy unless it already is.
func (g *Gate) checkDailyLoss(ctx context.Context, s *domain.StrategyConfig, now time.Time) (string, error) {
	utc := now.UTC()
	dayStart := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	pnl, notional, err := g.executions.DailyPnL(ctx, s.ID, dayStart)
	if err != nil {
		return "", fmt.Errorf("daily pnl: %w", err)
	}
	if notional <= 0 {
		return "", nil
	}

	pct := decimal.NewFromFloat(pnl).Div(decimal.NewFromFloat(notional)).Mul(decimal.NewFromInt(100))
	limit := decimal.NewFromFloat(-s.DailyLossLimitPct)
	if pct.GreaterThan(limit) {
		return "", nil
	}

	reason := fmt.Sprintf("Daily loss %s%% breached limit -%.1f%%", pct.StringFixed(2), s.DailyLossLimitPct)
	if !s.IsPaused(now) {
		until := now.Add(g.pauseDuration)
		if err := g.strategies.SetPause(ctx, s.ID, until, reason); err != nil {
			return "", fmt.Errorf("set pause: %w", err)
		}
		s.PausedUntil = &until
		s.PauseReason = reason
		observability.RecordCircuitBreaker()
		g.log.WithFields(logrus.Fields{
			"strategy_id":  s.ID,
			"paused_until": until.UTC().Format(time.RFC3339),
		}).Warn("circuit breaker triggered: " + reason)
	}
	return reason, nil
}

func (g *Gate) record(ctx context.Context, stage string, s *domain.StrategyConfig, sig *domain.Signal, res *Result) {
	if g.decisions == nil {
		return
	}
	now := g.now()
	d := &domain.Decision{
		DecisionID: idhash.ComputeDecisionID(sig.ID, s.ID, stage, now.UnixNano()),
		SignalID:   sig.ID,
		StrategyID: s.ID,
		UserID:     s.UserID,
		Stage:      stage,
		Passed:     res.Passed,
		Level:      string(res.Level()),
		Code:       res.Code(),
		Reason:     res.Reason(),
		CreatedAt:  now,
	}
	if err := g.decisions.Append(ctx, []*domain.Decision{d}); err != nil {
		g.log.WithError(err).WithField("signal_id", sig.ID).Warn("decision log append failed")
	}
}
