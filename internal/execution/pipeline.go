// Package execution runs triggered signals through batched, idempotent trades.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/exitcalc"
	"dex-copy-engine/internal/idhash"
	"dex-copy-engine/internal/marketdata"
	"dex-copy-engine/internal/observability"
	"dex-copy-engine/internal/risk"
	"dex-copy-engine/internal/router"
	"dex-copy-engine/internal/storage"
)

var (
	// ErrLiquidityTooLow aborts a batch before any execution is created.
	ErrLiquidityTooLow = errors.New("token liquidity below floor")

	// ErrNoAccounts is returned when a batch has nothing to execute.
	ErrNoAccounts = errors.New("no accounts to execute")
)

// SwapBuilder builds unsigned swap transactions. router.Router implements it.
type SwapBuilder interface {
	BuildSwapTx(ctx context.Context, req router.SwapRequest) (*domain.TxPlan, error)
}

// RiskChecker re-runs the intake risk checks at a given stage. risk.Gate implements it.
type RiskChecker interface {
	Check(ctx context.Context, stage string, s *domain.StrategyConfig, sig *domain.Signal, amount float64) (*risk.Result, error)
}

// LiquidityReader returns aggregate token liquidity. marketdata.Provider implements it.
type LiquidityReader interface {
	GetLiquidity(ctx context.Context, token, chain string) (marketdata.Liquidity, error)
}

// EventPublisher receives execution state changes.
type EventPublisher interface {
	PublishExecution(ctx context.Context, e *domain.Execution) error
}

// Outcome summarises one account's trade attempt.
type Outcome string

const (
	OutcomeSubmitted           Outcome = "submitted"
	OutcomeSkipped             Outcome = "skipped"
	OutcomeFailed              Outcome = "failed"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
)

// TradeRef links a trade to its batch and trigger.
type TradeRef struct {
	BatchID      string
	BatchIndex   int
	TriggerPrice float64
}

// TradeResult is the outcome of ExecuteUserTrade.
type TradeResult struct {
	ExecutionID string
	UserID      string
	StrategyID  string
	Outcome     Outcome
	Status      domain.ExecutionStatus // empty when skipped before a row was written
	TxHash      string
	Reason      string
}

// BatchResult is the outcome of ExecuteBatchTrades.
type BatchResult struct {
	BatchID             string
	Plan                Plan
	Results             []*TradeResult
	Submitted           int
	Skipped             int
	Failed              int
	InsufficientBalance int
}

func (r *BatchResult) add(tr *TradeResult) {
	r.Results = append(r.Results, tr)
	switch tr.Outcome {
	case OutcomeSubmitted:
		r.Submitted++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeInsufficientBalance:
		r.InsufficientBalance++
	default:
		r.Failed++
	}
}

// Options configures a Pipeline.
type Options struct {
	Executions storage.ExecutionStore
	Positions  storage.PositionStore
	Signals    storage.SignalStore
	Batches    storage.BatchStore
	Strategies storage.StrategyStore
	Router     SwapBuilder
	Signer     Signer
	Risk       RiskChecker
	Liquidity  LiquidityReader
	Config     *config.Config

	// Optional
	Decisions   storage.DecisionLogStore
	Events      EventPublisher
	ExitOptions *exitcalc.Options
	Trailing    *exitcalc.TrailingOptions
	Now         func() time.Time
	Logger      *logrus.Entry
}

// Pipeline executes triggered signals for their approved accounts.
type Pipeline struct {
	executions storage.ExecutionStore
	positions  storage.PositionStore
	signals    storage.SignalStore
	batches    storage.BatchStore
	strategies storage.StrategyStore
	decisions  storage.DecisionLogStore
	router     SwapBuilder
	signer     Signer
	risk       RiskChecker
	liquidity  LiquidityReader
	events     EventPublisher

	cfg      config.ExecutionConfig
	chains   map[string]config.ChainConfig
	exitOpts exitcalc.Options
	trailing exitcalc.TrailingOptions

	keys   *keyedMutex // per execution id
	tokens *keyedMutex // per (token, chain)

	now func() time.Time
	log *logrus.Entry
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Executions == nil, opts.Positions == nil, opts.Signals == nil, opts.Batches == nil, opts.Strategies == nil:
		return nil, fmt.Errorf("execution: stores are required")
	case opts.Router == nil:
		return nil, fmt.Errorf("execution: router is required")
	case opts.Signer == nil:
		return nil, fmt.Errorf("execution: signer is required")
	case opts.Risk == nil:
		return nil, fmt.Errorf("execution: risk checker is required")
	case opts.Liquidity == nil:
		return nil, fmt.Errorf("execution: liquidity reader is required")
	case opts.Config == nil:
		return nil, fmt.Errorf("execution: config is required")
	}

	p := &Pipeline{
		executions: opts.Executions,
		positions:  opts.Positions,
		signals:    opts.Signals,
		batches:    opts.Batches,
		strategies: opts.Strategies,
		decisions:  opts.Decisions,
		router:     opts.Router,
		signer:     opts.Signer,
		risk:       opts.Risk,
		liquidity:  opts.Liquidity,
		events:     opts.Events,
		cfg:        opts.Config.Execution,
		chains:     make(map[string]config.ChainConfig, len(opts.Config.Chains)),
		exitOpts:   exitcalc.DefaultOptions(),
		trailing:   exitcalc.DefaultTrailingOptions(),
		keys:       newKeyedMutex(),
		tokens:     newKeyedMutex(),
		now:        opts.Now,
		log:        opts.Logger,
	}
	for name, cc := range opts.Config.Chains {
		p.chains[strings.ToLower(name)] = cc
	}
	if opts.ExitOptions != nil {
		if err := opts.ExitOptions.Validate(); err != nil {
			return nil, fmt.Errorf("execution: exit options: %w", err)
		}
		p.exitOpts = *opts.ExitOptions
	}
	if opts.Trailing != nil {
		p.trailing = *opts.Trailing
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = logrus.WithField("component", "execution")
	}
	return p, nil
}

// ExecuteBatchTrades executes sig for every account in liquidity-bounded
// batches. Batches run sequentially with InterBatchDelay between them;
// accounts within a batch run concurrently. A liquidity floor breach aborts
// before any execution or batch row is written.
func (p *Pipeline) ExecuteBatchTrades(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation, triggerPrice float64) (*BatchResult, error) {
	start := p.now()
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	accounts = normalizeAllocations(accounts)

	log := p.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"token":     sig.Token,
		"chain":     sig.Chain,
	})

	liq, err := p.liquidity.GetLiquidity(ctx, sig.Asset(), sig.Chain)
	if err != nil {
		observability.RecordBatch(string(domain.BatchAborted), 0)
		return nil, fmt.Errorf("liquidity lookup: %w", err)
	}
	if !liq.Eligible || liq.TVL < p.cfg.MinLiquidityUSD {
		observability.RecordBatch(string(domain.BatchAborted), 0)
		log.WithFields(logrus.Fields{
			"tvl":      liq.TVL,
			"eligible": liq.Eligible,
			"floor":    p.cfg.MinLiquidityUSD,
		}).Warn("batch aborted: liquidity below floor")
		return nil, fmt.Errorf("%w: $%.0f < $%.0f", ErrLiquidityTooLow, liq.TVL, p.cfg.MinLiquidityUSD)
	}

	plan := PlanBatches(accounts, liq.TVL, p.cfg)
	batch := &domain.Batch{
		ID:           uuid.NewString(),
		SignalID:     sig.ID,
		TotalUsers:   len(accounts),
		TotalAmount:  plan.TotalNotional,
		LiquidityUSD: liq.TVL,
		BatchCount:   len(plan.Batches),
		BatchSize:    plan.BatchSize(),
		Status:       domain.BatchRunning,
		CreatedAt:    start,
		UpdatedAt:    start,
	}
	if err := p.batches.Insert(ctx, batch); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	log = log.WithField("batch_id", batch.ID)
	log.WithFields(logrus.Fields{
		"accounts":      len(accounts),
		"notional":      plan.TotalNotional,
		"tvl":           liq.TVL,
		"max_per_batch": plan.MaxPerBatch,
		"batches":       len(plan.Batches),
	}).Info("batch started")

	result := &BatchResult{BatchID: batch.ID, Plan: plan}
	for i, group := range plan.Batches {
		if i > 0 {
			if err := sleep(ctx, p.cfg.InterBatchDelay); err != nil {
				p.closeBatch(batch, result, domain.BatchAborted, start)
				return result, fmt.Errorf("batch %d of %d: %w", i+1, len(plan.Batches), err)
			}
		}

		results, err := p.runGroup(ctx, sig, group, TradeRef{BatchID: batch.ID, BatchIndex: i, TriggerPrice: triggerPrice})
		for _, tr := range results {
			if tr != nil {
				result.add(tr)
			}
		}
		batch.CompletedUsers = result.Submitted
		batch.FailedUsers = result.Failed
		batch.SkippedUsers = result.Skipped + result.InsufficientBalance
		batch.UpdatedAt = p.now()
		if uerr := p.batches.Update(ctx, batch); uerr != nil {
			log.WithError(uerr).Warn("batch progress update failed")
		}
		if err != nil {
			p.closeBatch(batch, result, domain.BatchAborted, start)
			return result, err
		}
	}

	p.closeBatch(batch, result, domain.BatchCompleted, start)
	log.WithFields(logrus.Fields{
		"submitted":            result.Submitted,
		"skipped":              result.Skipped,
		"failed":               result.Failed,
		"insufficient_balance": result.InsufficientBalance,
	}).Info("batch finished")
	return result, nil
}

// runGroup executes one batch concurrently. Trade failures are recorded per
// account; only storage errors are returned.
func (p *Pipeline) runGroup(ctx context.Context, sig *domain.Signal, group []domain.Allocation, ref TradeRef) ([]*TradeResult, error) {
	results := make([]*TradeResult, len(group))
	g, gctx := errgroup.WithContext(ctx)
	for i := range group {
		g.Go(func() error {
			tr, err := p.ExecuteUserTrade(gctx, sig, group[i], ref)
			if err != nil {
				return fmt.Errorf("user %s: %w", group[i].Strategy.UserID, err)
			}
			results[i] = tr
			return nil
		})
	}
	return results, g.Wait()
}

func (p *Pipeline) closeBatch(batch *domain.Batch, result *BatchResult, status domain.BatchStatus, start time.Time) {
	batch.Status = status
	batch.UpdatedAt = p.now()
	// The caller's context may be cancelled; the final status must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.batches.Update(ctx, batch); err != nil {
		p.log.WithError(err).WithField("batch_id", batch.ID).Warn("batch close failed")
	}
	observability.RecordBatch(string(status), batch.UpdatedAt.Sub(start).Seconds())
}

// ExecuteUserTrade runs one account's entry for sig. The execution id is
// derived from (user, signal), so repeated calls never trade twice. Trade
// failures are recorded on the execution and returned as a FAILED result;
// the error return is reserved for storage failures.
func (p *Pipeline) ExecuteUserTrade(ctx context.Context, sig *domain.Signal, alloc domain.Allocation, ref TradeRef) (*TradeResult, error) {
	s := &alloc.Strategy
	id := idhash.ComputeExecutionID(s.UserID, sig.ID)
	res := &TradeResult{ExecutionID: id, UserID: s.UserID, StrategyID: s.ID}
	log := p.log.WithFields(logrus.Fields{
		"signal_id":    sig.ID,
		"user_id":      s.UserID,
		"execution_id": id,
	})

	unlock := p.keys.Lock(id)
	defer unlock()

	existing, err := p.executions.GetByID(ctx, id)
	switch {
	case err == nil && !existing.Status.Retryable():
		res.Status = existing.Status
		return p.skip(ctx, sig, s, res, "already exists"), nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get execution: %w", err)
	}

	unlockToken := p.tokens.Lock(domain.TokenKey(sig.Token, sig.Chain))
	tokenLocked := true
	releaseToken := func() {
		if tokenLocked {
			unlockToken()
			tokenLocked = false
		}
	}
	defer releaseToken()

	holding, err := p.positions.CountHoldingByToken(ctx, sig.Token, sig.Chain)
	if err != nil {
		return nil, fmt.Errorf("count holding positions: %w", err)
	}
	if holding > 0 {
		return p.skip(ctx, sig, s, res, "position already open for token"), nil
	}

	inFlight, err := p.executions.CountInFlightByToken(ctx, sig.Token, sig.Chain)
	if err != nil {
		return nil, fmt.Errorf("count in-flight executions: %w", err)
	}
	if inFlight > 0 {
		return p.skip(ctx, sig, s, res, "execution already in flight for token"), nil
	}

	if existing != nil {
		if err := p.executions.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("delete failed execution: %w", err)
		}
		log.WithField("previous_error", existing.ErrorMessage).Info("retrying failed execution")
	}

	amount := alloc.AmountUSD
	if amount <= 0 {
		amount = s.AmountPerTrade()
	}
	now := p.now()
	exec := &domain.Execution{
		ExecutionID: id,
		StrategyID:  s.ID,
		UserID:      s.UserID,
		SignalID:    sig.ID,
		Token:       sig.Token,
		Chain:       sig.Chain,
		Status:      domain.ExecutionPending,
		AmountUSD:   amount,
		EntryPrice:  ref.TriggerPrice,
		BatchID:     ref.BatchID,
		BatchIndex:  ref.BatchIndex,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The allocation carries the intake snapshot; pauses, disables and
	// limits may have changed while the signal was monitored.
	current, err := p.strategies.GetByID(ctx, s.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return p.skip(ctx, sig, s, res, "strategy no longer exists"), nil
	case err != nil:
		return nil, fmt.Errorf("reload strategy: %w", err)
	}
	check, err := p.risk.Check(ctx, domain.StageExecution, current, sig, amount)
	if err != nil {
		return nil, fmt.Errorf("risk re-check: %w", err)
	}
	if r := check.Blocking(); r != nil {
		switch r.Code {
		case risk.CodeInsufficientBalance, risk.CodeInsufficientGas:
			exec.Status = domain.ExecutionInsufficientBalance
			res.Outcome = OutcomeInsufficientBalance
		case risk.CodeBalanceUnavailable:
			exec.Status = domain.ExecutionFailed
			res.Outcome = OutcomeFailed
		default:
			log.WithField("code", r.Code).Info("trade blocked by risk re-check: " + r.Reason)
			return p.skip(ctx, sig, current, res, r.Reason), nil
		}
		exec.ErrorMessage = r.Reason
		if err := p.insert(ctx, exec); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return p.skip(ctx, sig, s, res, "already exists"), nil
			}
			return nil, err
		}
		res.Status = exec.Status
		res.Reason = r.Reason
		p.recordDecision(ctx, sig, current, false, r.Code, r.Reason)
		log.WithField("code", r.Code).Info("trade not placed: " + r.Reason)
		return res, nil
	}
	s = current

	if err := p.insert(ctx, exec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return p.skip(ctx, sig, s, res, "already exists"), nil
		}
		return nil, err
	}
	// The PENDING row now blocks other entries for the token.
	releaseToken()

	return p.submit(ctx, sig, s, exec, res, log)
}

func (p *Pipeline) submit(ctx context.Context, sig *domain.Signal, s *domain.StrategyConfig, exec *domain.Execution, res *TradeResult, log *logrus.Entry) (*TradeResult, error) {
	req, err := p.swapRequest(sig, s, exec.AmountUSD)
	if err != nil {
		return p.fail(ctx, sig, s, exec, res, err)
	}

	plan, err := p.router.BuildSwapTx(ctx, req)
	if err != nil {
		return p.fail(ctx, sig, s, exec, res, fmt.Errorf("route: %w", err))
	}
	exec.Venue = plan.Venue
	exec.AmountIn = plan.AmountIn.String()
	exec.AmountOutMin = plan.AmountOutMin.String()

	if plan.ApprovalTx != nil {
		hash, err := p.signer.SignAndSubmit(ctx, s.UserID, *plan.ApprovalTx)
		if err != nil {
			return p.fail(ctx, sig, s, exec, res, fmt.Errorf("approve: %w", err))
		}
		log.WithField("tx_hash", hash).Info("approval submitted")
	}

	exec.Status = domain.ExecutionSubmitting
	if err := p.update(ctx, exec); err != nil {
		return nil, err
	}

	hash, err := p.signer.SignAndSubmit(ctx, s.UserID, plan.Tx)
	if err != nil {
		return p.fail(ctx, sig, s, exec, res, fmt.Errorf("submit: %w", err))
	}

	exec.Status = domain.ExecutionSubmitted
	exec.EntryTxHash = hash
	if err := p.update(ctx, exec); err != nil {
		return nil, err
	}

	if n, err := p.signals.TriggerActiveByToken(ctx, sig.Token, sig.Chain, sig.ID); err != nil {
		log.WithError(err).Warn("failed to retire sibling signals")
	} else if n > 0 {
		log.WithField("signals", n).Info("sibling signals marked triggered")
	}

	res.Outcome = OutcomeSubmitted
	res.Status = exec.Status
	res.TxHash = hash
	p.recordDecision(ctx, sig, s, true, string(OutcomeSubmitted), fmt.Sprintf("submitted via %s: %s", plan.Venue, hash))
	log.WithFields(logrus.Fields{
		"venue":      plan.Venue,
		"tx_hash":    hash,
		"amount_usd": exec.AmountUSD,
		"impact_bps": plan.ImpactBps,
	}).Info("trade submitted")
	return res, nil
}

// swapRequest converts the USD amount into quote-token base units.
func (p *Pipeline) swapRequest(sig *domain.Signal, s *domain.StrategyConfig, amountUSD float64) (router.SwapRequest, error) {
	cc, ok := p.chains[strings.ToLower(sig.Chain)]
	if !ok {
		return router.SwapRequest{}, fmt.Errorf("chain %s not configured", sig.Chain)
	}
	if !common.IsHexAddress(sig.ContractAddress) {
		return router.SwapRequest{}, fmt.Errorf("signal %s has no contract address", sig.ID)
	}
	if !common.IsHexAddress(s.WalletAddress) {
		return router.SwapRequest{}, fmt.Errorf("strategy %s has no valid wallet address", s.ID)
	}
	if !common.IsHexAddress(cc.QuoteToken) {
		return router.SwapRequest{}, fmt.Errorf("chain %s has no quote token", sig.Chain)
	}

	decimals := uint8(18)
	for _, sc := range cc.Stablecoins {
		if strings.EqualFold(sc.Address, cc.QuoteToken) && sc.Decimals > 0 {
			decimals = sc.Decimals
		}
	}

	slippage := s.MaxSlippageBps
	if slippage <= 0 {
		slippage = p.cfg.DefaultSlippageBps
	}
	return router.SwapRequest{
		Chain:        sig.Chain,
		TokenIn:      common.HexToAddress(cc.QuoteToken),
		TokenOut:     common.HexToAddress(sig.ContractAddress),
		AmountIn:     router.FromUnits(decimal.NewFromFloat(amountUSD), decimals),
		SlippageBps:  slippage,
		Trader:       common.HexToAddress(s.WalletAddress),
		BondingCurve: sig.IsBondingCurve,
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, sig *domain.Signal, s *domain.StrategyConfig, exec *domain.Execution, res *TradeResult, cause error) (*TradeResult, error) {
	exec.Status = domain.ExecutionFailed
	exec.ErrorMessage = cause.Error()
	if err := p.update(ctx, exec); err != nil {
		return nil, fmt.Errorf("%w (after %v)", err, cause)
	}
	res.Outcome = OutcomeFailed
	res.Status = exec.Status
	res.Reason = exec.ErrorMessage
	p.recordDecision(ctx, sig, s, false, string(OutcomeFailed), exec.ErrorMessage)
	p.log.WithFields(logrus.Fields{
		"signal_id":    sig.ID,
		"execution_id": exec.ExecutionID,
	}).WithError(cause).Warn("trade failed")
	return res, nil
}

func (p *Pipeline) skip(ctx context.Context, sig *domain.Signal, s *domain.StrategyConfig, res *TradeResult, reason string) *TradeResult {
	res.Outcome = OutcomeSkipped
	res.Reason = "skipped: " + reason
	observability.RecordExecution(string(OutcomeSkipped))
	p.recordDecision(ctx, sig, s, false, string(OutcomeSkipped), res.Reason)
	p.log.WithFields(logrus.Fields{
		"signal_id":    sig.ID,
		"execution_id": res.ExecutionID,
	}).Debug(res.Reason)
	return res
}

func (p *Pipeline) insert(ctx context.Context, exec *domain.Execution) error {
	if err := p.executions.Insert(ctx, exec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	p.changed(ctx, exec)
	return nil
}

func (p *Pipeline) update(ctx context.Context, exec *domain.Execution) error {
	exec.UpdatedAt = p.now()
	if err := p.executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("update execution %s: %w", exec.Status, err)
	}
	p.changed(ctx, exec)
	return nil
}

// changed records metrics and publishes the new state.
func (p *Pipeline) changed(ctx context.Context, exec *domain.Execution) {
	observability.RecordExecution(string(exec.Status))
	if p.events == nil {
		return
	}
	if err := p.events.PublishExecution(ctx, exec); err != nil {
		p.log.WithError(err).WithField("execution_id", exec.ExecutionID).Warn("publish execution event failed")
	}
}

func (p *Pipeline) recordDecision(ctx context.Context, sig *domain.Signal, s *domain.StrategyConfig, passed bool, code, reason string) {
	if p.decisions == nil {
		return
	}
	now := p.now().UTC()
	d := &domain.Decision{
		DecisionID: idhash.ComputeDecisionID(sig.ID, s.ID, domain.StageExecution, now.UnixNano()),
		SignalID:   sig.ID,
		StrategyID: s.ID,
		UserID:     s.UserID,
		Stage:      domain.StageExecution,
		Passed:     passed,
		Code:       code,
		Reason:     reason,
		CreatedAt:  now,
	}
	if err := p.decisions.Append(ctx, []*domain.Decision{d}); err != nil {
		p.log.WithError(err).WithField("signal_id", sig.ID).Warn("decision log append failed")
	}
}

func normalizeAllocations(accounts []domain.Allocation) []domain.Allocation {
	out := make([]domain.Allocation, len(accounts))
	for i, a := range accounts {
		if a.AmountUSD <= 0 {
			a.AmountUSD = a.Strategy.AmountPerTrade()
		}
		out[i] = a
	}
	return out
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
