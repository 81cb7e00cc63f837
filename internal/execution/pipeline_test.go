package execution_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/execution"
	"dex-copy-engine/internal/idhash"
	"dex-copy-engine/internal/marketdata"
	"dex-copy-engine/internal/risk"
	"dex-copy-engine/internal/router"
	"dex-copy-engine/internal/storage"
	"dex-copy-engine/internal/storage/memory"
)

const (
	tokenAddr  = "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"
	walletAddr = "0x1111111111111111111111111111111111111111"
	routerAddr = "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4"
)

type fakeRouter struct {
	mu       sync.Mutex
	requests []router.SwapRequest
	err      error
	approval bool
	delay    time.Duration
}

func (f *fakeRouter) BuildSwapTx(ctx context.Context, req router.SwapRequest) (*domain.TxPlan, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	plan := &domain.TxPlan{
		Venue:        domain.VenueV3,
		Router:       routerAddr,
		AmountIn:     req.AmountIn,
		QuotedOut:    big.NewInt(1000),
		AmountOutMin: router.AmountOutMin(big.NewInt(1000), req.SlippageBps),
		Tx:           domain.TxRequest{To: routerAddr, Data: "0xswap", ChainID: 56, Gas: 300000},
	}
	if f.approval {
		plan.NeedsApproval = true
		plan.ApprovalTx = &domain.TxRequest{To: req.TokenIn.Hex(), Data: "0xapprove", ChainID: 56, Gas: 60000}
	}
	return plan, nil
}

func (f *fakeRouter) Requests() []router.SwapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]router.SwapRequest(nil), f.requests...)
}

type fakeSigner struct {
	mu    sync.Mutex
	txs   []domain.TxRequest
	users []string
	err   error
}

func (f *fakeSigner) SignAndSubmit(_ context.Context, traderID string, tx domain.TxRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.txs = append(f.txs, tx)
	f.users = append(f.users, traderID)
	return fmt.Sprintf("0xhash%d", len(f.txs)), nil
}

func (f *fakeSigner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

type fakeRisk struct {
	mu     sync.Mutex
	risks  map[string]*risk.Risk // by user id
	stages []string
}

func (f *fakeRisk) Check(_ context.Context, stage string, s *domain.StrategyConfig, _ *domain.Signal, _ float64) (*risk.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	if r := f.risks[s.UserID]; r != nil {
		return &risk.Result{Risks: []risk.Risk{*r}}, nil
	}
	return &risk.Result{Passed: true}, nil
}

type fakeLiquidity struct {
	tvl float64
	err error
}

func (f *fakeLiquidity) GetLiquidity(context.Context, string, string) (marketdata.Liquidity, error) {
	return marketdata.Liquidity{TVL: f.tvl, Eligible: true}, f.err
}

type fixture struct {
	executions *memory.ExecutionStore
	positions  *memory.PositionStore
	signals    *memory.SignalStore
	batches    *memory.BatchStore
	strategies *memory.StrategyStore
	decisions  *memory.DecisionLogStore
	router     *fakeRouter
	signer     *fakeSigner
	risk       *fakeRisk
	liquidity  *fakeLiquidity
	cfg        *config.Config
}

func newFixture() *fixture {
	cfg := config.Default()
	cfg.Execution.InterBatchDelay = time.Millisecond
	f := &fixture{
		executions: memory.NewExecutionStore(),
		positions:  memory.NewPositionStore(),
		signals:    memory.NewSignalStore(),
		batches:    memory.NewBatchStore(),
		strategies: memory.NewStrategyStore(),
		decisions:  memory.NewDecisionLogStore(),
		router:     &fakeRouter{},
		signer:     &fakeSigner{},
		risk:       &fakeRisk{risks: map[string]*risk.Risk{}},
		liquidity:  &fakeLiquidity{tvl: 1_000_000},
		cfg:        cfg,
	}
	for _, user := range []string{"U1", "U2", "U3"} {
		sc := account(user, 0).Strategy
		if err := f.strategies.Upsert(context.Background(), &sc); err != nil {
			panic(err)
		}
	}
	return f
}

func (f *fixture) pipeline(t *testing.T) *execution.Pipeline {
	t.Helper()
	p, err := execution.New(execution.Options{
		Executions: f.executions,
		Positions:  f.positions,
		Signals:    f.signals,
		Batches:    f.batches,
		Strategies: f.strategies,
		Decisions:  f.decisions,
		Router:     f.router,
		Signer:     f.signer,
		Risk:       f.risk,
		Liquidity:  f.liquidity,
		Config:     f.cfg,
	})
	require.NoError(t, err)
	return p
}

func signal(id string) *domain.Signal {
	return &domain.Signal{
		ID:              id,
		Token:           "CAKE",
		Chain:           "bsc",
		ContractAddress: tokenAddr,
		Type:            domain.SignalTypeLong,
		EntryMin:        1.0,
		EntryMax:        1.1,
		Status:          domain.SignalStatusTriggered,
	}
}

func account(user string, amount float64) domain.Allocation {
	return domain.Allocation{
		Strategy: domain.StrategyConfig{
			ID:             "strat-" + user,
			UserID:         user,
			Enabled:        true,
			WalletAddress:  walletAddr,
			MaxTradeAmount: 1000,
			MaxSlippageBps: 150,
		},
		AmountUSD: amount,
	}
}

func TestExecuteUserTrade_ConcurrentDuplicateIsSkipped(t *testing.T) {
	f := newFixture()
	f.router.delay = 10 * time.Millisecond
	p := f.pipeline(t)
	sig := signal("S1")

	var wg sync.WaitGroup
	results := make([]*execution.TradeResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ExecuteUserTrade(context.Background(), sig, account("U1", 100), execution.TradeRef{TriggerPrice: 1.05})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	outcomes := map[execution.Outcome]int{}
	for _, r := range results {
		require.NotNil(t, r)
		outcomes[r.Outcome]++
		if r.Outcome == execution.OutcomeSkipped {
			assert.Equal(t, "skipped: already exists", r.Reason)
		}
	}
	assert.Equal(t, map[execution.Outcome]int{execution.OutcomeSubmitted: 1, execution.OutcomeSkipped: 1}, outcomes)

	rows, err := f.executions.GetBySignal(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, idhash.ComputeExecutionID("U1", "S1"), rows[0].ExecutionID)
	assert.Equal(t, 1, f.signer.Calls())
}

func TestExecuteBatchTrades_AbortsBelowLiquidityFloor(t *testing.T) {
	f := newFixture()
	f.liquidity.tvl = 40_000
	p := f.pipeline(t)

	res, err := p.ExecuteBatchTrades(context.Background(), signal("S1"), []domain.Allocation{account("U1", 100), account("U2", 100)}, 1.05)
	require.ErrorIs(t, err, execution.ErrLiquidityTooLow)
	assert.Nil(t, res)

	rows, err := f.executions.GetBySignal(context.Background(), "S1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	batches, err := f.batches.GetBySignal(context.Background(), "S1")
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Zero(t, f.signer.Calls())
	assert.Empty(t, f.router.Requests())
}

func TestExecuteBatchTrades_LiquidityLookupFails(t *testing.T) {
	f := newFixture()
	f.liquidity.err = errors.New("provider down")
	p := f.pipeline(t)

	_, err := p.ExecuteBatchTrades(context.Background(), signal("S1"), []domain.Allocation{account("U1", 100)}, 1.05)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestExecuteBatchTrades_SubmitsAndRetiresSiblingSignals(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()

	sibling := signal("S2")
	sibling.Status = domain.SignalStatusActive
	require.NoError(t, f.signals.Insert(ctx, sibling))
	other := signal("S3")
	other.Token = "BNB"
	other.Status = domain.SignalStatusActive
	require.NoError(t, f.signals.Insert(ctx, other))

	res, err := p.ExecuteBatchTrades(ctx, signal("S1"), []domain.Allocation{account("U1", 100)}, 1.05)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Submitted)

	exec, err := f.executions.GetByID(ctx, idhash.ComputeExecutionID("U1", "S1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSubmitted, exec.Status)
	assert.Equal(t, "0xhash1", exec.EntryTxHash)
	assert.Equal(t, domain.VenueV3, exec.Venue)
	assert.Equal(t, 1.05, exec.EntryPrice)
	assert.Equal(t, res.BatchID, exec.BatchID)
	assert.Equal(t, "100000000000000000000", exec.AmountIn)
	assert.Equal(t, "985", exec.AmountOutMin)

	reqs := f.router.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, config.BSCUSDT, reqs[0].TokenIn.Hex())
	assert.Equal(t, tokenAddr, reqs[0].TokenOut.Hex())
	assert.Equal(t, int64(150), reqs[0].SlippageBps)
	assert.Equal(t, walletAddr, reqs[0].Trader.Hex())

	s2, err := f.signals.GetByID(ctx, "S2")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStatusTriggered, s2.Status)
	s3, err := f.signals.GetByID(ctx, "S3")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStatusActive, s3.Status)

	batch, err := f.batches.GetByID(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.CompletedUsers)
}

func TestExecuteBatchTrades_SinglePositionPerToken(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()

	accounts := []domain.Allocation{account("U1", 100), account("U2", 100), account("U3", 100)}
	res, err := p.ExecuteBatchTrades(ctx, signal("S1"), accounts, 1.05)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 2, res.Skipped)
	for _, r := range res.Results {
		if r.Outcome == execution.OutcomeSkipped {
			assert.Equal(t, "skipped: execution already in flight for token", r.Reason)
		}
	}

	rows, err := f.executions.GetBySignal(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	batch, err := f.batches.GetByID(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.TotalUsers)
	assert.Equal(t, 1, batch.CompletedUsers)
	assert.Equal(t, 2, batch.SkippedUsers)
}

func TestExecuteUserTrade_SkipsWhenPositionHeld(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	ctx := context.Background()

	require.NoError(t, f.positions.Insert(ctx, &domain.Position{
		ExecutionID: "other",
		Token:       "CAKE",
		Chain:       "bsc",
		Status:      domain.PositionHolding,
	}))

	res, err := p.ExecuteUserTrade(ctx, signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "skipped: position already open for token", res.Reason)
	assert.Zero(t, f.signer.Calls())

	rows, err := f.executions.GetBySignal(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecuteUserTrade_BalanceFailures(t *testing.T) {
	tests := []struct {
		name    string
		risk    *risk.Risk
		status  domain.ExecutionStatus
		outcome execution.Outcome
	}{
		{
			name:    "insufficient stablecoin",
			risk:    &risk.Risk{Level: risk.LevelCritical, Code: risk.CodeInsufficientBalance, Reason: "Insufficient balance: $10.00 < $100.00"},
			status:  domain.ExecutionInsufficientBalance,
			outcome: execution.OutcomeInsufficientBalance,
		},
		{
			name:    "insufficient gas",
			risk:    &risk.Risk{Level: risk.LevelCritical, Code: risk.CodeInsufficientGas, Reason: "Insufficient gas on bsc"},
			status:  domain.ExecutionInsufficientBalance,
			outcome: execution.OutcomeInsufficientBalance,
		},
		{
			name:    "balance unavailable",
			risk:    &risk.Risk{Level: risk.LevelCritical, Code: risk.CodeBalanceUnavailable, Reason: "Balance check failed: timeout"},
			status:  domain.ExecutionFailed,
			outcome: execution.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.risk.risks["U1"] = tt.risk
			p := f.pipeline(t)

			res, err := p.ExecuteUserTrade(context.Background(), signal("S1"), account("U1", 100), execution.TradeRef{})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.status, res.Status)

			exec, err := f.executions.GetByID(context.Background(), res.ExecutionID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, exec.Status)
			assert.Equal(t, tt.risk.Reason, exec.ErrorMessage)
			assert.Zero(t, f.signer.Calls())
			assert.Empty(t, f.router.Requests())
		})
	}
}

type walletBalances struct{}

func (walletBalances) WalletBalance(context.Context, string, string) (chain.WalletBalance, error) {
	return chain.WalletBalance{Stable: decimal.NewFromInt(10_000), Native: decimal.NewFromInt(1)}, nil
}

func TestExecuteUserTrade_StrategyPausedAfterIntake(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	gate, err := risk.New(risk.Options{
		Balances:   walletBalances{},
		Strategies: f.strategies,
		Executions: f.executions,
		Positions:  f.positions,
		Decisions:  f.decisions,
		Config:     f.cfg,
	})
	require.NoError(t, err)
	p, err := execution.New(execution.Options{
		Executions: f.executions,
		Positions:  f.positions,
		Signals:    f.signals,
		Batches:    f.batches,
		Strategies: f.strategies,
		Decisions:  f.decisions,
		Router:     f.router,
		Signer:     f.signer,
		Risk:       gate,
		Liquidity:  f.liquidity,
		Config:     f.cfg,
	})
	require.NoError(t, err)

	// The allocation was approved before the circuit breaker tripped.
	alloc := account("U1", 100)
	require.NoError(t, f.strategies.SetPause(ctx, alloc.Strategy.ID, time.Now().Add(time.Hour), "daily loss"))

	res, err := p.ExecuteUserTrade(ctx, signal("S1"), alloc, execution.TradeRef{TriggerPrice: 1.05})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Reason, "paused")
	assert.Empty(t, res.Status)
	assert.Zero(t, f.signer.Calls())
	assert.Empty(t, f.router.Requests())

	_, err = f.executions.GetByID(ctx, res.ExecutionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	decisions, err := f.decisions.GetBySignal(ctx, "S1")
	require.NoError(t, err)
	var codes []string
	for _, d := range decisions {
		assert.Equal(t, domain.StageExecution, d.Stage)
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, risk.CodePaused)

	require.NoError(t, f.strategies.ClearPause(ctx, alloc.Strategy.ID))
	res, err = p.ExecuteUserTrade(ctx, signal("S1"), alloc, execution.TradeRef{TriggerPrice: 1.05})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, 1, f.signer.Calls())
}

func TestExecuteUserTrade_RiskRejectionSkipsWithoutRow(t *testing.T) {
	f := newFixture()
	f.risk.risks["U1"] = &risk.Risk{Level: risk.LevelCritical, Code: risk.CodeMaxPositions, Reason: "Max positions reached: 3/3"}
	p := f.pipeline(t)
	ctx := context.Background()

	res, err := p.ExecuteUserTrade(ctx, signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "skipped: Max positions reached: 3/3", res.Reason)
	assert.Equal(t, []string{domain.StageExecution}, f.risk.stages)
	assert.Zero(t, f.signer.Calls())

	rows, err := f.executions.GetBySignal(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecuteUserTrade_RouteFailureThenRetry(t *testing.T) {
	f := newFixture()
	f.router.err = fmt.Errorf("%w on bsc: v2: no pair", router.ErrNoLiquidity)
	p := f.pipeline(t)
	ctx := context.Background()

	res, err := p.ExecuteUserTrade(ctx, signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "route: no liquidity")

	exec, err := f.executions.GetByID(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, exec.Status)

	// FAILED is retryable: the old row is replaced.
	f.router.mu.Lock()
	f.router.err = nil
	f.router.mu.Unlock()

	res, err = p.ExecuteUserTrade(ctx, signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeSubmitted, res.Outcome)

	exec, err = f.executions.GetByID(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSubmitted, exec.Status)
	assert.Empty(t, exec.ErrorMessage)
}

func TestExecuteUserTrade_SubmitsApprovalFirst(t *testing.T) {
	f := newFixture()
	f.router.approval = true
	p := f.pipeline(t)

	res, err := p.ExecuteUserTrade(context.Background(), signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, "0xhash2", res.TxHash)

	require.Len(t, f.signer.txs, 2)
	assert.Equal(t, "0xapprove", f.signer.txs[0].Data)
	assert.Equal(t, "0xswap", f.signer.txs[1].Data)
	assert.Equal(t, []string{"U1", "U1"}, f.signer.users)
}

func TestExecuteUserTrade_SignerFailureMarksFailed(t *testing.T) {
	f := newFixture()
	f.signer.err = errors.New("nonce too low")
	p := f.pipeline(t)

	res, err := p.ExecuteUserTrade(context.Background(), signal("S1"), account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeFailed, res.Outcome)
	assert.Equal(t, "submit: nonce too low", res.Reason)

	decisions, err := f.decisions.GetBySignal(context.Background(), "S1")
	require.NoError(t, err)
	require.NotEmpty(t, decisions)
	assert.False(t, decisions[len(decisions)-1].Passed)
	assert.Equal(t, domain.StageExecution, decisions[len(decisions)-1].Stage)
}

func TestExecuteUserTrade_MissingContractAddressFails(t *testing.T) {
	f := newFixture()
	p := f.pipeline(t)
	sig := signal("S1")
	sig.ContractAddress = ""

	res, err := p.ExecuteUserTrade(context.Background(), sig, account("U1", 100), execution.TradeRef{})
	require.NoError(t, err)
	assert.Equal(t, execution.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "no contract address")
}

func TestExecuteBatchTrades_CancelledBetweenBatches(t *testing.T) {
	f := newFixture()
	f.cfg.Execution.InterBatchDelay = time.Hour
	// two batches: $40K ceiling at 2% of $2M, $60K requested
	f.liquidity.tvl = 2_000_000
	p := f.pipeline(t)

	sig := signal("S1")
	accounts := []domain.Allocation{account("U1", 30_000), account("U2", 30_000)}
	for i := range accounts {
		accounts[i].Strategy.MaxTradeAmount = 50_000
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := p.ExecuteBatchTrades(ctx, sig, accounts, 1.05)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Len(t, res.Plan.Batches, 2)
	assert.Equal(t, 1, res.Submitted)

	batch, err := f.batches.GetByID(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchAborted, batch.Status)
}

func TestExecuteBatchTrades_NoAccounts(t *testing.T) {
	p := newFixture().pipeline(t)
	_, err := p.ExecuteBatchTrades(context.Background(), signal("S1"), nil, 1)
	assert.ErrorIs(t, err, execution.ErrNoAccounts)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	f := newFixture()
	_, err := execution.New(execution.Options{
		Executions: f.executions,
		Positions:  f.positions,
		Signals:    f.signals,
		Batches:    f.batches,
		Strategies: f.strategies,
		Router:     f.router,
		Signer:     f.signer,
		Risk:       f.risk,
		Config:     f.cfg,
	})
	assert.Error(t, err)
}
