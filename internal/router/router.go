// Package router builds unsigned swap transactions through an ordered
// waterfall of DEX venues with liquidity, price and impact checks.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/marketdata"
	"dex-copy-engine/internal/observability"
)

// Gas limits used when estimation is not possible.
const (
	DefaultSwapGas    uint64 = 350_000
	DefaultApproveGas uint64 = 60_000
)

var (
	// ErrNoLiquidity is returned when every venue of the waterfall failed.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrInvalidRequest is returned for malformed swap requests.
	ErrInvalidRequest = errors.New("invalid swap request")
)

// SwapRequest describes one exact-input swap.
type SwapRequest struct {
	Chain        string
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int // base units of TokenIn
	SlippageBps  int64
	Trader       common.Address
	BondingCurve bool // token launched on a bonding-curve launchpad
}

// Router implements the DEX route waterfall.
type Router struct {
	chains   map[string]*chainRoute
	provider marketdata.Provider
	safety   config.SafetyConfig
	deadline time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

type chainRoute struct {
	name    string
	chainID int64
	reader  chain.Reader
	erc20   *chain.ERC20
	venues  []Venue
	bonding Venue
	stables map[common.Address]bool
	wnative common.Address
}

// Option configures Router.
type Option func(*options)

type options struct {
	httpClient *http.Client
	now        func() time.Time
	log        *logrus.Entry
}

// WithHTTPClient sets the client used for aggregator API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithClock overrides time.Now for swap deadlines.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.log = l
	}
}

// New creates a router for every configured chain that has a reader.
// provider may be nil, in which case checks that need reference prices are skipped.
func New(cfg *config.Config, readers map[string]chain.Reader, provider marketdata.Provider, opts ...Option) (*Router, error) {
	o := options{
		httpClient: &http.Client{Timeout: config.DefaultRPCTimeout},
		now:        time.Now,
		log:        logrus.WithField("component", "router"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Router{
		chains:   make(map[string]*chainRoute),
		provider: provider,
		safety:   cfg.Safety,
		deadline: cfg.Execution.SwapDeadline,
		now:      o.now,
		log:      o.log,
	}

	for name, cc := range cfg.Chains {
		reader, ok := readers[strings.ToLower(name)]
		if !ok {
			continue
		}
		cr := &chainRoute{
			name:    strings.ToLower(name),
			chainID: cc.ChainID,
			reader:  reader,
			erc20:   chain.NewERC20(reader),
			stables: make(map[common.Address]bool),
			wnative: common.HexToAddress(cc.WrappedNative),
		}
		for _, s := range cc.Stablecoins {
			cr.stables[common.HexToAddress(s.Address)] = true
		}
		for _, vc := range cc.Venues {
			v, err := r.newVenue(cr, vc, o.httpClient)
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", name, err)
			}
			cr.venues = append(cr.venues, v)
		}
		if cc.BondingCurve != nil {
			cr.bonding = newBondingVenue(cr, *cc.BondingCurve, provider)
		}
		r.chains[cr.name] = cr
	}
	if len(r.chains) == 0 {
		return nil, fmt.Errorf("router: no chain has an RPC reader")
	}
	return r, nil
}

func (r *Router) newVenue(cr *chainRoute, vc config.VenueConfig, httpClient *http.Client) (Venue, error) {
	switch vc.Type {
	case domain.VenueAggregator:
		return newAggregatorVenue(cr, vc, r.provider, httpClient), nil
	case domain.VenueV3:
		return newV3Venue(cr, vc), nil
	case domain.VenueV2:
		return newV2Venue(cr, vc), nil
	}
	return nil, fmt.Errorf("unsupported venue %q in waterfall", vc.Type)
}

// Chains returns the routable chain names.
func (r *Router) Chains() []string {
	out := make([]string, 0, len(r.chains))
	for name := range r.chains {
		out = append(out, name)
	}
	return out
}

// BuildSwapTx walks the chain's venue waterfall and returns the first quote
// that passes every enabled safety gate as an unsigned transaction plan.
// Venue failures are not surfaced individually; when all venues fail the
// returned error wraps ErrNoLiquidity with each venue's reason.
func (r *Router) BuildSwapTx(ctx context.Context, req SwapRequest) (*domain.TxPlan, error) {
	cr, err := r.validate(&req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		observability.RecordRouteLatency(cr.name, time.Since(start).Seconds())
	}()

	venues := cr.venues
	if req.BondingCurve && cr.bonding != nil {
		venues = append([]Venue{cr.bonding}, venues...)
	}

	log := r.log.WithFields(logrus.Fields{
		"chain":     cr.name,
		"token_in":  req.TokenIn.Hex(),
		"token_out": req.TokenOut.Hex(),
		"amount_in": req.AmountIn.String(),
	})

	reasons := make([]string, 0, len(venues))
	for _, v := range venues {
		venue := string(v.Kind())

		q, err := v.Quote(ctx, &req)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", venue, err))
			observability.RecordRouteAttempt(cr.name, venue, "quote_failed")
			log.WithField("venue", venue).WithError(err).Debug("venue quote failed")
			continue
		}

		impact, err := r.checkGates(ctx, cr, &req, q)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", venue, err))
			observability.RecordRouteAttempt(cr.name, venue, "rejected")
			log.WithField("venue", venue).WithError(err).Info("venue quote rejected")
			continue
		}

		plan, err := r.buildPlan(ctx, cr, &req, q, impact)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", venue, err))
			observability.RecordRouteAttempt(cr.name, venue, "build_failed")
			log.WithField("venue", venue).WithError(err).Warn("venue build failed")
			continue
		}

		observability.RecordRouteAttempt(cr.name, venue, "selected")
		log.WithFields(logrus.Fields{
			"venue":          venue,
			"quoted_out":     plan.QuotedOut.String(),
			"amount_out_min": plan.AmountOutMin.String(),
			"impact_bps":     plan.ImpactBps,
			"needs_approval": plan.NeedsApproval,
		}).Info("route selected")
		return plan, nil
	}

	return nil, fmt.Errorf("%w on %s: %s", ErrNoLiquidity, cr.name, strings.Join(reasons, "; "))
}

func (r *Router) validate(req *SwapRequest) (*chainRoute, error) {
	cr, ok := r.chains[strings.ToLower(req.Chain)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported chain %q", ErrInvalidRequest, req.Chain)
	}
	zero := common.Address{}
	switch {
	case req.AmountIn == nil || req.AmountIn.Sign() <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case req.SlippageBps < 0 || req.SlippageBps > BpsDenominator:
		return nil, fmt.Errorf("%w: slippage %d bps out of range", ErrInvalidRequest, req.SlippageBps)
	case req.TokenIn == zero || req.TokenOut == zero:
		return nil, fmt.Errorf("%w: token address required", ErrInvalidRequest)
	case req.TokenIn == req.TokenOut:
		return nil, fmt.Errorf("%w: tokenIn equals tokenOut", ErrInvalidRequest)
	case req.Trader == zero:
		return nil, fmt.Errorf("%w: trader address required", ErrInvalidRequest)
	}
	return cr, nil
}

func (r *Router) buildPlan(ctx context.Context, cr *chainRoute, req *SwapRequest, q *Quote, impactBps int64) (*domain.TxPlan, error) {
	minOut := AmountOutMin(q.QuotedOut, req.SlippageBps)
	deadline := big.NewInt(r.now().Add(r.deadline).Unix())

	data, err := q.calldata(minOut, deadline)
	if err != nil {
		return nil, fmt.Errorf("encode swap: %w", err)
	}
	value := q.Value
	if value == nil {
		value = new(big.Int)
	}

	gasPrice, err := cr.reader.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	plan := &domain.TxPlan{
		Venue:        q.Venue,
		Router:       q.Router.Hex(),
		FeeTier:      q.FeeTier,
		AmountIn:     new(big.Int).Set(q.AmountIn),
		QuotedOut:    new(big.Int).Set(q.QuotedOut),
		AmountOutMin: minOut,
		ImpactBps:    impactBps,
	}
	for _, p := range q.Path {
		plan.Path = append(plan.Path, p.Hex())
	}

	if q.Spender != (common.Address{}) {
		allowance, err := cr.erc20.Allowance(ctx, req.TokenIn, req.Trader, q.Spender)
		if err != nil {
			return nil, fmt.Errorf("allowance: %w", err)
		}
		if allowance.Cmp(req.AmountIn) < 0 {
			approve, err := chain.PackApprove(q.Spender, chain.MaxUint256)
			if err != nil {
				return nil, fmt.Errorf("encode approve: %w", err)
			}
			plan.NeedsApproval = true
			plan.ApprovalTx = &domain.TxRequest{
				To:       req.TokenIn.Hex(),
				Data:     hexutil.Encode(approve),
				Value:    new(big.Int),
				ChainID:  cr.chainID,
				Gas:      DefaultApproveGas,
				GasPrice: gasPrice,
			}
		}
	}

	// Estimation reverts until the approval is mined.
	gas := DefaultSwapGas
	if !plan.NeedsApproval {
		est, err := cr.reader.EstimateGas(ctx, chain.CallMsg{From: req.Trader, To: q.Router, Data: data, Value: value})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = est * 12 / 10
	}

	plan.Tx = domain.TxRequest{
		To:       q.Router.Hex(),
		Data:     hexutil.Encode(data),
		Value:    value,
		ChainID:  cr.chainID,
		Gas:      gas,
		GasPrice: gasPrice,
	}
	return plan, nil
}
