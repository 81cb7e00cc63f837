package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/marketdata"
)

var (
	// ErrCalldataUnknown is returned for aggregator calldata whose bound cannot be read.
	ErrCalldataUnknown = errors.New("unrecognised aggregator calldata")

	// ErrMinReturnTooLow is returned when the encoded minimum output is below the slippage floor.
	ErrMinReturnTooLow = errors.New("aggregator min return below slippage floor")
)

// aggregatorVenue calls a 1inch-style swap API that returns ready calldata.
type aggregatorVenue struct {
	cr       *chainRoute
	baseURL  string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	provider marketdata.Provider
	limits   Limits
}

var _ Venue = (*aggregatorVenue)(nil)

func newAggregatorVenue(cr *chainRoute, vc config.VenueConfig, provider marketdata.Provider, client *http.Client) *aggregatorVenue {
	v := &aggregatorVenue{
		cr:       cr,
		baseURL:  strings.TrimRight(vc.APIURL, "/"),
		apiKey:   vc.APIKey,
		client:   client,
		provider: provider,
		limits:   Limits{MinLiquidityUSD: vc.MinLiquidityUSD, MaxImpactPct: vc.MaxImpactPct},
	}
	if vc.RateLimit > 0 {
		v.limiter = rate.NewLimiter(rate.Limit(vc.RateLimit), 1)
	}
	return v
}

func (v *aggregatorVenue) Kind() domain.Venue { return domain.VenueAggregator }

type aggregatorSwapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   uint64 `json:"gas"`
	} `json:"tx"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

func (v *aggregatorVenue) Quote(ctx context.Context, req *SwapRequest) (*Quote, error) {
	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("src", req.TokenIn.Hex())
	params.Set("dst", req.TokenOut.Hex())
	params.Set("amount", req.AmountIn.String())
	params.Set("from", req.Trader.Hex())
	params.Set("origin", req.Trader.Hex())
	params.Set("slippage", decimal.New(req.SlippageBps, -2).String())
	params.Set("disableEstimate", "true")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/swap?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aggregator request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr aggregatorSwapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("aggregator: %s: %s", sr.Error, sr.Description)
	}

	quoted, ok := new(big.Int).SetString(sr.DstAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid dstAmount %q", sr.DstAmount)
	}
	if !common.IsHexAddress(sr.Tx.To) {
		return nil, fmt.Errorf("invalid tx.to %q", sr.Tx.To)
	}
	data, err := hexutil.Decode(sr.Tx.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid tx.data: %w", err)
	}
	value := new(big.Int)
	if sr.Tx.Value != "" {
		if _, ok := value.SetString(sr.Tx.Value, 10); !ok {
			return nil, fmt.Errorf("invalid tx.value %q", sr.Tx.Value)
		}
	}

	q := &Quote{
		Venue:     domain.VenueAggregator,
		Router:    common.HexToAddress(sr.Tx.To),
		Spender:   common.HexToAddress(sr.Tx.To),
		Path:      []common.Address{req.TokenIn, req.TokenOut},
		AmountIn:  new(big.Int).Set(req.AmountIn),
		QuotedOut: quoted,
		Value:     value,
		Limits:    v.limits,
		// The API encodes its own bound; it must be at least ours.
		calldata: func(amountOutMin, _ *big.Int) ([]byte, error) {
			minReturn, receiver, err := aggregatorMinReturn(data)
			if err != nil {
				return nil, err
			}
			if receiver != nil && *receiver != (common.Address{}) && *receiver != req.Trader {
				return nil, fmt.Errorf("aggregator calldata pays %s, not trader %s", receiver.Hex(), req.Trader.Hex())
			}
			if minReturn.Cmp(amountOutMin) < 0 {
				return nil, fmt.Errorf("%w: %s < %s", ErrMinReturnTooLow, minReturn, amountOutMin)
			}
			return data, nil
		},
	}

	if v.provider != nil {
		liq, err := v.provider.GetLiquidity(ctx, req.TokenOut.Hex(), v.cr.name)
		if err != nil && !errors.Is(err, marketdata.ErrNoPrice) {
			return nil, fmt.Errorf("liquidity: %w", err)
		}
		if err == nil {
			tvl := decimal.NewFromFloat(liq.TVL)
			q.LiquidityUSD = &tvl
		}
	}
	return q, nil
}

// swapDescription mirrors the aggregation router's SwapDescription tuple.
type swapDescription struct {
	SrcToken        common.Address
	DstToken        common.Address
	SrcReceiver     common.Address
	DstReceiver     common.Address
	Amount          *big.Int
	MinReturnAmount *big.Int
	Flags           *big.Int
}

// aggregatorMinReturn reads the minimum output encoded in aggregator
// calldata. The receiver is nil for entry points that pay msg.sender.
func aggregatorMinReturn(data []byte) (*big.Int, *common.Address, error) {
	if len(data) < 4 {
		return nil, nil, ErrCalldataUnknown
	}
	for _, parsed := range []abi.ABI{chain.AggregationV5ABI, chain.AggregationV6ABI} {
		method, err := parsed.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrCalldataUnknown, method.Name, err)
		}
		for i, in := range method.Inputs {
			switch in.Name {
			case "desc":
				desc := abi.ConvertType(args[i], new(swapDescription)).(*swapDescription)
				return desc.MinReturnAmount, &desc.DstReceiver, nil
			case "minReturn":
				return args[i].(*big.Int), nil, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: selector %s", ErrCalldataUnknown, hexutil.Encode(data[:4]))
}
