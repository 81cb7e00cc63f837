package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultHTTPTimeout is the per-request timeout of HTTPProvider.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPProvider implements Provider over a REST market data API:
//
//	GET /v1/price?chain=&token=           {"price": 1.23}
//	GET /v1/reference-price?chain=&token= {"price": 1.23}
//	GET /v1/liquidity?chain=&token=       {"tvl_usd": 120000, "eligible": true}
//	GET /v1/bonding-curve?chain=&token=   {"migrated": false, "token_reserve": "...", "quote_reserve": "...", "quote_token": ""}
//
// Unknown tokens answer 404.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Provider = (*HTTPProvider)(nil)

// HTTPOption configures HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithAPIKey sets the X-API-Key header.
func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) {
		p.apiKey = key
	}
}

// WithRequestTimeout sets the HTTP client timeout.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		p.client.Timeout = d
	}
}

// WithRateLimit limits outgoing requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(p *HTTPProvider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPProvider creates a provider for baseURL.
func NewHTTPProvider(baseURL string, opts ...HTTPOption) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("marketdata: base url is required")
	}
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type priceResponse struct {
	Price float64 `json:"price"`
}

type liquidityResponse struct {
	TVLUSD   float64 `json:"tvl_usd"`
	Eligible bool    `json:"eligible"`
}

type bondingCurveResponse struct {
	Migrated     bool   `json:"migrated"`
	TokenReserve string `json:"token_reserve"`
	QuoteReserve string `json:"quote_reserve"`
	QuoteToken   string `json:"quote_token"`
}

// GetPrice implements Provider.
func (p *HTTPProvider) GetPrice(ctx context.Context, token, chain string) (float64, bool, error) {
	return p.price(ctx, "/v1/price", token, chain)
}

// GetReferencePrice implements Provider.
func (p *HTTPProvider) GetReferencePrice(ctx context.Context, token, chain string) (float64, bool, error) {
	return p.price(ctx, "/v1/reference-price", token, chain)
}

func (p *HTTPProvider) price(ctx context.Context, path, token, chain string) (float64, bool, error) {
	var resp priceResponse
	found, err := p.get(ctx, path, token, chain, &resp)
	if err != nil || !found {
		return 0, false, err
	}
	if resp.Price <= 0 {
		return 0, false, nil
	}
	return resp.Price, true, nil
}

// GetLiquidity implements Provider. Unknown tokens have zero, ineligible liquidity.
func (p *HTTPProvider) GetLiquidity(ctx context.Context, token, chain string) (Liquidity, error) {
	var resp liquidityResponse
	found, err := p.get(ctx, "/v1/liquidity", token, chain, &resp)
	if err != nil || !found {
		return Liquidity{}, err
	}
	return Liquidity{TVL: resp.TVLUSD, Eligible: resp.Eligible}, nil
}

// GetBondingCurve implements Provider.
func (p *HTTPProvider) GetBondingCurve(ctx context.Context, token, chain string) (BondingCurve, bool, error) {
	var resp bondingCurveResponse
	found, err := p.get(ctx, "/v1/bonding-curve", token, chain, &resp)
	if err != nil || !found {
		return BondingCurve{}, false, err
	}

	curve := BondingCurve{Migrated: resp.Migrated, QuoteToken: resp.QuoteToken}
	if resp.Migrated {
		return curve, true, nil
	}
	var ok bool
	if curve.TokenReserve, ok = new(big.Int).SetString(resp.TokenReserve, 10); !ok {
		return BondingCurve{}, false, fmt.Errorf("marketdata: invalid token_reserve %q", resp.TokenReserve)
	}
	if curve.QuoteReserve, ok = new(big.Int).SetString(resp.QuoteReserve, 10); !ok {
		return BondingCurve{}, false, fmt.Errorf("marketdata: invalid quote_reserve %q", resp.QuoteReserve)
	}
	return curve, true, nil
}

// get performs one request. found is false on 404.
func (p *HTTPProvider) get(ctx context.Context, path, token, chain string, out any) (bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("rate limit: %w", err)
		}
	}

	q := url.Values{}
	q.Set("chain", strings.ToLower(chain))
	q.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("%s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%s: decode: %w", path, err)
	}
	return true, nil
}
