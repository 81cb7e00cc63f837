package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"

	"dex-copy-engine/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Reader over HTTP JSON-RPC 2.0.
// Retries rotate through the configured endpoints.
type HTTPClient struct {
	endpoints   []string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
	cursor      atomic.Uint64
}

var _ Reader = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit caps outgoing requests per second across all endpoints.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPClient creates an EVM RPC client over one or more endpoints.
func NewHTTPClient(endpoints []string, opts ...ClientOption) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("chain: at least one rpc endpoint required")
	}
	c := &HTTPClient{
		endpoints:   append([]string(nil), endpoints...),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error returned by the node. Reverts surface here.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries, exponential backoff and endpoint rotation.
func (c *HTTPClient) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	defer func(t time.Time) {
		observability.RecordRPCLatency(method, time.Since(t).Seconds())
	}(time.Now())

	start := c.cursor.Add(1) - 1
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		endpoint := c.endpoints[(start+uint64(attempt))%uint64(len(c.endpoints))]
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func toCallArg(msg CallMsg) map[string]any {
	arg := map[string]any{
		"to": msg.To.Hex(),
	}
	if msg.From != (common.Address{}) {
		arg["from"] = msg.From.Hex()
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Encode(msg.Data)
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		arg["value"] = hexutil.EncodeBig(msg.Value)
	}
	return arg
}

// CallContract executes eth_call against the latest block.
func (c *HTTPClient) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, "eth_call", []any{toCallArg(msg), "latest"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceAt returns the native balance of addr.
func (c *HTTPClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out hexutil.Big
	if err := c.call(ctx, "eth_getBalance", []any{addr.Hex(), "latest"}, &out); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

// GasPrice returns eth_gasPrice.
func (c *HTTPClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := c.call(ctx, "eth_gasPrice", nil, &out); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}

// EstimateGas returns eth_estimateGas for msg.
func (c *HTTPClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var out hexutil.Uint64
	if err := c.call(ctx, "eth_estimateGas", []any{toCallArg(msg)}, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// ChainID returns eth_chainId.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	var out hexutil.Big
	if err := c.call(ctx, "eth_chainId", nil, &out); err != nil {
		return nil, err
	}
	return out.ToInt(), nil
}
