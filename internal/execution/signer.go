package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"dex-copy-engine/internal/domain"
)

// DefaultSignerTimeout is the per-request timeout of HTTPSigner.
const DefaultSignerTimeout = 30 * time.Second

// ErrSignerRejected is returned when the custody service refuses a transaction.
var ErrSignerRejected = errors.New("signer rejected transaction")

// Signer signs a transaction with the trader's custodied key and broadcasts it.
type Signer interface {
	SignAndSubmit(ctx context.Context, traderID string, tx domain.TxRequest) (txHash string, err error)
}

// HTTPSigner posts transactions to a custody service:
//
//	POST /v1/sign-and-submit {"trader_id": "...", "tx": {...}} -> {"tx_hash": "0x..."}
//
// Quantities are hex encoded as in Ethereum JSON-RPC.
type HTTPSigner struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Signer = (*HTTPSigner)(nil)

// NewHTTPSigner creates a signer for baseURL. token is sent as a bearer token when set.
func NewHTTPSigner(baseURL, token string, timeout time.Duration) (*HTTPSigner, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("signer: base url is required")
	}
	if timeout <= 0 {
		timeout = DefaultSignerTimeout
	}
	return &HTTPSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type signerTx struct {
	To       string          `json:"to"`
	Data     string          `json:"data"`
	Value    *hexutil.Big    `json:"value"`
	ChainID  *hexutil.Big    `json:"chainId"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
}

type signerRequest struct {
	TraderID string   `json:"trader_id"`
	Tx       signerTx `json:"tx"`
}

type signerResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

func toSignerTx(tx domain.TxRequest) signerTx {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	out := signerTx{
		To:      tx.To,
		Data:    tx.Data,
		Value:   (*hexutil.Big)(value),
		ChainID: (*hexutil.Big)(big.NewInt(tx.ChainID)),
	}
	if tx.Gas > 0 {
		gas := hexutil.Uint64(tx.Gas)
		out.Gas = &gas
	}
	if tx.GasPrice != nil {
		out.GasPrice = (*hexutil.Big)(tx.GasPrice)
	}
	return out
}

// SignAndSubmit implements Signer.
func (s *HTTPSigner) SignAndSubmit(ctx context.Context, traderID string, tx domain.TxRequest) (string, error) {
	body, err := json.Marshal(signerRequest{TraderID: traderID, Tx: toSignerTx(tx)})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sign-and-submit", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out signerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrSignerRejected, resp.StatusCode, msg)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("signer HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrSignerRejected, out.Error)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("signer returned no tx hash")
	}
	return out.TxHash, nil
}
