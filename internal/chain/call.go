package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MaxUint256 is the unlimited ERC20 approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Call packs method with args, runs eth_call on contract and unpacks the outputs.
func Call(ctx context.Context, r Reader, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.CallContract(ctx, CallMsg{To: to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

// ERC20 reads token state. Decimals are cached per token address.
type ERC20 struct {
	r        Reader
	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewERC20 creates a token reader over r.
func NewERC20(r Reader) *ERC20 {
	return &ERC20{r: r, decimals: make(map[common.Address]uint8)}
}

// BalanceOf returns owner's balance of token in base units.
func (e *ERC20) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := Call(ctx, e.r, ERC20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Allowance returns how much spender may pull from owner.
func (e *ERC20) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := Call(ctx, e.r, ERC20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Decimals returns token decimals.
func (e *ERC20) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	e.mu.RLock()
	d, ok := e.decimals[token]
	e.mu.RUnlock()
	if ok {
		return d, nil
	}

	out, err := Call(ctx, e.r, ERC20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d = out[0].(uint8)

	e.mu.Lock()
	e.decimals[token] = d
	e.mu.Unlock()
	return d, nil
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}
