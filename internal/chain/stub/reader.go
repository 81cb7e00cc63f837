package stub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dex-copy-engine/internal/chain"
)

// ErrNoHandler is returned when a call hits a contract method nobody registered.
var ErrNoHandler = errors.New("stub: no handler")

// Handler answers one contract method. It receives unpacked inputs and
// returns output values in declaration order.
type Handler func(args []any) ([]any, error)

type route struct {
	method abi.Method
	fn     Handler
}

// Reader implements chain.Reader for testing.
type Reader struct {
	mu       sync.Mutex
	routes   map[common.Address][]route
	Balances map[common.Address]*big.Int
	Gas      uint64
	GasErr   error
	Price    *big.Int
	ID       *big.Int
	calls    map[string]int
}

var _ chain.Reader = (*Reader)(nil)

// NewReader creates a new stub reader.
func NewReader() *Reader {
	return &Reader{
		routes:   make(map[common.Address][]route),
		Balances: make(map[common.Address]*big.Int),
		Gas:      200_000,
		Price:    big.NewInt(3_000_000_000),
		ID:       big.NewInt(56),
		calls:    make(map[string]int),
	}
}

// On registers fn for method of contract deployed at to.
func (r *Reader) On(to common.Address, contract abi.ABI, method string, fn Handler) {
	m, ok := contract.Methods[method]
	if !ok {
		panic("stub: unknown method " + method)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[to] = append(r.routes[to], route{method: m, fn: fn})
}

// Return registers a handler that always returns values.
func (r *Reader) Return(to common.Address, contract abi.ABI, method string, values ...any) {
	r.On(to, contract, method, func([]any) ([]any, error) { return values, nil })
}

// Calls returns how many times method was called.
func (r *Reader) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// CallContract dispatches on the 4-byte selector of msg.Data.
func (r *Reader) CallContract(_ context.Context, msg chain.CallMsg) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("stub: short calldata")
	}

	r.mu.Lock()
	routes := r.routes[msg.To]
	var match *route
	for i := range routes {
		if bytes.Equal(routes[i].method.ID, msg.Data[:4]) {
			match = &routes[i]
			break
		}
	}
	if match != nil {
		r.calls[match.method.Name]++
	}
	r.mu.Unlock()

	if match == nil {
		return nil, fmt.Errorf("%w: %s selector %x", ErrNoHandler, msg.To.Hex(), msg.Data[:4])
	}

	args, err := match.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("stub: unpack %s: %w", match.method.Name, err)
	}
	out, err := match.fn(args)
	if err != nil {
		return nil, err
	}
	return match.method.Outputs.Pack(out...)
}

// BalanceAt returns the configured native balance, zero by default.
func (r *Reader) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// GasPrice returns Price.
func (r *Reader) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(r.Price), nil
}

// EstimateGas returns Gas or GasErr.
func (r *Reader) EstimateGas(context.Context, chain.CallMsg) (uint64, error) {
	if r.GasErr != nil {
		return 0, r.GasErr
	}
	return r.Gas, nil
}

// ChainID returns ID.
func (r *Reader) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(r.ID), nil
}
