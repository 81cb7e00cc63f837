package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallMsg is the argument of eth_call and eth_estimateGas.
type CallMsg struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Reader is the read side of an EVM JSON-RPC node.
type Reader interface {
	// CallContract executes a read-only call against the latest block.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)

	// BalanceAt returns the native balance of addr in wei.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)

	// GasPrice returns the node's suggested legacy gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas needed to execute msg.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (*big.Int, error)
}
