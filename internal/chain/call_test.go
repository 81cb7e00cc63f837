package chain_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/chain/stub"
)

var (
	usdt   = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	wallet = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	router = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
)

func TestERC20_Reads(t *testing.T) {
	reader := stub.NewReader()
	reader.On(usdt, chain.ERC20ABI, "balanceOf", func(args []any) ([]any, error) {
		assert.Equal(t, wallet, args[0].(common.Address))
		return []any{big.NewInt(1234)}, nil
	})
	reader.Return(usdt, chain.ERC20ABI, "allowance", big.NewInt(99))
	reader.Return(usdt, chain.ERC20ABI, "decimals", uint8(18))

	erc20 := chain.NewERC20(reader)
	ctx := context.Background()

	bal, err := erc20.BalanceOf(ctx, usdt, wallet)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), bal.Int64())

	allowance, err := erc20.Allowance(ctx, usdt, wallet, router)
	require.NoError(t, err)
	assert.Equal(t, int64(99), allowance.Int64())

	for i := 0; i < 3; i++ {
		d, err := erc20.Decimals(ctx, usdt)
		require.NoError(t, err)
		assert.Equal(t, uint8(18), d)
	}
	assert.Equal(t, 1, reader.Calls("decimals"), "decimals should be cached")
}

func TestERC20_NoHandler(t *testing.T) {
	erc20 := chain.NewERC20(stub.NewReader())
	_, err := erc20.BalanceOf(context.Background(), usdt, wallet)
	assert.ErrorIs(t, err, stub.ErrNoHandler)
}

func TestPackApprove(t *testing.T) {
	data, err := chain.PackApprove(router, chain.MaxUint256)
	require.NoError(t, err)
	require.Len(t, data, 4+64)
	assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, data[:4])

	args, err := chain.ERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, router, args[0].(common.Address))
	assert.Equal(t, 0, chain.MaxUint256.Cmp(args[1].(*big.Int)))
	assert.Equal(t, 256, chain.MaxUint256.BitLen())
}
