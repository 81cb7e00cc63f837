package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the decimals of the gas token on every supported chain.
const NativeDecimals = 18

// Assets describes the balance-relevant contracts of one chain.
type Assets struct {
	Reader  Reader
	Stables []common.Address
}

// WalletBalance is a wallet's spendable funds on one chain, in whole units.
type WalletBalance struct {
	Stable decimal.Decimal // sum over every recognized stablecoin
	Native decimal.Decimal
}

// BalanceReader reads stablecoin and gas balances per chain.
type BalanceReader struct {
	chains map[string]Assets
	erc20  map[string]*ERC20
}

// NewBalanceReader creates a reader keyed by lower-case chain name.
func NewBalanceReader(chains map[string]Assets) *BalanceReader {
	b := &BalanceReader{
		chains: make(map[string]Assets, len(chains)),
		erc20:  make(map[string]*ERC20, len(chains)),
	}
	for name, a := range chains {
		key := strings.ToLower(name)
		b.chains[key] = a
		b.erc20[key] = NewERC20(a.Reader)
	}
	return b
}

// WalletBalance sums the wallet's stablecoin balances across all configured
// contracts of chainName and reads its native balance.
func (b *BalanceReader) WalletBalance(ctx context.Context, chainName, wallet string) (WalletBalance, error) {
	key := strings.ToLower(chainName)
	a, ok := b.chains[key]
	if !ok {
		return WalletBalance{}, fmt.Errorf("balance: unsupported chain %q", chainName)
	}
	if !common.IsHexAddress(wallet) {
		return WalletBalance{}, fmt.Errorf("balance: invalid wallet address %q", wallet)
	}
	owner := common.HexToAddress(wallet)
	tokens := b.erc20[key]

	var out WalletBalance
	for _, stable := range a.Stables {
		raw, err := tokens.BalanceOf(ctx, stable, owner)
		if err != nil {
			return WalletBalance{}, fmt.Errorf("stable balance %s: %w", stable.Hex(), err)
		}
		dec, err := tokens.Decimals(ctx, stable)
		if err != nil {
			return WalletBalance{}, fmt.Errorf("stable decimals %s: %w", stable.Hex(), err)
		}
		out.Stable = out.Stable.Add(decimal.NewFromBigInt(raw, -int32(dec)))
	}

	native, err := a.Reader.BalanceAt(ctx, owner)
	if err != nil {
		return WalletBalance{}, fmt.Errorf("native balance: %w", err)
	}
	out.Native = decimal.NewFromBigInt(native, -NativeDecimals)
	return out, nil
}
