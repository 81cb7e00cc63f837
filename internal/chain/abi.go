package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const v2FactoryJSON = `[
	{"type":"function","name":"getPair","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}
]`

const v2PairJSON = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const v2RouterJSON = `[
	{"type":"function","name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]}
]`

const v3FactoryJSON = `[
	{"type":"function","name":"getPool","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"pool","type":"address"}]}
]`

// slot0 declares only the leading fields shared by Uniswap and Pancake pools.
const v3PoolJSON = `[
	{"type":"function","name":"liquidity","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	{"type":"function","name":"slot0","stateMutability":"view","inputs":[],"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"}]}
]`

const v3QuoterJSON = `[
	{"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}]}
]`

// SwapRouter02 layout, no deadline in the params struct.
const v3RouterJSON = `[
	{"type":"function","name":"exactInputSingle","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},
		{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const launchpadJSON = `[
	{"type":"function","name":"buyTokenAMAP","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"funds","type":"uint256"},{"name":"minAmount","type":"uint256"}],"outputs":[]}
]`

// 1inch AggregationRouterV5 entry points whose calldata carries a min return.
const aggregationV5JSON = `[
	{"type":"function","name":"swap","stateMutability":"payable","inputs":[{"name":"executor","type":"address"},{"name":"desc","type":"tuple","components":[
		{"name":"srcToken","type":"address"},{"name":"dstToken","type":"address"},{"name":"srcReceiver","type":"address"},{"name":"dstReceiver","type":"address"},
		{"name":"amount","type":"uint256"},{"name":"minReturnAmount","type":"uint256"},{"name":"flags","type":"uint256"}]},
		{"name":"permit","type":"bytes"},{"name":"data","type":"bytes"}],
	 "outputs":[{"name":"returnAmount","type":"uint256"},{"name":"spentAmount","type":"uint256"}]},
	{"type":"function","name":"unoswap","stateMutability":"payable","inputs":[{"name":"srcToken","type":"address"},{"name":"amount","type":"uint256"},{"name":"minReturn","type":"uint256"},{"name":"pools","type":"uint256[]"}],"outputs":[{"name":"returnAmount","type":"uint256"}]},
	{"type":"function","name":"uniswapV3Swap","stateMutability":"payable","inputs":[{"name":"amount","type":"uint256"},{"name":"minReturn","type":"uint256"},{"name":"pools","type":"uint256[]"}],"outputs":[{"name":"returnAmount","type":"uint256"}]}
]`

// AggregationRouterV6; Address arguments are uint256 wrappers.
const aggregationV6JSON = `[
	{"type":"function","name":"swap","stateMutability":"payable","inputs":[{"name":"executor","type":"address"},{"name":"desc","type":"tuple","components":[
		{"name":"srcToken","type":"address"},{"name":"dstToken","type":"address"},{"name":"srcReceiver","type":"address"},{"name":"dstReceiver","type":"address"},
		{"name":"amount","type":"uint256"},{"name":"minReturnAmount","type":"uint256"},{"name":"flags","type":"uint256"}]},
		{"name":"data","type":"bytes"}],
	 "outputs":[{"name":"returnAmount","type":"uint256"},{"name":"spentAmount","type":"uint256"}]},
	{"type":"function","name":"unoswap","stateMutability":"nonpayable","inputs":[{"name":"token","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"minReturn","type":"uint256"},{"name":"dex","type":"uint256"}],"outputs":[{"name":"returnAmount","type":"uint256"}]}
]`

// Parsed contract ABIs.
var (
	ERC20ABI     = mustParse(erc20JSON)
	V2FactoryABI = mustParse(v2FactoryJSON)
	V2PairABI    = mustParse(v2PairJSON)
	V2RouterABI  = mustParse(v2RouterJSON)
	V3FactoryABI = mustParse(v3FactoryJSON)
	V3PoolABI    = mustParse(v3PoolJSON)
	V3QuoterABI  = mustParse(v3QuoterJSON)
	V3RouterABI  = mustParse(v3RouterJSON)
	LaunchpadABI = mustParse(launchpadJSON)

	AggregationV5ABI = mustParse(aggregationV5JSON)
	AggregationV6ABI = mustParse(aggregationV6JSON)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid abi: " + err.Error())
	}
	return parsed
}
