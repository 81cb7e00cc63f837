package config

import (
	"time"

	"dex-copy-engine/internal/domain"
)

// Default values.
const (
	DefaultRPCTimeout            = 10 * time.Second
	DefaultBondingCurveImpactPct = 5.0
	DefaultV2FeeBps              = 30
)

// DefaultFeeTiers are the concentrated-liquidity fee tiers probed for the deepest pool.
var DefaultFeeTiers = []uint32{100, 500, 2500, 10000}

// Mainnet addresses.
const (
	BSCWBNB              = "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
	BSCUSDT              = "0x55d398326f99059fF775485246999027B3197955"
	BSCUSDC              = "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"
	PancakeV2Factory     = "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"
	PancakeV2Router      = "0x10ED43C718714eb63d5aA57B78B54704E256024E"
	PancakeV3Factory     = "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865"
	PancakeV3QuoterV2    = "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997"
	PancakeSmartRouter   = "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4"
	FourMemeTokenManager = "0x5c952063c7fc8610FFDB798152D69F0B9550762b"

	BaseWETH       = "0x4200000000000000000000000000000000000006"
	BaseUSDC       = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	BaseV2Factory  = "0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"
	BaseV2Router02 = "0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"
)

// Default returns the built-in configuration for BSC and Base.
func Default() *Config {
	return &Config{
		Chains: DefaultChains(),
		Safety: SafetyConfig{
			LiquidityCheck:       true,
			ReasonabilityCheck:   true,
			ImpactCheck:          true,
			MaxPriceDeviationPct: 10,
			MaxImpactPct:         10,
			DeviationAbort:       true,
			DeviationAbortPct:    10,
		},
		Risk: RiskConfig{
			PauseDuration: time.Hour,
			MemeMaxAge:    20 * time.Minute,
			RangeMaxAge:   4 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 10 * time.Second,
		},
		Execution: ExecutionConfig{
			MinLiquidityUSD:     50_000,
			MaxLiquidityPercent: 2,
			MaxAccountsPerBatch: 50,
			InterBatchDelay:     30 * time.Second,
			DefaultSlippageBps:  100,
			SwapDeadline:        20 * time.Minute,
		},
		MarketData: MarketDataConfig{
			Timeout:   10 * time.Second,
			RateLimit: 10,
			CacheTTL:  5 * time.Minute,
		},
		Signer: SignerConfig{
			Timeout: 10 * time.Second,
		},
		Events: EventsConfig{
			Exchange: "copytrade.executions",
		},
		Housekeeping: HousekeepingConfig{
			Schedule: "@every 1m",
		},
	}
}

// DefaultChains returns the BSC and Base waterfalls.
func DefaultChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"bsc": {
			ChainID:       56,
			RPCEndpoints:  []string{"https://bsc-dataseed.bnbchain.org", "https://bsc-dataseed1.defibit.io"},
			RPCTimeout:    DefaultRPCTimeout,
			WrappedNative: BSCWBNB,
			QuoteToken:    BSCUSDT,
			Stablecoins: []Stablecoin{
				{Symbol: "USDT", Address: BSCUSDT, Decimals: 18},
				{Symbol: "USDC", Address: BSCUSDC, Decimals: 18},
			},
			MinGasBalance: 0.002,
			Venues: []VenueConfig{
				{
					Type:            domain.VenueAggregator,
					Name:            "1inch",
					APIURL:          "https://api.1inch.dev/swap/v6.0/56",
					RateLimit:       1,
					MinLiquidityUSD: 10_000,
					MaxImpactPct:    10,
				},
				{
					Type:            domain.VenueV3,
					Name:            "pancake-v3",
					Factory:         PancakeV3Factory,
					Router:          PancakeSmartRouter,
					Quoter:          PancakeV3QuoterV2,
					FeeTiers:        append([]uint32(nil), DefaultFeeTiers...),
					MinLiquidityUSD: 10_000,
					MaxImpactPct:    10,
				},
				{
					Type:            domain.VenueV2,
					Name:            "pancake-v2",
					Factory:         PancakeV2Factory,
					Router:          PancakeV2Router,
					FeeBps:          25,
					MinLiquidityUSD: 5_000,
					MaxImpactPct:    10,
				},
			},
			BondingCurve: &VenueConfig{
				Type:            domain.VenueBondingCurve,
				Name:            "four.meme",
				Router:          FourMemeTokenManager,
				FeeBps:          100,
				MinLiquidityUSD: 1_000,
				MaxImpactPct:    DefaultBondingCurveImpactPct,
			},
		},
		"base": {
			ChainID:       8453,
			RPCEndpoints:  []string{"https://mainnet.base.org"},
			RPCTimeout:    DefaultRPCTimeout,
			WrappedNative: BaseWETH,
			QuoteToken:    BaseUSDC,
			Stablecoins: []Stablecoin{
				{Symbol: "USDC", Address: BaseUSDC, Decimals: 6},
			},
			MinGasBalance: 0.0005,
			Venues: []VenueConfig{
				{
					Type:            domain.VenueV2,
					Name:            "uniswap-v2",
					Factory:         BaseV2Factory,
					Router:          BaseV2Router02,
					FeeBps:          30,
					MinLiquidityUSD: 5_000,
					MaxImpactPct:    10,
				},
			},
		},
	}
}
