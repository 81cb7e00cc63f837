// Package config loads chain, venue and safety settings from a YAML file
// and runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"dex-copy-engine/internal/domain"
)

// Config is the engine configuration.
type Config struct {
	Chains       map[string]ChainConfig `yaml:"chains"`
	Safety       SafetyConfig           `yaml:"safety"`
	Risk         RiskConfig             `yaml:"risk"`
	Scheduler    SchedulerConfig        `yaml:"scheduler"`
	Execution    ExecutionConfig        `yaml:"execution"`
	MarketData   MarketDataConfig       `yaml:"market_data"`
	Signer       SignerConfig           `yaml:"signer"`
	Events       EventsConfig           `yaml:"events"`
	Housekeeping HousekeepingConfig     `yaml:"housekeeping"`
}

// Stablecoin is a recognized stablecoin contract.
type Stablecoin struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// ChainConfig describes one EVM chain and its routing waterfall.
type ChainConfig struct {
	ChainID       int64         `yaml:"chain_id"`
	RPCEndpoints  []string      `yaml:"rpc_endpoints"`
	RPCTimeout    time.Duration `yaml:"rpc_timeout"`
	WrappedNative string        `yaml:"wrapped_native"`
	// QuoteToken is the stablecoin spent on entries.
	QuoteToken    string        `yaml:"quote_token"`
	Stablecoins   []Stablecoin  `yaml:"stablecoins"`
	MinGasBalance float64       `yaml:"min_gas_balance"` // native units
	Venues        []VenueConfig `yaml:"venues"`          // waterfall order
	BondingCurve  *VenueConfig  `yaml:"bonding_curve"`
}

// VenueConfig is one venue of a chain's waterfall.
type VenueConfig struct {
	Type     domain.Venue `yaml:"type"`
	Name     string       `yaml:"name"`
	Factory  string       `yaml:"factory"`
	Router   string       `yaml:"router"`
	Quoter   string       `yaml:"quoter"`
	FeeTiers []uint32     `yaml:"fee_tiers"`

	// Aggregator API
	APIURL    string  `yaml:"api_url"`
	APIKey    string  `yaml:"api_key"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second

	// FeeBps is the constant-product or bonding curve trading fee.
	FeeBps int64 `yaml:"fee_bps"`

	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	MaxImpactPct    float64 `yaml:"max_impact_pct"`
}

// SafetyConfig toggles the routing gates and the scheduler deviation abort.
// Each gate is independent; all default to enabled.
type SafetyConfig struct {
	LiquidityCheck       bool    `yaml:"liquidity_check"`
	ReasonabilityCheck   bool    `yaml:"reasonability_check"`
	ImpactCheck          bool    `yaml:"impact_check"`
	MaxPriceDeviationPct float64 `yaml:"max_price_deviation_pct"`
	MaxImpactPct         float64 `yaml:"max_impact_pct"`
	DeviationAbort       bool    `yaml:"deviation_abort"`
	DeviationAbortPct    float64 `yaml:"deviation_abort_pct"`
}

// RiskConfig holds risk gate parameters shared by every strategy.
type RiskConfig struct {
	PauseDuration time.Duration `yaml:"pause_duration"`
	MemeMaxAge    time.Duration `yaml:"meme_max_age"`
	RangeMaxAge   time.Duration `yaml:"range_max_age"`
}

// SchedulerConfig holds entry monitor parameters.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ExecutionConfig holds batch pipeline parameters.
type ExecutionConfig struct {
	MinLiquidityUSD     float64       `yaml:"min_liquidity_usd"`
	MaxLiquidityPercent float64       `yaml:"max_liquidity_percent"`
	MinSplitNotional    float64       `yaml:"min_split_notional"`
	MaxAccountsPerBatch int           `yaml:"max_accounts_per_batch"`
	InterBatchDelay     time.Duration `yaml:"inter_batch_delay"`
	DefaultSlippageBps  int64         `yaml:"default_slippage_bps"`
	SwapDeadline        time.Duration `yaml:"swap_deadline"`
}

// MarketDataConfig configures the price/liquidity provider.
type MarketDataConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	StreamURL string        `yaml:"stream_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// SignerConfig configures the external custody signer.
type SignerConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig configures execution event publishing. An empty URL disables it.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// HousekeepingConfig schedules the maintenance jobs (robfig/cron spec).
type HousekeepingConfig struct {
	Schedule string `yaml:"schedule"`
}

// Load reads a YAML config file over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, fills zero values with defaults and validates.
// Chains present in the document replace the default entry of the same name.
func Parse(data []byte, cfg *Config) error {
	base := cfg.Chains
	cfg.Chains = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	merged := make(map[string]ChainConfig, len(base)+len(cfg.Chains))
	for name, c := range base {
		merged[strings.ToLower(name)] = c
	}
	for name, c := range cfg.Chains {
		merged[strings.ToLower(name)] = c
	}
	cfg.Chains = merged
	cfg.applyDefaults()
	return cfg.Validate()
}

// Chain returns the config of a chain by case-insensitive name.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	cc, ok := c.Chains[strings.ToLower(name)]
	return cc, ok
}

func (c *Config) applyDefaults() {
	d := Default()

	if c.Safety.MaxPriceDeviationPct <= 0 {
		c.Safety.MaxPriceDeviationPct = d.Safety.MaxPriceDeviationPct
	}
	if c.Safety.MaxImpactPct <= 0 {
		c.Safety.MaxImpactPct = d.Safety.MaxImpactPct
	}
	if c.Safety.DeviationAbortPct <= 0 {
		c.Safety.DeviationAbortPct = d.Safety.DeviationAbortPct
	}
	if c.Risk.PauseDuration <= 0 {
		c.Risk.PauseDuration = d.Risk.PauseDuration
	}
	if c.Risk.MemeMaxAge <= 0 {
		c.Risk.MemeMaxAge = d.Risk.MemeMaxAge
	}
	if c.Risk.RangeMaxAge <= 0 {
		c.Risk.RangeMaxAge = d.Risk.RangeMaxAge
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = d.Scheduler.PollInterval
	}
	if c.Execution.MinLiquidityUSD <= 0 {
		c.Execution.MinLiquidityUSD = d.Execution.MinLiquidityUSD
	}
	if c.Execution.MaxLiquidityPercent <= 0 {
		c.Execution.MaxLiquidityPercent = d.Execution.MaxLiquidityPercent
	}
	if c.Execution.MaxAccountsPerBatch <= 0 {
		c.Execution.MaxAccountsPerBatch = d.Execution.MaxAccountsPerBatch
	}
	if c.Execution.InterBatchDelay < 0 {
		c.Execution.InterBatchDelay = d.Execution.InterBatchDelay
	}
	if c.Execution.DefaultSlippageBps <= 0 {
		c.Execution.DefaultSlippageBps = d.Execution.DefaultSlippageBps
	}
	if c.Execution.SwapDeadline <= 0 {
		c.Execution.SwapDeadline = d.Execution.SwapDeadline
	}
	if c.MarketData.Timeout <= 0 {
		c.MarketData.Timeout = d.MarketData.Timeout
	}
	if c.MarketData.CacheTTL <= 0 {
		c.MarketData.CacheTTL = d.MarketData.CacheTTL
	}
	if c.Signer.Timeout <= 0 {
		c.Signer.Timeout = d.Signer.Timeout
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = d.Events.Exchange
	}
	if c.Housekeeping.Schedule == "" {
		c.Housekeeping.Schedule = d.Housekeeping.Schedule
	}

	for name, cc := range c.Chains {
		if cc.RPCTimeout <= 0 {
			cc.RPCTimeout = DefaultRPCTimeout
		}
		for i := range cc.Venues {
			if cc.Venues[i].MaxImpactPct <= 0 {
				cc.Venues[i].MaxImpactPct = c.Safety.MaxImpactPct
			}
			if cc.Venues[i].Type == domain.VenueV2 && cc.Venues[i].FeeBps == 0 {
				cc.Venues[i].FeeBps = DefaultV2FeeBps
			}
			if cc.Venues[i].Type == domain.VenueV3 && len(cc.Venues[i].FeeTiers) == 0 {
				cc.Venues[i].FeeTiers = append([]uint32(nil), DefaultFeeTiers...)
			}
		}
		if cc.BondingCurve != nil && cc.BondingCurve.MaxImpactPct <= 0 {
			cc.BondingCurve.MaxImpactPct = DefaultBondingCurveImpactPct
		}
		c.Chains[name] = cc
	}
}

// Validate checks addresses and required fields.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: no chains configured")
	}
	for name, cc := range c.Chains {
		if cc.ChainID <= 0 {
			return fmt.Errorf("config: chain %s: chain_id is required", name)
		}
		if err := checkAddress(name, "wrapped_native", cc.WrappedNative); err != nil {
			return err
		}
		if err := checkAddress(name, "quote_token", cc.QuoteToken); err != nil {
			return err
		}
		if len(cc.Stablecoins) == 0 {
			return fmt.Errorf("config: chain %s: at least one stablecoin is required", name)
		}
		for _, s := range cc.Stablecoins {
			if err := checkAddress(name, "stablecoin "+s.Symbol, s.Address); err != nil {
				return err
			}
		}
		if len(cc.Venues) == 0 {
			return fmt.Errorf("config: chain %s: venue waterfall is empty", name)
		}
		venues := cc.Venues
		if cc.BondingCurve != nil {
			venues = append(append([]VenueConfig(nil), venues...), *cc.BondingCurve)
		}
		for _, v := range venues {
			if err := v.validate(name); err != nil {
				return err
			}
		}
	}
	if c.Execution.MaxLiquidityPercent > 100 {
		return fmt.Errorf("config: max_liquidity_percent %.2f exceeds 100", c.Execution.MaxLiquidityPercent)
	}
	return nil
}

func (v VenueConfig) validate(chain string) error {
	switch v.Type {
	case domain.VenueAggregator:
		if v.APIURL == "" {
			return fmt.Errorf("config: chain %s: aggregator api_url is required", chain)
		}
	case domain.VenueV3:
		for field, addr := range map[string]string{"factory": v.Factory, "router": v.Router, "quoter": v.Quoter} {
			if err := checkAddress(chain, "v3 "+field, addr); err != nil {
				return err
			}
		}
	case domain.VenueV2:
		for field, addr := range map[string]string{"factory": v.Factory, "router": v.Router} {
			if err := checkAddress(chain, "v2 "+field, addr); err != nil {
				return err
			}
		}
	case domain.VenueBondingCurve:
		if err := checkAddress(chain, "bonding_curve router", v.Router); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: chain %s: unknown venue type %q", chain, v.Type)
	}
	return nil
}

func checkAddress(chain, field, addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("config: chain %s: invalid %s address %q", chain, field, addr)
	}
	return nil
}
