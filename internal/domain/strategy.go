package domain

import (
	"strings"
	"time"
)

// FollowStrategy selects which signal sources a strategy follows.
type FollowStrategy string

const (
	FollowAll        FollowStrategy = "ALL"
	FollowWhitelist  FollowStrategy = "WHITELIST"
	FollowTopSignals FollowStrategy = "TOP_SIGNALS"
	FollowTwitterKOL FollowStrategy = "TWITTER_KOL"
	FollowTelegram   FollowStrategy = "TELEGRAM"
	FollowMeme       FollowStrategy = "MEME"
	FollowFusion     FollowStrategy = "FUSION"
	FollowRange      FollowStrategy = "RANGE"
)

// IsValid checks if the follow strategy is a known variant.
func (f FollowStrategy) IsValid() bool {
	switch f {
	case FollowAll, FollowWhitelist, FollowTopSignals, FollowTwitterKOL,
		FollowTelegram, FollowMeme, FollowFusion, FollowRange:
		return true
	}
	return false
}

// StrategyConfig holds one user strategy's trading and risk parameters.
type StrategyConfig struct {
	ID            string
	UserID        string
	Enabled       bool
	WalletAddress string
	Chains        []string

	// Sizing
	TradeAmount    float64 // USD per trade; zero means MaxTradeAmount
	MaxTradeAmount float64 // USD ceiling per trade
	MaxSlippageBps int64
	MaxPositions   int

	// Risk
	DailyLossLimitPct     float64 // positive percent, e.g. 10 = -10% of daily notional
	SingleTokenMaxPercent float64 // percent of account balance
	MinLiquidityRequired  float64 // USD

	Whitelist      SymbolSet
	Blacklist      SymbolSet
	FollowStrategy FollowStrategy
	MinConfidence  float64

	// Circuit breaker
	PausedUntil *time.Time
	PauseReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPaused reports whether the circuit breaker is active at now.
func (s *StrategyConfig) IsPaused(now time.Time) bool {
	return s.PausedUntil != nil && s.PausedUntil.After(now)
}

// SupportsChain reports whether the strategy trades on chain.
// An empty chain list means every configured chain.
func (s *StrategyConfig) SupportsChain(chain string) bool {
	if len(s.Chains) == 0 {
		return true
	}
	for _, c := range s.Chains {
		if strings.EqualFold(c, chain) {
			return true
		}
	}
	return false
}

// AmountPerTrade returns the USD notional to spend on one entry.
func (s *StrategyConfig) AmountPerTrade() float64 {
	if s.TradeAmount > 0 && (s.MaxTradeAmount <= 0 || s.TradeAmount <= s.MaxTradeAmount) {
		return s.TradeAmount
	}
	return s.MaxTradeAmount
}

// Allocation is one approved account's share of a signal.
type Allocation struct {
	Strategy  StrategyConfig
	AmountUSD float64
}
