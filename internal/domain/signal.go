package domain

import (
	"strings"
	"time"
)

// SignalType is the trade direction carried by a signal.
type SignalType string

const (
	SignalTypeLong  SignalType = "LONG"
	SignalTypeBuy   SignalType = "BUY"
	SignalTypeShort SignalType = "SHORT"
	SignalTypeSell  SignalType = "SELL"
)

// IsEntry reports whether the signal opens a long position.
func (t SignalType) IsEntry() bool {
	switch SignalType(strings.ToUpper(string(t))) {
	case SignalTypeLong, SignalTypeBuy:
		return true
	}
	return false
}

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	SignalStatusActive    SignalStatus = "ACTIVE"
	SignalStatusTriggered SignalStatus = "TRIGGERED"
	SignalStatusExpired   SignalStatus = "EXPIRED"
	SignalStatusSkipped   SignalStatus = "SKIPPED"
)

// SignalSource identifies the upstream channel that produced a signal.
type SignalSource string

const (
	SourceAnalyzer   SignalSource = "ANALYZER"
	SourceTelegram   SignalSource = "TELEGRAM"
	SourceTwitterKOL SignalSource = "TWITTER_KOL"
	SourceMeme       SignalSource = "MEME"
	SourceRange      SignalSource = "RANGE"
	SourceFusion     SignalSource = "FUSION"
)

// id prefixes used by upstream producers when no explicit source is set.
var sourcePrefixes = []struct {
	prefix string
	source SignalSource
}{
	{"tg_", SourceTelegram},
	{"kol_", SourceTwitterKOL},
	{"tw_", SourceTwitterKOL},
	{"ca_", SourceMeme},
	{"meme_", SourceMeme},
	{"range_", SourceRange},
	{"fusion_", SourceFusion},
}

// Signal is a trading signal emitted by an upstream producer.
// Only Status, RejectionReason and LastPrice change after creation.
type Signal struct {
	ID              string
	Token           string // symbol, e.g. "CAKE"
	Chain           string // "bsc" | "base"
	ContractAddress string
	Type            SignalType
	EntryMin        float64
	EntryMax        float64
	StopLoss        float64
	TakeProfit      []float64 // up to three targets
	Confidence      float64   // 0..100
	Source          SignalSource
	StrategyID      string // optional pin to a single strategy
	IsBondingCurve  bool   // token launched on a bonding-curve launchpad
	LastPrice       float64
	Status          SignalStatus
	RejectionReason string
	CreatedAt       time.Time
	ExpiresAt       time.Time // zero means no expiry
	UpdatedAt       time.Time
}

// ResolvedSource returns the explicit source tag or, when absent, the
// source implied by the id prefix. Unknown ids are analyzer signals.
func (s *Signal) ResolvedSource() SignalSource {
	if s.Source != "" {
		return SignalSource(strings.ToUpper(string(s.Source)))
	}
	id := strings.ToLower(s.ID)
	for _, p := range sourcePrefixes {
		if strings.HasPrefix(id, p.prefix) {
			return p.source
		}
	}
	return SourceAnalyzer
}

// Asset returns the contract address when known, else the symbol.
func (s *Signal) Asset() string {
	if s.ContractAddress != "" {
		return s.ContractAddress
	}
	return s.Token
}

// InBand reports whether price lies inside [EntryMin, EntryMax].
func (s *Signal) InBand(price float64) bool {
	return price >= s.EntryMin && price <= s.EntryMax
}

// Age returns the signal age at now.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Expired reports whether the signal has passed ExpiresAt.
func (s *Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenKey returns the (token, chain) lock key.
func TokenKey(token, chain string) string {
	return strings.ToLower(chain) + ":" + NormalizeSymbol(token)
}
