// Package risk decides whether a strategy may trade a signal.
package risk

import "strings"

// Level is the severity of a risk finding.
type Level string

const (
	// LevelCritical blocks the trade.
	LevelCritical Level = "CRITICAL"
	// LevelHigh and LevelMedium are advisory.
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
)

// Risk codes.
const (
	CodeDisabled            = "STRATEGY_DISABLED"
	CodeSignalType          = "SIGNAL_TYPE"
	CodeChain               = "CHAIN_UNSUPPORTED"
	CodeStrategyPin         = "STRATEGY_MISMATCH"
	CodeFollowStrategy      = "FOLLOW_STRATEGY"
	CodeSignalAge           = "SIGNAL_TOO_OLD"
	CodeConfidence          = "LOW_CONFIDENCE"
	CodePaused              = "CIRCUIT_BREAKER"
	CodeBalanceUnavailable  = "BALANCE_UNAVAILABLE"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInsufficientGas     = "INSUFFICIENT_GAS"
	CodeMaxPositions        = "MAX_POSITIONS"
	CodeAmountLimit         = "AMOUNT_LIMIT"
	CodeDailyLoss           = "DAILY_LOSS_LIMIT"
	CodeBlacklisted         = "BLACKLISTED"
	CodeNotWhitelisted      = "NOT_WHITELISTED"
	CodeLowLiquidity        = "LOW_LIQUIDITY"
	CodeConcentration       = "CONCENTRATION"
)

// Risk is one finding of a check.
type Risk struct {
	Level  Level
	Code   string
	Reason string
}

// Result is the outcome of CheckTradeRisk.
// Passed is false iff Risks contains a CRITICAL finding, which is then last.
type Result struct {
	Passed bool
	Risks  []Risk
}

// Blocking returns the CRITICAL finding, if any.
func (r *Result) Blocking() *Risk {
	for i := range r.Risks {
		if r.Risks[i].Level == LevelCritical {
			return &r.Risks[i]
		}
	}
	return nil
}

// Warnings returns the non-blocking findings.
func (r *Result) Warnings() []Risk {
	var out []Risk
	for _, risk := range r.Risks {
		if risk.Level != LevelCritical {
			out = append(out, risk)
		}
	}
	return out
}

// Reason returns the blocking reason, or the joined warnings when passed.
func (r *Result) Reason() string {
	if b := r.Blocking(); b != nil {
		return b.Reason
	}
	reasons := make([]string, 0, len(r.Risks))
	for _, risk := range r.Risks {
		reasons = append(reasons, risk.Reason)
	}
	return strings.Join(reasons, "; ")
}

// Code returns the blocking code, or empty when passed.
func (r *Result) Code() string {
	if b := r.Blocking(); b != nil {
		return b.Code
	}
	return ""
}

// Level returns the worst level found, or empty when clean.
func (r *Result) Level() Level {
	worst := Level("")
	for _, risk := range r.Risks {
		switch {
		case risk.Level == LevelCritical:
			return LevelCritical
		case risk.Level == LevelHigh:
			worst = LevelHigh
		case worst == "":
			worst = risk.Level
		}
	}
	return worst
}

func (r *Result) add(level Level, code, reason string) {
	r.Risks = append(r.Risks, Risk{Level: level, Code: code, Reason: reason})
}

func (r *Result) reject(code, reason string) *Result {
	r.add(LevelCritical, code, reason)
	r.Passed = false
	return r
}
