package exitcalc

import "dex-copy-engine/internal/domain"

// TrailingOptions configures UpdateTrailingStop.
type TrailingOptions struct {
	TrailPct float64

	// Non-TRAILING positions start trailing once profit reaches
	// ActivationPct, when Eligible is set.
	Eligible      bool
	ActivationPct float64
}

// DefaultTrailingOptions trails 10% below the high after a 10% gain.
func DefaultTrailingOptions() TrailingOptions {
	return TrailingOptions{TrailPct: 0.10, Eligible: true, ActivationPct: 0.10}
}

// UpdateTrailingStop records price on pos and ratchets its stop.
// The stop price never decreases. It reports whether pos changed.
func UpdateTrailingStop(pos *domain.Position, price float64, opts TrailingOptions) bool {
	if pos == nil || price <= 0 || pos.Status == domain.PositionExited {
		return false
	}
	changed := false

	if price > pos.HighestPrice {
		pos.HighestPrice = price
		changed = true
	}

	if !pos.TrailingStopActivated {
		switch {
		case pos.StopLossType == domain.StopLossTrailing:
			pos.TrailingStopActivated = true
		case opts.Eligible && pos.EntryPrice > 0 && (price-pos.EntryPrice)/pos.EntryPrice >= opts.ActivationPct:
			pos.TrailingStopActivated = true
		}
		changed = changed || pos.TrailingStopActivated
	}

	if pos.TrailingStopActivated {
		stop := pos.HighestPrice * (1 - opts.TrailPct)
		if stop > pos.StopLossPrice {
			pos.StopLossPrice = stop
			changed = true
		}
	}
	return changed
}

// Exit reasons reported by ShouldExit.
const (
	ExitStopLoss     = "STOP_LOSS"
	ExitTrailingStop = "TRAILING_STOP"
	ExitTakeProfit   = "TAKE_PROFIT"
)

// ShouldExit reports whether price crosses one of pos's exit levels.
// Stops win over targets when both are crossed.
func ShouldExit(pos *domain.Position, price float64) (string, bool) {
	if pos == nil || pos.Status != domain.PositionHolding {
		return "", false
	}
	if pos.StopLossPrice > 0 && price <= pos.StopLossPrice {
		if pos.TrailingStopActivated {
			return ExitTrailingStop, true
		}
		return ExitStopLoss, true
	}
	if pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
		return ExitTakeProfit, true
	}
	return "", false
}
