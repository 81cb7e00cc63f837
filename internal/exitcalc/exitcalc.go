// Package exitcalc computes stop-loss and take-profit levels for a new
// position and ratchets trailing stops as price moves.
//
// Percentages are fractions: 0.10 means 10%.
package exitcalc

import (
	"errors"
	"fmt"
	"math"

	"dex-copy-engine/internal/domain"
)

var (
	// ErrInvalidPrice is returned for non-positive entry prices.
	ErrInvalidPrice = errors.New("exitcalc: invalid price")

	// ErrInsufficientHistory is returned when there are fewer candles than the ATR period.
	ErrInsufficientHistory = errors.New("exitcalc: insufficient price history")
)

// Options configures Calculate.
type Options struct {
	Type domain.StopLossType

	// FIXED mode
	StopLossPct   float64
	TakeProfitPct float64

	// ATR mode. Stop = entry - StopMultiplier*ATR, target = entry + TargetMultiplier*ATR.
	ATRPeriod        int
	StopMultiplier   float64
	TargetMultiplier float64
	MinStopLossPct   float64
	MaxStopLossPct   float64
	MinTakeProfitPct float64
	MaxTakeProfitPct float64

	// TRAILING mode
	TrailPct float64
}

// DefaultOptions returns FIXED 10% stop / 20% target with ATR and trailing defaults filled.
func DefaultOptions() Options {
	return Options{
		Type:             domain.StopLossFixed,
		StopLossPct:      0.10,
		TakeProfitPct:    0.20,
		ATRPeriod:        14,
		StopMultiplier:   2,
		TargetMultiplier: 3,
		MinStopLossPct:   0.03,
		MaxStopLossPct:   0.15,
		MinTakeProfitPct: 0.05,
		MaxTakeProfitPct: 0.50,
		TrailPct:         0.10,
	}
}

// Validate checks that percentages lie in (0, 1) and bands are ordered.
func (o Options) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"stop_loss_pct", o.StopLossPct},
		{"take_profit_pct", o.TakeProfitPct},
		{"trail_pct", o.TrailPct},
	}
	for _, c := range checks {
		if c.v <= 0 || c.v >= 1 {
			return fmt.Errorf("exitcalc: %s must be in (0, 1), got %v", c.name, c.v)
		}
	}
	if o.Type == domain.StopLossATR {
		if o.ATRPeriod <= 0 || o.StopMultiplier <= 0 || o.TargetMultiplier <= 0 {
			return errors.New("exitcalc: atr period and multipliers must be positive")
		}
		if o.MinStopLossPct <= 0 || o.MinStopLossPct > o.MaxStopLossPct || o.MaxStopLossPct >= 1 {
			return fmt.Errorf("exitcalc: invalid stop loss band [%v, %v]", o.MinStopLossPct, o.MaxStopLossPct)
		}
		if o.MinTakeProfitPct <= 0 || o.MinTakeProfitPct > o.MaxTakeProfitPct {
			return fmt.Errorf("exitcalc: invalid take profit band [%v, %v]", o.MinTakeProfitPct, o.MaxTakeProfitPct)
		}
	}
	return nil
}

// Levels are the exit prices of a new position.
type Levels struct {
	StopLossPrice         float64
	TakeProfitPrice       float64
	StopLossType          domain.StopLossType
	TrailingStopActivated bool
	ATR                   float64 // zero unless ATR mode was used
}

// Calculate returns the initial exit levels for a position opened at entryPrice.
// ATR mode without enough history falls back to FIXED; the returned
// StopLossType reports the mode actually used.
func Calculate(entryPrice float64, history []domain.Candle, opts Options) (Levels, error) {
	if entryPrice <= 0 || math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) {
		return Levels{}, fmt.Errorf("%w: entry %v", ErrInvalidPrice, entryPrice)
	}
	if err := opts.Validate(); err != nil {
		return Levels{}, err
	}

	switch opts.Type {
	case domain.StopLossFixed, "":
		return fixedLevels(entryPrice, opts), nil

	case domain.StopLossATR:
		atr, err := ATR(history, opts.ATRPeriod)
		if errors.Is(err, ErrInsufficientHistory) {
			return fixedLevels(entryPrice, opts), nil
		}
		if err != nil {
			return Levels{}, err
		}
		stopPct := clamp(opts.StopMultiplier*atr/entryPrice, opts.MinStopLossPct, opts.MaxStopLossPct)
		targetPct := clamp(opts.TargetMultiplier*atr/entryPrice, opts.MinTakeProfitPct, opts.MaxTakeProfitPct)
		return Levels{
			StopLossPrice:   entryPrice * (1 - stopPct),
			TakeProfitPrice: entryPrice * (1 + targetPct),
			StopLossType:    domain.StopLossATR,
			ATR:             atr,
		}, nil

	case domain.StopLossTrailing:
		return Levels{
			StopLossPrice:         entryPrice * (1 - opts.TrailPct),
			TakeProfitPrice:       entryPrice * (1 + opts.TakeProfitPct),
			StopLossType:          domain.StopLossTrailing,
			TrailingStopActivated: true,
		}, nil
	}
	return Levels{}, fmt.Errorf("exitcalc: unknown stop loss type %q", opts.Type)
}

func fixedLevels(entryPrice float64, opts Options) Levels {
	return Levels{
		StopLossPrice:   entryPrice * (1 - opts.StopLossPct),
		TakeProfitPrice: entryPrice * (1 + opts.TakeProfitPct),
		StopLossType:    domain.StopLossFixed,
	}
}

// ATR is the mean true range of the last period candles. The first candle
// has no previous close, so its true range is high - low.
func ATR(candles []domain.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("exitcalc: atr period must be positive, got %d", period)
	}
	if len(candles) < period {
		return 0, fmt.Errorf("%w: %d candles, period %d", ErrInsufficientHistory, len(candles), period)
	}

	start := len(candles) - period
	var sum float64
	for i := start; i < len(candles); i++ {
		c := candles[i]
		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		}
		sum += tr
	}
	return sum / float64(period), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
