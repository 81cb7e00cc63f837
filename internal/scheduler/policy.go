package scheduler

import "dex-copy-engine/internal/domain"

// DeviationPolicy abandons a monitor when price moves too far outside the
// entry band. A disabled policy never aborts.
type DeviationPolicy struct {
	Enabled bool
	MaxPct  float64 // percent past the nearest band edge
}

// Deviation returns how far price lies outside the entry band, in percent
// of the nearest edge. Prices inside the band return zero.
func Deviation(sig *domain.Signal, price float64) float64 {
	switch {
	case price > sig.EntryMax && sig.EntryMax > 0:
		return (price - sig.EntryMax) / sig.EntryMax * 100
	case price < sig.EntryMin && sig.EntryMin > 0:
		return (sig.EntryMin - price) / sig.EntryMin * 100
	}
	return 0
}

// ShouldAbort reports whether the monitor for sig should be abandoned at price.
func (p DeviationPolicy) ShouldAbort(sig *domain.Signal, price float64) (bool, float64) {
	dev := Deviation(sig, price)
	return p.Enabled && p.MaxPct > 0 && dev > p.MaxPct, dev
}
