package exitcalc

import (
	"testing"

	"dex-copy-engine/internal/domain"
)

func holding(entry, stop float64, typ domain.StopLossType) *domain.Position {
	return &domain.Position{
		ExecutionID:   "exec-1",
		Token:         "CAKE",
		Chain:         "bsc",
		EntryPrice:    entry,
		HighestPrice:  entry,
		StopLossPrice: stop,
		StopLossType:  typ,
		Status:        domain.PositionHolding,
	}
}

func TestUpdateTrailingStop_Monotonic(t *testing.T) {
	pos := holding(1.0, 0.9, domain.StopLossTrailing)
	opts := TrailingOptions{TrailPct: 0.1}

	series := []float64{1.0, 1.05, 1.2, 1.5, 1.4, 1.3, 1.1, 1.6, 0.9, 0.5}
	prev := pos.StopLossPrice
	for _, p := range series {
		UpdateTrailingStop(pos, p, opts)
		if pos.StopLossPrice < prev {
			t.Fatalf("stop moved down at price %v: %v -> %v", p, prev, pos.StopLossPrice)
		}
		prev = pos.StopLossPrice
	}

	if !approx(pos.HighestPrice, 1.6) {
		t.Errorf("highest = %v, want 1.6", pos.HighestPrice)
	}
	if !approx(pos.StopLossPrice, 1.44) {
		t.Errorf("stop = %v, want 1.44", pos.StopLossPrice)
	}
}

func TestUpdateTrailingStop_TrailingModeActivatesImmediately(t *testing.T) {
	pos := holding(1.0, 0.9, domain.StopLossTrailing)

	changed := UpdateTrailingStop(pos, 1.0, TrailingOptions{TrailPct: 0.05})
	if !changed || !pos.TrailingStopActivated {
		t.Fatal("expected trailing to activate on first update")
	}
	if !approx(pos.StopLossPrice, 0.95) {
		t.Errorf("stop = %v, want 0.95", pos.StopLossPrice)
	}
}

func TestUpdateTrailingStop_ActivationThreshold(t *testing.T) {
	pos := holding(1.0, 0.9, domain.StopLossFixed)
	opts := DefaultTrailingOptions()

	UpdateTrailingStop(pos, 1.05, opts)
	if pos.TrailingStopActivated {
		t.Fatal("activated below threshold")
	}
	if !approx(pos.StopLossPrice, 0.9) {
		t.Errorf("stop moved before activation: %v", pos.StopLossPrice)
	}

	UpdateTrailingStop(pos, 1.10, opts)
	if !pos.TrailingStopActivated {
		t.Fatal("expected activation at +10%")
	}
	if !approx(pos.StopLossPrice, 0.99) {
		t.Errorf("stop = %v, want 0.99", pos.StopLossPrice)
	}
}

func TestUpdateTrailingStop_NotEligible(t *testing.T) {
	pos := holding(1.0, 0.9, domain.StopLossATR)
	opts := TrailingOptions{TrailPct: 0.1, Eligible: false, ActivationPct: 0.1}

	UpdateTrailingStop(pos, 2.0, opts)
	if pos.TrailingStopActivated {
		t.Error("ineligible position must not trail")
	}
	if !approx(pos.HighestPrice, 2.0) {
		t.Errorf("highest = %v, want 2.0", pos.HighestPrice)
	}
	if !approx(pos.StopLossPrice, 0.9) {
		t.Errorf("stop = %v, want 0.9", pos.StopLossPrice)
	}
}

func TestUpdateTrailingStop_NoChange(t *testing.T) {
	pos := holding(1.0, 0.9, domain.StopLossFixed)
	if UpdateTrailingStop(pos, 0.95, DefaultTrailingOptions()) {
		t.Error("expected no change below entry")
	}
	if UpdateTrailingStop(nil, 1, DefaultTrailingOptions()) {
		t.Error("nil position must report no change")
	}

	pos.Status = domain.PositionExited
	if UpdateTrailingStop(pos, 5, DefaultTrailingOptions()) {
		t.Error("exited position must not change")
	}
}

func TestShouldExit(t *testing.T) {
	pos := holding(1.0, 0.9, domain.StopLossFixed)
	pos.TakeProfitPrice = 1.2

	tests := []struct {
		price  float64
		reason string
		exit   bool
	}{
		{1.0, "", false},
		{0.9, ExitStopLoss, true},
		{0.5, ExitStopLoss, true},
		{1.2, ExitTakeProfit, true},
		{1.19, "", false},
	}
	for _, tt := range tests {
		reason, exit := ShouldExit(pos, tt.price)
		if exit != tt.exit || reason != tt.reason {
			t.Errorf("ShouldExit(%v) = %q, %v; want %q, %v", tt.price, reason, exit, tt.reason, tt.exit)
		}
	}

	pos.TrailingStopActivated = true
	if reason, _ := ShouldExit(pos, 0.8); reason != ExitTrailingStop {
		t.Errorf("reason = %q, want %q", reason, ExitTrailingStop)
	}
}
