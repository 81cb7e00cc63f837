package domain

import "time"

// StopLossType selects how the exit levels of a position are computed.
type StopLossType string

const (
	StopLossFixed    StopLossType = "FIXED"
	StopLossATR      StopLossType = "ATR"
	StopLossTrailing StopLossType = "TRAILING"
)

// PositionStatus is the state of a position.
type PositionStatus string

const (
	PositionHolding PositionStatus = "HOLDING"
	PositionExited  PositionStatus = "EXITED"
)

// Position is the live state of a HOLDING execution.
type Position struct {
	ExecutionID           string
	StrategyID            string
	Token                 string
	Chain                 string
	EntryPrice            float64
	HighestPrice          float64
	StopLossPrice         float64
	TakeProfitPrice       float64
	StopLossType          StopLossType
	TrailingStopActivated bool
	Status                PositionStatus
	OpenedAt              time.Time
	UpdatedAt             time.Time
}

// Candle is one OHLC bar of price history.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
}
