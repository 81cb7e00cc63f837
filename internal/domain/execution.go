package domain

import "time"

// ExecutionStatus is the execution state machine:
// PENDING -> SUBMITTING -> SUBMITTED -> HOLDING -> EXITED,
// with FAILED and INSUFFICIENT_BALANCE as side states.
type ExecutionStatus string

const (
	ExecutionPending             ExecutionStatus = "PENDING"
	ExecutionSubmitting          ExecutionStatus = "SUBMITTING"
	ExecutionSubmitted           ExecutionStatus = "SUBMITTED"
	ExecutionHolding             ExecutionStatus = "HOLDING"
	ExecutionExited              ExecutionStatus = "EXITED"
	ExecutionFailed              ExecutionStatus = "FAILED"
	ExecutionInsufficientBalance ExecutionStatus = "INSUFFICIENT_BALANCE"
)

// InFlight reports whether the execution is between creation and confirmation.
func (s ExecutionStatus) InFlight() bool {
	return s == ExecutionPending || s == ExecutionSubmitting || s == ExecutionSubmitted
}

// Retryable reports whether a new attempt may replace the record.
func (s ExecutionStatus) Retryable() bool {
	return s == ExecutionFailed
}

// Execution is one (strategy, signal) trade attempt.
// ExecutionID is derived from (user, signal) and is the idempotency key.
type Execution struct {
	ExecutionID string
	StrategyID  string
	UserID      string
	SignalID    string
	Token       string
	Chain       string
	Status      ExecutionStatus

	AmountUSD    float64
	AmountIn     string // base units, decimal string
	AmountOutMin string // base units, decimal string
	Venue        Venue

	EntryTxHash string
	ExitTxHash  string
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64

	BatchID    string
	BatchIndex int

	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExitedAt  *time.Time
}
