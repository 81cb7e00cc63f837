package domain

import "time"

// BatchStatus is the progress state of a batch run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchAborted   BatchStatus = "ABORTED"
)

// Batch groups the executions of one signal trigger.
type Batch struct {
	ID             string
	SignalID       string
	TotalUsers     int
	TotalAmount    float64
	LiquidityUSD   float64
	BatchCount     int
	BatchSize      int // max accounts in one batch
	CompletedUsers int
	FailedUsers    int
	SkippedUsers   int
	Status         BatchStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
