package domain

import "time"

// Decision stages recorded in the decision log.
const (
	StageIntake    = "INTAKE"
	StageScheduler = "SCHEDULER"
	StageExecution = "EXECUTION"
	StageRouting   = "ROUTING"
)

// Decision is one audit entry explaining why a signal progressed or not.
type Decision struct {
	DecisionID string
	SignalID   string
	StrategyID string
	UserID     string
	Stage      string
	Passed     bool
	Level      string // worst risk level, empty when clean
	Code       string
	Reason     string
	CreatedAt  time.Time
}
