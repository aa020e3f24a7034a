package analysis

import "time"

// OperationStatus is the lifecycle of one in-flight analysis call.
type OperationStatus string

const (
	StatusNotStarted OperationStatus = "not-started"
	StatusRunning    OperationStatus = "running"
	StatusSucceeded  OperationStatus = "succeeded"
	StatusFailed     OperationStatus = "failed"
	StatusTimedOut   OperationStatus = "timed-out"
)

// Terminal reports whether the status ends the operation.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// operation tracks a single analysis from start through polling to a terminal
// state. It is owned by the Analyze call that created it and never shared.
type operation struct {
	handle   string
	status   OperationStatus
	attempts int
	delay    time.Duration
}

// serviceStatus maps a wire status string onto the state machine. Unknown
// values map to failed: the protocol contract is assumed exhaustive, so
// anything else is treated as a hard failure rather than polled forever.
func serviceStatus(raw string) OperationStatus {
	switch raw {
	case "succeeded":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "running":
		return StatusRunning
	case "notStarted":
		return StatusNotStarted
	default:
		return StatusFailed
	}
}
