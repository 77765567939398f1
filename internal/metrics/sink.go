package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	ScanStarted()
	ScanCompleted(duration time.Duration, actionsPlanned int, err error)

	// Dispatcher metrics
	DispatchOutcome(kind, outcome string)
	ApprovalDecision(decision string)
	ActionsInFlightIncr()
	ActionsInFlightDecr()
	ChannelLatencyObserve(latencySeconds float64)

	// Ledger metrics
	ReservationsSwept(count int)

	// ActionBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for DispatchOutcome.
const (
	OutcomeSent    = "sent"
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// Decision constants for ApprovalDecision.
const (
	DecisionApproved  = "approved"
	DecisionDeclined  = "declined"
	DecisionTimedOut  = "timed_out"
	DecisionCancelled = "cancelled"
)
