package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ScanStarted()                                                        {}
func (n *NoopSink) ScanCompleted(duration time.Duration, actionsPlanned int, err error) {}
func (n *NoopSink) DispatchOutcome(kind, outcome string)                                {}
func (n *NoopSink) ApprovalDecision(decision string)                                    {}
func (n *NoopSink) ActionsInFlightIncr()                                                {}
func (n *NoopSink) ActionsInFlightDecr()                                                {}
func (n *NoopSink) ChannelLatencyObserve(latencySeconds float64)                        {}
func (n *NoopSink) ReservationsSwept(count int)                                         {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                      {}
func (n *NoopSink) EmitError()                                                          {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                   {}
func (n *NoopSink) LeaderAcquired()                                                     {}
func (n *NoopSink) LeaderLost(reason string)                                            {}
