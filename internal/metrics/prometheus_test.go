package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestScanCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ScanCompleted(250*time.Millisecond, 3, nil)
	sink.ScanCompleted(100*time.Millisecond, 0, nil)

	if got := getCounterValue(t, reg, "emplaiyed_scheduler_scans_total"); got != 2 {
		t.Errorf("scans_total = %v, want 2", got)
	}
	if got := getCounterValue(t, reg, "emplaiyed_scheduler_actions_planned_total"); got != 3 {
		t.Errorf("actions_planned_total = %v, want 3", got)
	}
	if got := getCounterValue(t, reg, "emplaiyed_scheduler_scan_errors_total"); got != 0 {
		t.Errorf("scan_errors_total = %v, want 0", got)
	}
}

func TestScanCompleted_Error(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ScanCompleted(50*time.Millisecond, 0, errors.New("store unavailable"))

	if got := getCounterValue(t, reg, "emplaiyed_scheduler_scan_errors_total"); got != 1 {
		t.Errorf("scan_errors_total = %v, want 1", got)
	}
	// Failed scans count toward totals but not toward planned actions.
	if got := getCounterValue(t, reg, "emplaiyed_scheduler_scans_total"); got != 1 {
		t.Errorf("scans_total = %v, want 1", got)
	}
	if got := getCounterValue(t, reg, "emplaiyed_scheduler_actions_planned_total"); got != 0 {
		t.Errorf("actions_planned_total = %v, want 0", got)
	}
}

func TestDispatchOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DispatchOutcome("FOLLOW_UP", OutcomeSent)
	sink.DispatchOutcome("FOLLOW_UP", OutcomeSent)
	sink.DispatchOutcome("GHOST_TRANSITION", OutcomeApplied)
	sink.DispatchOutcome("PREP_DUE", OutcomeFailed)

	if got := getCounterVecValue(t, reg, "emplaiyed_dispatcher_outcomes_total",
		map[string]string{"kind": "FOLLOW_UP", "outcome": "sent"}); got != 2 {
		t.Errorf("follow_up/sent = %v, want 2", got)
	}
	if got := getCounterVecValue(t, reg, "emplaiyed_dispatcher_outcomes_total",
		map[string]string{"kind": "GHOST_TRANSITION", "outcome": "applied"}); got != 1 {
		t.Errorf("ghost_transition/applied = %v, want 1", got)
	}
}

func TestApprovalDecision(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ApprovalDecision(DecisionApproved)
	sink.ApprovalDecision(DecisionDeclined)
	sink.ApprovalDecision(DecisionDeclined)

	if got := getCounterVecValue(t, reg, "emplaiyed_dispatcher_approval_decisions_total",
		map[string]string{"decision": "declined"}); got != 2 {
		t.Errorf("declined = %v, want 2", got)
	}
}

func TestActionsInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ActionsInFlightIncr()
	sink.ActionsInFlightIncr()
	sink.ActionsInFlightDecr()

	if got := getGaugeValue(t, reg, "emplaiyed_dispatcher_actions_in_flight"); got != 1 {
		t.Errorf("actions_in_flight = %v, want 1", got)
	}
}

func TestReservationsSwept(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ReservationsSwept(4)
	sink.ReservationsSwept(2)

	if got := getCounterValue(t, reg, "emplaiyed_ledger_reservations_swept_total"); got != 6 {
		t.Errorf("reservations_swept_total = %v, want 6", got)
	}
}

func TestBufferMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BufferCapacitySet(100)
	sink.BufferSizeUpdate(7)
	sink.EmitError()

	if got := getGaugeValue(t, reg, "emplaiyed_bus_buffer_capacity"); got != 100 {
		t.Errorf("buffer_capacity = %v, want 100", got)
	}
	if got := getGaugeValue(t, reg, "emplaiyed_bus_buffer_size"); got != 7 {
		t.Errorf("buffer_size = %v, want 7", got)
	}
	if got := getCounterValue(t, reg, "emplaiyed_bus_emit_errors_total"); got != 1 {
		t.Errorf("emit_errors_total = %v, want 1", got)
	}
}

func TestLeaderMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	if got := getGaugeValue(t, reg, "emplaiyed_leader_status"); got != 1 {
		t.Errorf("leader_status = %v, want 1", got)
	}

	sink.LeaderStatusChanged(false)
	sink.LeaderLost("connection lost")
	if got := getGaugeValue(t, reg, "emplaiyed_leader_status"); got != 0 {
		t.Errorf("leader_status = %v, want 0", got)
	}
	if got := getCounterVecValue(t, reg, "emplaiyed_leader_lost_total",
		map[string]string{"reason": "connection lost"}); got != 1 {
		t.Errorf("leader_lost_total = %v, want 1", got)
	}
}

func TestDuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	// Second sink on the same registry: every Register call fails, the
	// sink must still be usable.
	sink := NewPrometheusSink(reg)
	sink.ScanCompleted(time.Millisecond, 1, nil)
	sink.DispatchOutcome("FOLLOW_UP", OutcomeSent)
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
