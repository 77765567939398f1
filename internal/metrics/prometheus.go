package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	scansTotal          prometheus.Counter
	scanErrorsTotal     prometheus.Counter
	actionsPlannedTotal prometheus.Counter
	scanDuration        prometheus.Histogram

	// Dispatcher metrics
	dispatchOutcomesTotal  *prometheus.CounterVec
	approvalDecisionsTotal *prometheus.CounterVec
	actionsInFlight        prometheus.Gauge
	channelLatency         prometheus.Histogram

	// Ledger metrics
	reservationsSweptTotal prometheus.Counter

	// ActionBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEngineMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emplaiyed_scheduler_scans_total",
		Help: "Total number of scheduler scans completed.",
	})
	s.scanErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emplaiyed_scheduler_scan_errors_total",
		Help: "Total number of scheduler scan errors.",
	})
	s.actionsPlannedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emplaiyed_scheduler_actions_planned_total",
		Help: "Total number of pending actions planned across all scans.",
	})
	s.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emplaiyed_scheduler_scan_duration_seconds",
		Help:    "Duration of each scheduler scan in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.scansTotal, "emplaiyed_scheduler_scans_total")
	s.register(reg, s.scanErrorsTotal, "emplaiyed_scheduler_scan_errors_total")
	s.register(reg, s.actionsPlannedTotal, "emplaiyed_scheduler_actions_planned_total")
	s.register(reg, s.scanDuration, "emplaiyed_scheduler_scan_duration_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.dispatchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emplaiyed_dispatcher_outcomes_total",
		Help: "Total number of dispatch outcomes per action kind.",
	}, []string{"kind", "outcome"})

	s.approvalDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emplaiyed_dispatcher_approval_decisions_total",
		Help: "Total number of human gate decisions.",
	}, []string{"decision"})

	s.actionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emplaiyed_dispatcher_actions_in_flight",
		Help: "Number of actions currently being dispatched.",
	})

	s.channelLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emplaiyed_dispatcher_channel_latency_seconds",
		Help:    "External channel invocation latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.dispatchOutcomesTotal, "emplaiyed_dispatcher_outcomes_total")
	s.register(reg, s.approvalDecisionsTotal, "emplaiyed_dispatcher_approval_decisions_total")
	s.register(reg, s.actionsInFlight, "emplaiyed_dispatcher_actions_in_flight")
	s.register(reg, s.channelLatency, "emplaiyed_dispatcher_channel_latency_seconds")
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.reservationsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emplaiyed_ledger_reservations_swept_total",
		Help: "Total number of abandoned reservations released by the sweeper.",
	})

	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emplaiyed_bus_buffer_size",
		Help: "Current number of actions buffered on the bus.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emplaiyed_bus_buffer_capacity",
		Help: "Configured capacity of the action bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emplaiyed_bus_emit_errors_total",
		Help: "Total number of failed bus emits.",
	})

	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emplaiyed_leader_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emplaiyed_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emplaiyed_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.reservationsSweptTotal, "emplaiyed_ledger_reservations_swept_total")
	s.register(reg, s.bufferSize, "emplaiyed_bus_buffer_size")
	s.register(reg, s.bufferCapacity, "emplaiyed_bus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "emplaiyed_bus_emit_errors_total")
	s.register(reg, s.leaderStatus, "emplaiyed_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "emplaiyed_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "emplaiyed_leader_lost_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) ScanStarted() {}

func (s *PrometheusSink) ScanCompleted(duration time.Duration, actionsPlanned int, err error) {
	s.scansTotal.Inc()
	if err != nil {
		s.scanErrorsTotal.Inc()
		return
	}
	s.actionsPlannedTotal.Add(float64(actionsPlanned))
	s.scanDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchOutcome(kind, outcome string) {
	s.dispatchOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

func (s *PrometheusSink) ApprovalDecision(decision string) {
	s.approvalDecisionsTotal.WithLabelValues(decision).Inc()
}

func (s *PrometheusSink) ActionsInFlightIncr() {
	s.actionsInFlight.Inc()
}

func (s *PrometheusSink) ActionsInFlightDecr() {
	s.actionsInFlight.Dec()
}

func (s *PrometheusSink) ChannelLatencyObserve(latencySeconds float64) {
	s.channelLatency.Observe(latencySeconds)
}

func (s *PrometheusSink) ReservationsSwept(count int) {
	s.reservationsSweptTotal.Add(float64(count))
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
