// Package dispatcher executes planned actions with at-most-once semantics.
//
// The sequence per action: reserve the fingerprint, consult the human gate,
// invoke the external channel, then commit or release. A failed dispatch is
// never silent: it leaves a FAILED interaction and a released fingerprint,
// so the next scan re-offers the same epoch.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/gate"
	"github.com/jpelletierorg/emplaiyed/internal/ledger"
)

// DeclinePolicy controls what happens to the reservation when an operator
// declines (or times out on) an action.
type DeclinePolicy string

const (
	// DeclineRelease returns the fingerprint to the pool; a future scan
	// re-offers the same epoch.
	DeclineRelease DeclinePolicy = "release"
	// DeclineSkip commits the fingerprint so the epoch is never offered
	// again.
	DeclineSkip DeclinePolicy = "skip"
)

type Store interface {
	AppendInteraction(ctx context.Context, interaction domain.Interaction) error
}

type Ledger interface {
	Reserve(ctx context.Context, fingerprint string) error
	Commit(ctx context.Context, fingerprint, outcome string) error
	Release(ctx context.Context, fingerprint string) error
}

// Funnel feeds dispatch outcomes back into the state machine.
type Funnel interface {
	Fire(ctx context.Context, appID uuid.UUID, event domain.Event) (domain.Application, error)
}

// Approvals blocks a dispatch until an operator decides. Implemented by
// gate.Broker; nil means held actions are released instead of awaited
// (one-shot CLI mode).
type Approvals interface {
	Await(ctx context.Context, action domain.PendingAction, timeout time.Duration) gate.Verdict
}

// Breaker short-circuits channels that keep failing.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// AnalyticsSink records dispatch outcomes for funnel analytics.
// Implementations handle their own errors; analytics never affects
// dispatch correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, kind, outcome string)
}

// MetricsSink records dispatcher metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	DispatchOutcome(kind, outcome string)
	ApprovalDecision(decision string)
	ActionsInFlightIncr()
	ActionsInFlightDecr()
	ChannelLatencyObserve(latencySeconds float64)
}

// Endpoint is one external channel collaborator.
type Endpoint struct {
	Name string // interaction channel label: outreach, prep, notify
	URL  string
}

type Config struct {
	ApprovalTimeout time.Duration
	ChannelTimeout  time.Duration
	DeclinePolicy   DeclinePolicy
	Gate            gate.Policy
	// Endpoints maps each channel-backed action kind to its collaborator.
	// Ghost transitions have no endpoint; they are pure state events.
	Endpoints map[domain.ActionKind]Endpoint
	Secret    string
}

type Dispatcher struct {
	config    Config
	store     Store
	ledger    Ledger
	funnel    Funnel
	sender    ChannelSender
	approvals Approvals     // optional, nil = release held actions
	breaker   Breaker       // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled

	drainTimeout time.Duration
}

func New(config Config, store Store, led Ledger, funnel Funnel, sender ChannelSender) *Dispatcher {
	if config.DeclinePolicy == "" {
		config.DeclinePolicy = DeclineRelease
	}
	return &Dispatcher{
		config:       config,
		store:        store,
		ledger:       led,
		funnel:       funnel,
		sender:       sender,
		drainTimeout: DrainTimeout,
	}
}

// WithDrainTimeout overrides the shutdown drain window.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// WithApprovals attaches an approval broker to the dispatcher.
func (d *Dispatcher) WithApprovals(a Approvals) *Dispatcher {
	d.approvals = a
	return d
}

// WithBreaker attaches a circuit breaker to the dispatcher.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(m MetricsSink) *Dispatcher {
	d.metrics = m
	return d
}

// WithAnalytics attaches an analytics sink to the dispatcher.
func (d *Dispatcher) WithAnalytics(a AnalyticsSink) *Dispatcher {
	d.analytics = a
	return d
}

func (d *Dispatcher) recordAnalytics(ctx context.Context, action domain.PendingAction, outcome string) {
	if d.metrics != nil {
		d.metrics.DispatchOutcome(string(action.Kind), outcome)
	}
	if d.analytics != nil {
		d.analytics.Record(ctx, string(action.Kind), outcome)
	}
}

// Run processes actions from the channel until ctx is cancelled, then
// drains remaining buffered actions. Actions are independent units of work:
// one application's failure never blocks the rest of the queue.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.PendingAction) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case action := <-ch:
			if err := d.Dispatch(ctx, action); err != nil {
				log.Printf("dispatcher: %s for %s: %v", action.Kind, action.ApplicationID, err)
			}
		}
	}
}

// DrainTimeout is the default maximum time to wait for buffered actions
// during shutdown.
const DrainTimeout = 30 * time.Second

func (d *Dispatcher) drain(ch <-chan domain.PendingAction) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d actions", count)
			}
			return
		case action, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d actions", count)
				return
			}
			if err := d.Dispatch(drainCtx, action); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d actions", count)
			}
			return
		}
	}
}

// Dispatch executes one action end to end. A nil return covers the expected
// non-error outcomes too: lost reservation race, declined approval.
func (d *Dispatcher) Dispatch(ctx context.Context, action domain.PendingAction) error {
	if d.metrics != nil {
		d.metrics.ActionsInFlightIncr()
		defer d.metrics.ActionsInFlightDecr()
	}

	if err := d.ledger.Reserve(ctx, action.Fingerprint); err != nil {
		if errors.Is(err, ledger.ErrAlreadyReserved) {
			// Expected race outcome: another scheduler run or a manual
			// command got here first.
			return nil
		}
		return fmt.Errorf("reserve: %w", err)
	}

	if gate.Decide(action.Kind, d.config.Gate) == gate.RequireApproval {
		proceed, err := d.awaitApproval(ctx, action)
		if err != nil || !proceed {
			return err
		}
	}

	if action.Kind == domain.ActionGhostTransition {
		return d.applyGhost(ctx, action)
	}

	return d.invokeChannel(ctx, action)
}

// awaitApproval blocks on the broker. The bool reports whether dispatch
// should proceed.
func (d *Dispatcher) awaitApproval(ctx context.Context, action domain.PendingAction) (bool, error) {
	if d.approvals == nil {
		// One-shot mode has no operator to wait for. Release so the
		// serving engine can pick the action up later.
		log.Printf("dispatcher: %s for %s requires approval, releasing", action.Kind, action.ApplicationID)
		if err := d.ledger.Release(ctx, action.Fingerprint); err != nil {
			return false, fmt.Errorf("release held action: %w", err)
		}
		return false, nil
	}

	verdict := d.approvals.Await(ctx, action, d.config.ApprovalTimeout)
	if d.metrics != nil {
		d.metrics.ApprovalDecision(verdict.String())
	}
	if verdict == gate.Approved {
		return true, nil
	}

	log.Printf("dispatcher: %s for %s %s", action.Kind, action.ApplicationID, verdict)

	// Timeout is treated as a decline. Cancellation always releases so
	// the action survives a shutdown.
	if verdict != gate.Cancelled && d.config.DeclinePolicy == DeclineSkip {
		if err := d.ledger.Commit(ctx, action.Fingerprint, "skipped"); err != nil {
			return false, fmt.Errorf("commit declined action: %w", err)
		}
	} else {
		if err := d.ledger.Release(ctx, action.Fingerprint); err != nil {
			return false, fmt.Errorf("release declined action: %w", err)
		}
	}

	d.recordOutcome(ctx, action, "", domain.OutcomeSkipped, verdict.String())
	return false, nil
}

// applyGhost fires the ghost state event. No channel is involved.
func (d *Dispatcher) applyGhost(ctx context.Context, action domain.PendingAction) error {
	if _, err := d.funnel.Fire(ctx, action.ApplicationID, domain.EventGhosted); err != nil {
		// The stage may have moved since the scan (a reply arrived).
		// Release; the next scan recomputes whether ghosting still applies.
		if relErr := d.ledger.Release(ctx, action.Fingerprint); relErr != nil {
			log.Printf("dispatcher: release after failed ghost: %v", relErr)
		}
		d.recordAnalytics(ctx, action, "failed")
		return fmt.Errorf("ghost transition: %w", err)
	}

	if err := d.ledger.Commit(ctx, action.Fingerprint, "applied"); err != nil {
		return fmt.Errorf("commit ghost: %w", err)
	}
	d.recordAnalytics(ctx, action, "applied")
	log.Printf("dispatcher: ghosted %s", action.ApplicationID)
	return nil
}

func (d *Dispatcher) invokeChannel(ctx context.Context, action domain.PendingAction) error {
	endpoint, ok := d.config.Endpoints[action.Kind]
	if !ok || endpoint.URL == "" {
		if err := d.ledger.Release(ctx, action.Fingerprint); err != nil {
			log.Printf("dispatcher: release unroutable action: %v", err)
		}
		return fmt.Errorf("no endpoint configured for %s", action.Kind)
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(endpoint.URL); err != nil {
			d.fail(ctx, action, endpoint, err)
			return fmt.Errorf("channel %s: %w", endpoint.Name, err)
		}
	}

	result := d.sender.Send(ctx, ChannelRequest{
		URL:     endpoint.URL,
		Secret:  d.config.Secret,
		Timeout: d.config.ChannelTimeout,
		Payload: ChannelPayload{
			ApplicationID: action.ApplicationID.String(),
			Kind:          string(action.Kind),
			Epoch:         action.Epoch,
			DueAt:         action.DueAt.UTC().Format(time.RFC3339),
		},
	})
	if d.metrics != nil {
		d.metrics.ChannelLatencyObserve(result.Duration.Seconds())
	}

	if !result.IsSuccess() {
		if d.breaker != nil {
			d.breaker.RecordFailure(endpoint.URL)
		}
		err := result.Error
		if err == nil {
			err = fmt.Errorf("status %d", result.StatusCode)
		}
		d.fail(ctx, action, endpoint, err)
		return fmt.Errorf("channel %s: %w", endpoint.Name, err)
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(endpoint.URL)
	}

	if err := d.ledger.Commit(ctx, action.Fingerprint, "sent"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d.recordOutcome(ctx, action, endpoint.Name, domain.OutcomeSent, "dispatched")
	d.recordAnalytics(ctx, action, "sent")

	if event, ok := stateEventFor(action.Kind); ok {
		if _, err := d.funnel.Fire(ctx, action.ApplicationID, event); err != nil {
			// The send already happened; surface the inconsistency
			// rather than unwinding a committed dispatch.
			return fmt.Errorf("feed %s after send: %w", event, err)
		}
	}

	log.Printf("dispatcher: %s for %s dispatched via %s", action.Kind, action.ApplicationID, endpoint.Name)
	return nil
}

// fail releases the fingerprint and appends a FAILED interaction so the
// failure stays visible and the next scan re-offers the epoch.
func (d *Dispatcher) fail(ctx context.Context, action domain.PendingAction, endpoint Endpoint, cause error) {
	if err := d.ledger.Release(ctx, action.Fingerprint); err != nil {
		log.Printf("dispatcher: release after failure: %v", err)
	}
	d.recordOutcome(ctx, action, endpoint.Name, domain.OutcomeFailed, cause.Error())
	d.recordAnalytics(ctx, action, "failed")
}

func (d *Dispatcher) recordOutcome(ctx context.Context, action domain.PendingAction, channel string, outcome domain.InteractionOutcome, summary string) {
	interaction := domain.Interaction{
		ID:            uuid.New(),
		ApplicationID: action.ApplicationID,
		Kind:          interactionKindFor(action.Kind),
		Channel:       channel,
		Summary:       fmt.Sprintf("%s epoch=%s: %s", action.Kind, action.Epoch, summary),
		Outcome:       outcome,
		CreatedAt:     time.Now().UTC(),
	}
	if err := d.store.AppendInteraction(ctx, interaction); err != nil {
		// The interaction log is the audit trail, not the correctness
		// mechanism; losing one entry is logged, not fatal.
		log.Printf("dispatcher: append interaction: %v", err)
	}
}

// stateEventFor maps a successful dispatch to the funnel event it implies.
// Prep and negotiation actions inform collaborators without moving the
// funnel.
func stateEventFor(kind domain.ActionKind) (domain.Event, bool) {
	switch kind {
	case domain.ActionFollowUp:
		return domain.EventFollowUpSent, true
	case domain.ActionGhostTransition:
		return domain.EventGhosted, true
	default:
		return "", false
	}
}

func interactionKindFor(kind domain.ActionKind) domain.InteractionKind {
	switch kind {
	case domain.ActionFollowUp:
		return domain.InteractionFollowUp
	case domain.ActionPrepDue:
		return domain.InteractionEventScheduled
	case domain.ActionNegotiationUrgent:
		return domain.InteractionNegotiation
	default:
		return domain.InteractionFollowUp
	}
}
