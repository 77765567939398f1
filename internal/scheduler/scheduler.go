// Package scheduler decides which side-effecting action fires next.
//
// A scan is read-only over the entity store: it evaluates policy rules per
// active application and produces a ranked, bounded plan of pending actions.
// Nothing is mutated until the dispatcher reserves a fingerprint, so a scan
// in progress is safely abandonable at any point.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/ledger"
)

type Store interface {
	// GetActiveApplications returns applications in non-terminal stages,
	// paginated. Terminal records are excluded by the stage index, not a
	// full scan.
	GetActiveApplications(ctx context.Context, limit, offset int) ([]domain.Application, error)
	// GetUnpreppedEvents returns scheduled events of active applications
	// in [from, until) that have no prep artifact recorded.
	GetUnpreppedEvents(ctx context.Context, from, until time.Time) ([]domain.ScheduledEvent, error)
	// GetExpiringOffers returns PENDING offers of active applications
	// with a deadline before cutoff.
	GetExpiringOffers(ctx context.Context, cutoff time.Time) ([]domain.Offer, error)
}

// ActionEmitter hands pending actions to the dispatch side.
type ActionEmitter interface {
	Emit(ctx context.Context, action domain.PendingAction) error
}

// Schedule yields the next scan time. Satisfied by internal/cron.Schedule.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records scheduler metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	ScanStarted()
	ScanCompleted(duration time.Duration, actionsPlanned int, err error)
}

// Policy holds the numeric scheduling knobs. All values come from
// configuration loaded once at startup; the scheduler itself is stateless
// between scans.
type Policy struct {
	// Cooldown is the silence after the last transition before a
	// follow-up is due.
	Cooldown time.Duration

	// FollowUpBudget caps follow-up attempts before ghosting.
	FollowUpBudget int

	// PrepLeadWindow is how far ahead of a scheduled event the prep
	// action fires.
	PrepLeadWindow time.Duration

	// OfferDeadlineWindow is how far ahead of an offer deadline the
	// negotiation alert fires.
	OfferDeadlineWindow time.Duration

	// MaxActionsPerScan bounds the plan size.
	MaxActionsPerScan int
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:            5 * 24 * time.Hour,
		FollowUpBudget:      2,
		PrepLeadWindow:      24 * time.Hour,
		OfferDeadlineWindow: 72 * time.Hour,
		MaxActionsPerScan:   50,
	}
}

// Ranking classes, lower dispatches first: offer deadlines, scheduled
// events, follow-ups, then ghost transitions. Ties break by earliest due
// timestamp.
const (
	priorityOffer    = 0
	priorityEvent    = 1
	priorityFollowUp = 2
	priorityGhost    = 3
)

const pageSize = 200

type Scheduler struct {
	policy  Policy
	store   Store
	emitter ActionEmitter
	clock   func() time.Time
	metrics MetricsSink // optional, nil = disabled
}

func New(policy Policy, store Store, emitter ActionEmitter) *Scheduler {
	return &Scheduler{
		policy:  policy,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(m MetricsSink) *Scheduler {
	s.metrics = m
	return s
}

// Run fires scans on the given schedule until ctx is cancelled, emitting
// each planned action to the emitter in ranked order.
func (s *Scheduler) Run(ctx context.Context, schedule Schedule) error {
	log.Println("scheduler: started")

	for {
		now := s.clock().UTC()
		next := schedule.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := s.ScanAndEmit(ctx); err != nil {
			log.Printf("scheduler: scan error: %v", err)
		}
	}
}

// ScanAndEmit performs one scan and emits the plan. Returns the number of
// actions emitted.
func (s *Scheduler) ScanAndEmit(ctx context.Context) (int, error) {
	actions, err := s.Scan(ctx, s.clock().UTC())
	if err != nil {
		return 0, err
	}

	emitted := 0
	for _, action := range actions {
		if err := s.emitter.Emit(ctx, action); err != nil {
			// Buffer full or shutdown. Unemitted actions are only a
			// plan; the next scan recomputes them.
			log.Printf("scheduler: emit %s for %s failed: %v", action.Kind, action.ApplicationID, err)
			continue
		}
		emitted++
	}
	return emitted, nil
}

// Scan evaluates the policy rules against every active application as of
// now and returns the ranked, bounded plan. Scan performs no mutation:
// running it twice with nothing committed in between yields an identical
// plan.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) ([]domain.PendingAction, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.ScanStarted()
	}

	actions, err := s.scan(ctx, now)

	if s.metrics != nil {
		s.metrics.ScanCompleted(time.Since(start), len(actions), err)
	}
	return actions, err
}

func (s *Scheduler) scan(ctx context.Context, now time.Time) ([]domain.PendingAction, error) {
	var actions []domain.PendingAction

	for offset := 0; ; offset += pageSize {
		apps, err := s.store.GetActiveApplications(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("get active applications: %w", err)
		}
		for _, app := range apps {
			if a, ok := s.followUpDue(app, now); ok {
				actions = append(actions, a)
			}
			if a, ok := s.ghostDue(app, now); ok {
				actions = append(actions, a)
			}
		}
		if len(apps) < pageSize {
			break
		}
	}

	events, err := s.store.GetUnpreppedEvents(ctx, now, now.Add(s.policy.PrepLeadWindow))
	if err != nil {
		return nil, fmt.Errorf("get unprepped events: %w", err)
	}
	for _, ev := range events {
		actions = append(actions, domain.PendingAction{
			ApplicationID: ev.ApplicationID,
			Kind:          domain.ActionPrepDue,
			Epoch:         ev.ID.String(),
			Fingerprint:   ledger.Fingerprint(ev.ApplicationID, domain.ActionPrepDue, ev.ID.String()),
			DueAt:         ev.ScheduledAt.Add(-s.policy.PrepLeadWindow),
			Priority:      priorityEvent,
		})
	}

	offers, err := s.store.GetExpiringOffers(ctx, now.Add(s.policy.OfferDeadlineWindow))
	if err != nil {
		return nil, fmt.Errorf("get expiring offers: %w", err)
	}
	for _, offer := range offers {
		epoch := offer.Deadline.UTC().Format("2006-01-02")
		actions = append(actions, domain.PendingAction{
			ApplicationID: offer.ApplicationID,
			Kind:          domain.ActionNegotiationUrgent,
			Epoch:         epoch,
			Fingerprint:   ledger.Fingerprint(offer.ApplicationID, domain.ActionNegotiationUrgent, epoch),
			DueAt:         offer.Deadline.Add(-s.policy.OfferDeadlineWindow),
			Priority:      priorityOffer,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority < actions[j].Priority
		}
		return actions[i].DueAt.Before(actions[j].DueAt)
	})

	if max := s.policy.MaxActionsPerScan; max > 0 && len(actions) > max {
		actions = actions[:max]
	}
	return actions, nil
}

// followUpDue: stage is OUTREACH_SENT or FOLLOW_UP_1, the cooldown has
// elapsed since the last transition, and the budget is not exhausted. The
// epoch is the next attempt number, so a released fingerprint re-offers the
// same attempt and a committed one never reappears.
func (s *Scheduler) followUpDue(app domain.Application, now time.Time) (domain.PendingAction, bool) {
	if app.Stage != domain.StageOutreachSent && app.Stage != domain.StageFollowUp1 {
		return domain.PendingAction{}, false
	}
	if app.FollowUpsSent >= s.policy.FollowUpBudget {
		return domain.PendingAction{}, false
	}
	due := app.LastTransition.Add(s.policy.Cooldown)
	if now.Before(due) {
		return domain.PendingAction{}, false
	}

	epoch := fmt.Sprintf("%d", app.FollowUpsSent+1)
	return domain.PendingAction{
		ApplicationID: app.ID,
		Kind:          domain.ActionFollowUp,
		Epoch:         epoch,
		Fingerprint:   ledger.Fingerprint(app.ID, domain.ActionFollowUp, epoch),
		DueAt:         due,
		Priority:      priorityFollowUp,
	}, true
}

// ghostDue: budget exhausted and another cooldown elapsed with no response.
// The resulting action is a pure state event, always auto-dispatched.
func (s *Scheduler) ghostDue(app domain.Application, now time.Time) (domain.PendingAction, bool) {
	if app.Stage != domain.StageFollowUp1 && app.Stage != domain.StageFollowUp2 {
		return domain.PendingAction{}, false
	}
	if app.FollowUpsSent < s.policy.FollowUpBudget {
		return domain.PendingAction{}, false
	}
	due := app.LastTransition.Add(s.policy.Cooldown)
	if now.Before(due) {
		return domain.PendingAction{}, false
	}

	return domain.PendingAction{
		ApplicationID: app.ID,
		Kind:          domain.ActionGhostTransition,
		Epoch:         "ghost",
		Fingerprint:   ledger.Fingerprint(app.ID, domain.ActionGhostTransition, "ghost"),
		DueAt:         due,
		Priority:      priorityGhost,
	}, true
}
