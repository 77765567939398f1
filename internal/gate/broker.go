package gate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

// ErrUnknownAction is returned when approving or declining a fingerprint
// with no waiting dispatch.
var ErrUnknownAction = errors.New("no pending approval for action")

// Verdict is the outcome of an approval wait.
type Verdict int

const (
	Approved Verdict = iota
	Declined
	TimedOut
	Cancelled
)

func (v Verdict) String() string {
	switch v {
	case Approved:
		return "approved"
	case Declined:
		return "declined"
	case TimedOut:
		return "timed_out"
	default:
		return "cancelled"
	}
}

// PendingApproval is one action blocked on an operator decision.
type PendingApproval struct {
	Action      domain.PendingAction
	SubmittedAt time.Time
}

type waiter struct {
	action      domain.PendingAction
	submittedAt time.Time
	decision    chan Verdict
}

// Broker parks dispatches that require approval and routes operator
// decisions back to them. Waiters are keyed by action fingerprint. The
// broker holds no durable state: a restart abandons the waits, the
// reservation sweep releases their fingerprints, and the next scan
// re-offers the actions.
type Broker struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	clock   func() time.Time
}

func NewBroker() *Broker {
	return &Broker{
		waiters: make(map[string]*waiter),
		clock:   time.Now,
	}
}

// Await blocks until the operator decides, the timeout elapses, or ctx is
// cancelled. Timeout is reported as TimedOut; callers treat it as a
// decline. The waiter is always deregistered before Await returns.
func (b *Broker) Await(ctx context.Context, action domain.PendingAction, timeout time.Duration) Verdict {
	w := &waiter{
		action:      action,
		submittedAt: b.clock().UTC(),
		decision:    make(chan Verdict, 1),
	}

	b.mu.Lock()
	b.waiters[action.Fingerprint] = w
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.waiters, action.Fingerprint)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-w.decision:
		return v
	case <-timer.C:
		return TimedOut
	case <-ctx.Done():
		return Cancelled
	}
}

// Approve releases the waiter for fingerprint with an approved verdict.
func (b *Broker) Approve(fingerprint string) error {
	return b.decide(fingerprint, Approved)
}

// Decline releases the waiter for fingerprint with a declined verdict.
func (b *Broker) Decline(fingerprint string) error {
	return b.decide(fingerprint, Declined)
}

func (b *Broker) decide(fingerprint string, v Verdict) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.waiters[fingerprint]
	if !ok {
		return ErrUnknownAction
	}
	// Buffered channel: the first decision wins, later ones hit
	// ErrUnknownAction after the waiter deregisters.
	select {
	case w.decision <- v:
	default:
	}
	delete(b.waiters, fingerprint)
	return nil
}

// Pending lists actions currently blocked on approval, oldest first.
func (b *Broker) Pending() []PendingApproval {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingApproval, 0, len(b.waiters))
	for _, w := range b.waiters {
		out = append(out, PendingApproval{Action: w.action, SubmittedAt: w.submittedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}
