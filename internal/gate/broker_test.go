package gate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

func pendingAction(fingerprint string) domain.PendingAction {
	return domain.PendingAction{
		ApplicationID: uuid.New(),
		Kind:          domain.ActionFollowUp,
		Epoch:         "1",
		Fingerprint:   fingerprint,
	}
}

func TestBroker_ApproveReleasesWaiter(t *testing.T) {
	broker := NewBroker()
	action := pendingAction("fp-approve")

	done := make(chan Verdict, 1)
	go func() {
		done <- broker.Await(context.Background(), action, time.Minute)
	}()

	waitForPending(t, broker, 1)

	if err := broker.Approve("fp-approve"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if v := <-done; v != Approved {
		t.Errorf("verdict = %s, want approved", v)
	}
	if pending := broker.Pending(); len(pending) != 0 {
		t.Errorf("waiter not deregistered: %d pending", len(pending))
	}
}

func TestBroker_DeclineReleasesWaiter(t *testing.T) {
	broker := NewBroker()
	action := pendingAction("fp-decline")

	done := make(chan Verdict, 1)
	go func() {
		done <- broker.Await(context.Background(), action, time.Minute)
	}()

	waitForPending(t, broker, 1)

	if err := broker.Decline("fp-decline"); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if v := <-done; v != Declined {
		t.Errorf("verdict = %s, want declined", v)
	}
}

func TestBroker_TimeoutExpires(t *testing.T) {
	broker := NewBroker()
	action := pendingAction("fp-timeout")

	v := broker.Await(context.Background(), action, 20*time.Millisecond)
	if v != TimedOut {
		t.Errorf("verdict = %s, want timed_out", v)
	}
	if pending := broker.Pending(); len(pending) != 0 {
		t.Errorf("waiter not deregistered after timeout: %d pending", len(pending))
	}
}

func TestBroker_ContextCancel(t *testing.T) {
	broker := NewBroker()
	action := pendingAction("fp-cancel")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Verdict, 1)
	go func() {
		done <- broker.Await(ctx, action, time.Minute)
	}()

	waitForPending(t, broker, 1)
	cancel()

	if v := <-done; v != Cancelled {
		t.Errorf("verdict = %s, want cancelled", v)
	}
}

func TestBroker_UnknownFingerprint(t *testing.T) {
	broker := NewBroker()

	if err := broker.Approve("nope"); err != ErrUnknownAction {
		t.Errorf("Approve(unknown) = %v, want ErrUnknownAction", err)
	}
	if err := broker.Decline("nope"); err != ErrUnknownAction {
		t.Errorf("Decline(unknown) = %v, want ErrUnknownAction", err)
	}
}

func TestBroker_SecondDecisionFails(t *testing.T) {
	broker := NewBroker()
	action := pendingAction("fp-once")

	done := make(chan Verdict, 1)
	go func() {
		done <- broker.Await(context.Background(), action, time.Minute)
	}()

	waitForPending(t, broker, 1)

	if err := broker.Approve("fp-once"); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if err := broker.Decline("fp-once"); err != ErrUnknownAction {
		t.Errorf("second decision = %v, want ErrUnknownAction", err)
	}
	if v := <-done; v != Approved {
		t.Errorf("verdict = %s, want approved", v)
	}
}

func TestBroker_PendingSortedOldestFirst(t *testing.T) {
	broker := NewBroker()

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	times := []time.Time{now.Add(2 * time.Minute), now, now.Add(time.Minute)}
	var calls int
	broker.clock = func() time.Time {
		t := times[calls]
		calls++
		return t
	}

	fingerprints := []string{"fp-c", "fp-a", "fp-b"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, fp := range fingerprints {
		fp := fp
		action := pendingAction(fp)
		started := make(chan struct{})
		go func() {
			close(started)
			broker.Await(ctx, action, time.Minute)
		}()
		<-started
		waitForFingerprint(t, broker, fp)
	}

	pending := broker.Pending()
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	want := []string{"fp-a", "fp-b", "fp-c"}
	for i, fp := range want {
		if pending[i].Action.Fingerprint != fp {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].Action.Fingerprint, fp)
		}
	}
}

func waitForPending(t *testing.T, broker *Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(broker.Pending()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending approvals", n)
}

func waitForFingerprint(t *testing.T, broker *Broker, fingerprint string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, p := range broker.Pending() {
			if p.Action.Fingerprint == fingerprint {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to register", fingerprint)
}
