package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/testutil"
)

type sweepMetricsRecorder struct {
	mu    sync.Mutex
	swept int
}

func (m *sweepMetricsRecorder) ReservationsSwept(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept += count
}

func (m *sweepMetricsRecorder) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swept
}

func TestSweeper_ReleasesOnlyStaleGrants(t *testing.T) {
	store := newMockStore()
	ctx := testutil.TestContext(t)

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(base)

	led := New(store)
	led.clock = clock.Now

	stale := Fingerprint(uuid.New(), domain.ActionFollowUp, "1")
	if err := led.Reserve(ctx, stale); err != nil {
		t.Fatalf("reserve stale: %v", err)
	}

	committed := Fingerprint(uuid.New(), domain.ActionFollowUp, "2")
	if err := led.Reserve(ctx, committed); err != nil {
		t.Fatalf("reserve committed: %v", err)
	}
	if err := led.Commit(ctx, committed, "sent"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A fresh grant inside the TTL must survive the sweep.
	clock.Advance(50 * time.Minute)
	fresh := Fingerprint(uuid.New(), domain.ActionPrepDue, "x")
	if err := led.Reserve(ctx, fresh); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	clock.Advance(20 * time.Minute)

	metrics := &sweepMetricsRecorder{}
	sweeper := NewSweeper(DefaultSweepConfig(), store).WithMetrics(metrics)
	sweeper.clock = clock.Now
	sweeper.runCycle(ctx)

	if got := store.status(stale); got != "released" {
		t.Errorf("stale reservation status = %q, want released", got)
	}
	if got := store.status(fresh); got != "granted" {
		t.Errorf("fresh reservation status = %q, want granted", got)
	}
	if got := store.status(committed); got != "committed" {
		t.Errorf("committed reservation status = %q, want committed", got)
	}
	if metrics.total() != 1 {
		t.Errorf("swept = %d, want 1", metrics.total())
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store := newMockStore()
	sweeper := NewSweeper(SweepConfig{Interval: time.Millisecond, TTL: time.Hour, BatchSize: 10}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
