package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

type mockMetrics struct {
	mu         sync.Mutex
	sizes      []int
	capacity   int
	emitErrors int
}

func (m *mockMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *mockMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func testAction(fingerprint string) domain.PendingAction {
	return domain.PendingAction{
		ApplicationID: uuid.New(),
		Kind:          domain.ActionFollowUp,
		Epoch:         "1",
		Fingerprint:   fingerprint,
	}
}

func TestActionBus_EmitAndReceive(t *testing.T) {
	bus := NewActionBus(4)

	if err := bus.Emit(context.Background(), testAction("fp-1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := bus.Emit(context.Background(), testAction("fp-2")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got := <-bus.Channel()
	if got.Fingerprint != "fp-1" {
		t.Errorf("first = %s, want fp-1", got.Fingerprint)
	}
	got = <-bus.Channel()
	if got.Fingerprint != "fp-2" {
		t.Errorf("second = %s, want fp-2", got.Fingerprint)
	}
}

func TestActionBus_EmitBlocksWhenFullUntilCancel(t *testing.T) {
	bus := NewActionBus(1)

	if err := bus.Emit(context.Background(), testAction("fp-1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := bus.Emit(ctx, testAction("fp-2"))
	if err == nil {
		t.Fatal("expected error emitting into a full buffer with expired context")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestActionBus_MetricsRecorded(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewActionBus(8, WithMetrics(metrics))

	if metrics.capacity != 8 {
		t.Errorf("capacity = %d, want 8", metrics.capacity)
	}

	bus.Emit(context.Background(), testAction("fp-1"))
	bus.Emit(context.Background(), testAction("fp-2"))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.sizes) != 2 || metrics.sizes[1] != 2 {
		t.Errorf("sizes = %v, want [1 2]", metrics.sizes)
	}
}

func TestActionBus_EmitErrorCounted(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewActionBus(1, WithMetrics(metrics))
	bus.Emit(context.Background(), testAction("fp-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := bus.Emit(ctx, testAction("fp-2")); err == nil {
		t.Fatal("expected error")
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.emitErrors != 1 {
		t.Errorf("emit errors = %d, want 1", metrics.emitErrors)
	}
}
