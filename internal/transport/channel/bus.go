// Package channel provides the in-memory action bus between the scheduler
// and the dispatcher.
package channel

import (
	"context"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

// MetricsSink records bus buffer metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*ActionBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(m MetricsSink) Option {
	return func(b *ActionBus) {
		b.metrics = m
	}
}

type ActionBus struct {
	ch      chan domain.PendingAction
	metrics MetricsSink // optional, nil = disabled
}

func NewActionBus(buffer int, opts ...Option) *ActionBus {
	b := &ActionBus{
		ch: make(chan domain.PendingAction, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

func (b *ActionBus) Emit(ctx context.Context, action domain.PendingAction) error {
	select {
	case b.ch <- action:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *ActionBus) Channel() <-chan domain.PendingAction {
	return b.ch
}
