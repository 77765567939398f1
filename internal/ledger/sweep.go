package ledger

import (
	"context"
	"log"
	"time"
)

// A reservation is abandoned when it was granted but never committed or
// released, e.g. the process crashed mid-dispatch. The sweeper periodically
// releases abandoned reservations so the next scan can retry them. This is
// the only retry path in the engine.

// SweepMetrics records sweeper metrics. Implementations must be
// non-blocking and fire-and-forget.
type SweepMetrics interface {
	ReservationsSwept(count int)
}

type SweepConfig struct {
	// Interval is how often the sweeper runs.
	Interval time.Duration

	// TTL is the age after which a granted reservation is considered
	// abandoned. Must exceed the approval timeout plus the channel
	// timeout, otherwise an in-flight dispatch can be retried early.
	TTL time.Duration

	// BatchSize is the maximum number of reservations released per cycle.
	BatchSize int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  5 * time.Minute,
		TTL:       time.Hour,
		BatchSize: 100,
	}
}

// Sweeper releases abandoned reservations.
type Sweeper struct {
	config  SweepConfig
	store   Store
	clock   func() time.Time
	metrics SweepMetrics // optional, nil = disabled
}

func NewSweeper(config SweepConfig, store Store) *Sweeper {
	return &Sweeper{config: config, store: store, clock: time.Now}
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(m SweepMetrics) *Sweeper {
	s.metrics = m
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("ledger: sweeper started (interval=%s, ttl=%s, batch=%d)",
		s.config.Interval, s.config.TTL, s.config.BatchSize)

	// Run immediately on startup, then on ticker
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("ledger: sweeper stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	olderThan := s.clock().UTC().Add(-s.config.TTL)

	released, err := s.store.ReleaseStaleReservations(ctx, olderThan, s.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		log.Printf("ledger: sweep failed: %v", err)
		return
	}

	if released == 0 {
		return
	}

	log.Printf("ledger: released %d abandoned reservations", released)
	if s.metrics != nil {
		s.metrics.ReservationsSwept(int(released))
	}
}
