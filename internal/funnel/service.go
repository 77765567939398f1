package funnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

// ErrStoreConflict is returned by Store implementations when an optimistic
// version check fails on an application update.
var ErrStoreConflict = errors.New("application version conflict")

type Store interface {
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	// UpdateApplication persists app, guarded by expectedVersion.
	// Implementations MUST return ErrStoreConflict when the stored
	// version differs, without applying the update.
	UpdateApplication(ctx context.Context, app domain.Application, expectedVersion int64) error
	// CloseSiblings moves every non-terminal application of the profile,
	// except keep, to REJECTED in one bulk update. Returns the number of
	// applications closed.
	CloseSiblings(ctx context.Context, profileID, keep uuid.UUID, now time.Time) (int64, error)
}

// Service applies funnel transitions against the entity store.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// Fire loads the application, applies event, and persists the result under
// an optimistic version check. A single StoreConflict is retried after a
// re-read; a second conflict is surfaced to the caller.
//
// When event is EventAccepted, every non-terminal sibling of the same
// profile is closed in the same logical batch.
func (s *Service) Fire(ctx context.Context, appID uuid.UUID, event domain.Event) (domain.Application, error) {
	updated, err := s.fireOnce(ctx, appID, event)
	if errors.Is(err, ErrStoreConflict) {
		log.Printf("funnel: version conflict on %s, retrying %s once", appID, event)
		updated, err = s.fireOnce(ctx, appID, event)
	}
	if err != nil {
		return domain.Application{}, err
	}

	if event == domain.EventAccepted {
		closed, err := s.store.CloseSiblings(ctx, updated.ProfileID, updated.ID, s.clock().UTC())
		if err != nil {
			return updated, fmt.Errorf("close siblings: %w", err)
		}
		if closed > 0 {
			log.Printf("funnel: accepted %s, closed %d sibling applications", updated.ID, closed)
		}
	}

	return updated, nil
}

func (s *Service) fireOnce(ctx context.Context, appID uuid.UUID, event domain.Event) (domain.Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return domain.Application{}, fmt.Errorf("get application: %w", err)
	}

	updated, err := Apply(app, event, s.clock().UTC())
	if err != nil {
		return domain.Application{}, err
	}
	updated.Version = app.Version + 1

	if err := s.store.UpdateApplication(ctx, updated, app.Version); err != nil {
		return domain.Application{}, err
	}

	log.Printf("funnel: %s %s -> %s (%s)", appID, app.Stage, updated.Stage, event)
	return updated, nil
}
