package funnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/testutil"
)

// mockStore holds applications in memory with version-checked updates.
type mockStore struct {
	mu   sync.Mutex
	apps map[uuid.UUID]domain.Application

	// conflictsLeft forces that many ErrStoreConflict results before
	// updates succeed.
	conflictsLeft int

	closeCalls int
	closedFor  uuid.UUID
}

func newMockStore() *mockStore {
	return &mockStore{apps: make(map[uuid.UUID]domain.Application)}
}

func (s *mockStore) put(app domain.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = app
}

func (s *mockStore) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return domain.Application{}, errors.New("not found")
	}
	return app, nil
}

func (s *mockStore) UpdateApplication(ctx context.Context, app domain.Application, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return ErrStoreConflict
	}

	current, ok := s.apps[app.ID]
	if !ok {
		return errors.New("not found")
	}
	if current.Version != expectedVersion {
		return ErrStoreConflict
	}
	s.apps[app.ID] = app
	return nil
}

func (s *mockStore) CloseSiblings(ctx context.Context, profileID, keep uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCalls++
	s.closedFor = keep

	var closed int64
	for id, app := range s.apps {
		if app.ProfileID != profileID || id == keep || app.Stage.Terminal() {
			continue
		}
		app.Stage = domain.StageRejected
		app.Version++
		app.LastTransition = now
		s.apps[id] = app
		closed++
	}
	return closed, nil
}

func TestFire_AppliesAndBumpsVersion(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	app := domain.Application{
		ID:        uuid.New(),
		ProfileID: uuid.New(),
		Stage:     domain.StageDiscovered,
		Version:   1,
	}
	store.put(app)

	updated, err := svc.Fire(testutil.TestContext(t), app.ID, domain.EventScored)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Stage != domain.StageScored {
		t.Errorf("stage = %s, want %s", updated.Stage, domain.StageScored)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	stored, _ := store.GetApplication(context.Background(), app.ID)
	if stored.Stage != domain.StageScored {
		t.Errorf("stored stage = %s, want %s", stored.Stage, domain.StageScored)
	}
}

func TestFire_RetriesOnceOnConflict(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	app := domain.Application{ID: uuid.New(), Stage: domain.StageDiscovered, Version: 1}
	store.put(app)
	store.conflictsLeft = 1

	updated, err := svc.Fire(testutil.TestContext(t), app.ID, domain.EventScored)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Stage != domain.StageScored {
		t.Errorf("stage = %s, want %s", updated.Stage, domain.StageScored)
	}
}

func TestFire_SecondConflictSurfaces(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	app := domain.Application{ID: uuid.New(), Stage: domain.StageDiscovered, Version: 1}
	store.put(app)
	store.conflictsLeft = 2

	_, err := svc.Fire(testutil.TestContext(t), app.ID, domain.EventScored)
	if !errors.Is(err, ErrStoreConflict) {
		t.Fatalf("want ErrStoreConflict, got %v", err)
	}
}

func TestFire_InvalidTransitionLeavesStoreUntouched(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	app := domain.Application{ID: uuid.New(), Stage: domain.StageDiscovered, Version: 1}
	store.put(app)

	_, err := svc.Fire(testutil.TestContext(t), app.ID, domain.EventAccepted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}

	stored, _ := store.GetApplication(context.Background(), app.ID)
	if stored.Stage != domain.StageDiscovered || stored.Version != 1 {
		t.Error("store mutated by invalid transition")
	}
}

func TestFire_AcceptedClosesSiblings(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)
	clock := testutil.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc.clock = clock.Now

	profileID := uuid.New()
	winner := domain.Application{ID: uuid.New(), ProfileID: profileID, Stage: domain.StageOfferReceived, Version: 3}
	active := domain.Application{ID: uuid.New(), ProfileID: profileID, Stage: domain.StageOutreachSent, Version: 1}
	ghosted := domain.Application{ID: uuid.New(), ProfileID: profileID, Stage: domain.StageGhosted, Version: 2}
	store.put(winner)
	store.put(active)
	store.put(ghosted)

	updated, err := svc.Fire(testutil.TestContext(t), winner.ID, domain.EventAccepted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Stage != domain.StageAccepted {
		t.Errorf("stage = %s, want %s", updated.Stage, domain.StageAccepted)
	}
	if store.closeCalls != 1 || store.closedFor != winner.ID {
		t.Errorf("CloseSiblings calls = %d (for %s), want 1 for %s", store.closeCalls, store.closedFor, winner.ID)
	}

	sibling, _ := store.GetApplication(context.Background(), active.ID)
	if sibling.Stage != domain.StageRejected {
		t.Errorf("active sibling stage = %s, want %s", sibling.Stage, domain.StageRejected)
	}
	// Terminal siblings are untouched by the bulk close.
	g, _ := store.GetApplication(context.Background(), ghosted.ID)
	if g.Stage != domain.StageGhosted {
		t.Errorf("ghosted sibling stage = %s, want %s", g.Stage, domain.StageGhosted)
	}
}

func TestFire_NonAcceptedDoesNotCloseSiblings(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	app := domain.Application{ID: uuid.New(), ProfileID: uuid.New(), Stage: domain.StageDiscovered, Version: 1}
	store.put(app)

	if _, err := svc.Fire(testutil.TestContext(t), app.ID, domain.EventScored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.closeCalls != 0 {
		t.Errorf("CloseSiblings calls = %d, want 0", store.closeCalls)
	}
}
