// Package ledger provides at-most-once dispatch bookkeeping.
//
// Every side-effecting action is identified by a deterministic fingerprint.
// Reserve is the single synchronization point of the whole engine: scans and
// on-demand commands may race freely because only one caller ever wins a
// fingerprint. Committed fingerprints are permanent; released ones become
// eligible again on the next scan.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

// ErrAlreadyReserved is the expected race outcome when another caller holds
// or has committed the fingerprint. Callers simply skip the action.
var ErrAlreadyReserved = errors.New("fingerprint already reserved")

type Store interface {
	// InsertReservation records fingerprint as granted. It MUST be atomic
	// with respect to concurrent callers and return ErrAlreadyReserved if
	// the fingerprint exists in granted or committed state. A previously
	// released fingerprint is re-granted.
	InsertReservation(ctx context.Context, fingerprint string, now time.Time) error
	// CommitReservation marks the fingerprint permanently done.
	CommitReservation(ctx context.Context, fingerprint, outcome string, now time.Time) error
	// ReleaseReservation returns a granted fingerprint to the pool.
	ReleaseReservation(ctx context.Context, fingerprint string) error
	// ReleaseStaleReservations releases granted reservations older than
	// olderThan, up to limit, and returns how many were released.
	ReleaseStaleReservations(ctx context.Context, olderThan time.Time, limit int) (int64, error)
}

// Fingerprint derives the stable identity of one action instance. The epoch
// (follow-up attempt number, interview round, offer deadline) makes repeated
// actions of the same kind distinct while keeping re-scans stable.
func Fingerprint(appID uuid.UUID, kind domain.ActionKind, epoch string) string {
	data := fmt.Sprintf("%s:%s:%s", appID.String(), kind, epoch)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

type Ledger struct {
	store Store
	clock func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// Reserve claims the fingerprint. A nil return means this caller owns the
// dispatch; ErrAlreadyReserved means someone else does.
func (l *Ledger) Reserve(ctx context.Context, fingerprint string) error {
	return l.store.InsertReservation(ctx, fingerprint, l.clock().UTC())
}

// Commit finalizes a granted reservation. A committed fingerprint can never
// be reserved again.
func (l *Ledger) Commit(ctx context.Context, fingerprint, outcome string) error {
	return l.store.CommitReservation(ctx, fingerprint, outcome, l.clock().UTC())
}

// Release abandons a granted reservation so a later scan can retry the same
// epoch.
func (l *Ledger) Release(ctx context.Context, fingerprint string) error {
	return l.store.ReleaseReservation(ctx, fingerprint)
}
