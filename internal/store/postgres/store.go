package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/api"
	"github.com/jpelletierorg/emplaiyed/internal/dispatcher"
	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/funnel"
	"github.com/jpelletierorg/emplaiyed/internal/ledger"
	"github.com/jpelletierorg/emplaiyed/internal/scheduler"
)

// Store implements the per-consumer store interfaces (funnel, scheduler,
// ledger, dispatcher, api) using PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ funnel.Store     = (*Store)(nil)
	_ scheduler.Store  = (*Store)(nil)
	_ ledger.Store     = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetApplication returns an application by its ID.
func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	var app domain.Application
	var score sql.NullInt64

	err := s.db.QueryRowContext(ctx, queryGetApplication, id).Scan(
		&app.ID,
		&app.ProfileID,
		&app.OpportunityID,
		&app.Stage,
		&score,
		&app.Channel,
		&app.FollowUpsSent,
		&app.InterviewRounds,
		&app.Version,
		&app.CreatedAt,
		&app.LastTransition,
	)
	if err != nil {
		return domain.Application{}, err
	}
	if score.Valid {
		v := int(score.Int64)
		app.Score = &v
	}
	return app, nil
}

// UpdateApplication persists app guarded by expectedVersion. Returns
// funnel.ErrStoreConflict when the stored version differs.
func (s *Store) UpdateApplication(ctx context.Context, app domain.Application, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, queryUpdateApplication,
		string(app.Stage),
		nullableInt(app.Score),
		app.Channel,
		app.FollowUpsSent,
		app.InterviewRounds,
		app.Version,
		app.LastTransition,
		app.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either: (a) application not found, or (b) version moved under us.
		// Distinguish by checking if the row exists.
		var currentVersion int64
		err := s.db.QueryRowContext(ctx, queryGetApplicationVersion, app.ID).Scan(&currentVersion)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return funnel.ErrStoreConflict
	}

	return nil
}

// CloseSiblings moves every non-terminal application of the profile, except
// keep, to REJECTED in one bulk update.
func (s *Store) CloseSiblings(ctx context.Context, profileID, keep uuid.UUID, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryCloseSiblings, now, profileID, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetActiveApplications returns applications in non-terminal stages, paginated.
func (s *Store) GetActiveApplications(ctx context.Context, limit, offset int) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx, queryGetActiveApplications, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanApplications(rows)
}

// ListApplications returns applications, optionally filtered by stage,
// newest first.
func (s *Store) ListApplications(ctx context.Context, stage string, limit, offset int) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx, queryListApplications, stage, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanApplications(rows)
}

// CountApplicationsByStage returns the number of applications per stage.
func (s *Store) CountApplicationsByStage(ctx context.Context) (map[domain.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, queryFunnelCounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[domain.Stage(stage)] = n
	}
	return counts, rows.Err()
}

// CreateApplication inserts a new application. Returns
// api.ErrDuplicateApplication if the profile already tracks the opportunity.
func (s *Store) CreateApplication(ctx context.Context, app domain.Application) error {
	_, err := s.db.ExecContext(ctx, queryInsertApplication,
		app.ID,
		app.ProfileID,
		app.OpportunityID,
		string(app.Stage),
		nullableInt(app.Score),
		app.Channel,
		app.FollowUpsSent,
		app.InterviewRounds,
		app.Version,
		app.CreatedAt,
		app.LastTransition,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return api.ErrDuplicateApplication
		}
		return err
	}
	return nil
}

// GetOpportunity returns an opportunity by its ID.
func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (domain.Opportunity, error) {
	var opp domain.Opportunity
	err := s.db.QueryRowContext(ctx, queryGetOpportunity, id).Scan(
		&opp.ID,
		&opp.Source,
		&opp.SourceURL,
		&opp.Company,
		&opp.Title,
		&opp.Description,
		&opp.Location,
		&opp.SalaryMin,
		&opp.SalaryMax,
		&opp.Fingerprint,
		&opp.DiscoveredAt,
		&opp.UpdatedAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	return opp, nil
}

// UpsertOpportunity inserts the opportunity, or refreshes the mutable fields
// of the existing row with the same fingerprint. The returned opportunity
// carries the canonical ID and discovery time.
func (s *Store) UpsertOpportunity(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, error) {
	err := s.db.QueryRowContext(ctx, queryUpsertOpportunity,
		opp.ID,
		opp.Source,
		opp.SourceURL,
		opp.Company,
		opp.Title,
		opp.Description,
		opp.Location,
		opp.SalaryMin,
		opp.SalaryMax,
		opp.Fingerprint,
		opp.DiscoveredAt,
		opp.UpdatedAt,
	).Scan(&opp.ID, &opp.DiscoveredAt)
	if err != nil {
		return domain.Opportunity{}, err
	}
	return opp, nil
}

// AppendInteraction inserts an audit record. Interactions are write-once.
func (s *Store) AppendInteraction(ctx context.Context, interaction domain.Interaction) error {
	_, err := s.db.ExecContext(ctx, queryAppendInteraction,
		interaction.ID,
		interaction.ApplicationID,
		string(interaction.Kind),
		interaction.Channel,
		interaction.Summary,
		string(interaction.Outcome),
		interaction.CreatedAt,
	)
	return err
}

// ListInteractions returns the newest interactions of an application.
func (s *Store) ListInteractions(ctx context.Context, applicationID uuid.UUID, limit int) ([]domain.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListInteractions, applicationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		err := rows.Scan(
			&in.ID,
			&in.ApplicationID,
			&in.Kind,
			&in.Channel,
			&in.Summary,
			&in.Outcome,
			&in.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// GetOfferByApplication returns the offer attached to an application.
func (s *Store) GetOfferByApplication(ctx context.Context, applicationID uuid.UUID) (domain.Offer, error) {
	var offer domain.Offer
	err := s.db.QueryRowContext(ctx, queryGetOfferByApplication, applicationID).Scan(
		&offer.ID,
		&offer.ApplicationID,
		&offer.Salary,
		&offer.Currency,
		&offer.Benefits,
		&offer.Conditions,
		&offer.Deadline,
		&offer.Status,
		&offer.CreatedAt,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	return offer, nil
}

// CreateOffer inserts a new offer record.
func (s *Store) CreateOffer(ctx context.Context, offer domain.Offer) error {
	_, err := s.db.ExecContext(ctx, queryInsertOffer,
		offer.ID,
		offer.ApplicationID,
		offer.Salary,
		offer.Currency,
		offer.Benefits,
		offer.Conditions,
		offer.Deadline,
		string(offer.Status),
		offer.CreatedAt,
	)
	return err
}

// SetOfferStatus updates the status flag of an offer.
func (s *Store) SetOfferStatus(ctx context.Context, offerID uuid.UUID, status domain.OfferStatus) error {
	_, err := s.db.ExecContext(ctx, queryUpdateOfferStatus, string(status), offerID)
	return err
}

// GetExpiringOffers returns PENDING offers of active applications with a
// deadline before cutoff.
func (s *Store) GetExpiringOffers(ctx context.Context, cutoff time.Time) ([]domain.Offer, error) {
	rows, err := s.db.QueryContext(ctx, queryGetExpiringOffers, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Offer
	for rows.Next() {
		var offer domain.Offer
		err := rows.Scan(
			&offer.ID,
			&offer.ApplicationID,
			&offer.Salary,
			&offer.Currency,
			&offer.Benefits,
			&offer.Conditions,
			&offer.Deadline,
			&offer.Status,
			&offer.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, offer)
	}
	return result, rows.Err()
}

// CreateScheduledEvent inserts a new interview or call record.
func (s *Store) CreateScheduledEvent(ctx context.Context, ev domain.ScheduledEvent) error {
	_, err := s.db.ExecContext(ctx, queryInsertEvent,
		ev.ID,
		ev.ApplicationID,
		ev.Kind,
		ev.ScheduledAt,
		ev.Notes,
		ev.PrepArtifactRef,
		ev.CreatedAt,
	)
	return err
}

// ListEvents returns the scheduled events of an application, soonest first.
func (s *Store) ListEvents(ctx context.Context, applicationID uuid.UUID) ([]domain.ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListEvents, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetUnpreppedEvents returns scheduled events of active applications in
// [from, until) with no prep artifact recorded.
func (s *Store) GetUnpreppedEvents(ctx context.Context, from, until time.Time) ([]domain.ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUnpreppedEvents, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SetPrepArtifact records the prep material reference on an event.
func (s *Store) SetPrepArtifact(ctx context.Context, eventID uuid.UUID, ref string) error {
	_, err := s.db.ExecContext(ctx, querySetPrepArtifact, ref, eventID)
	return err
}

// InsertReservation records fingerprint as granted. Returns
// ledger.ErrAlreadyReserved if the fingerprint is already granted or
// committed; a released fingerprint is re-granted.
func (s *Store) InsertReservation(ctx context.Context, fingerprint string, now time.Time) error {
	var fp string
	err := s.db.QueryRowContext(ctx, queryInsertReservation, fingerprint, now).Scan(&fp)
	if err == sql.ErrNoRows {
		// Conflict hit a granted or committed row: the DO UPDATE WHERE
		// clause filtered it out, so nothing came back.
		return ledger.ErrAlreadyReserved
	}
	return err
}

// CommitReservation marks a granted fingerprint permanently done.
func (s *Store) CommitReservation(ctx context.Context, fingerprint, outcome string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, queryCommitReservation, outcome, now, fingerprint)
	return err
}

// ReleaseReservation returns a granted fingerprint to the pool.
func (s *Store) ReleaseReservation(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, queryReleaseReservation, fingerprint)
	return err
}

// ReleaseStaleReservations releases granted reservations older than
// olderThan, up to limit, and returns how many were released.
func (s *Store) ReleaseStaleReservations(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryReleaseStaleReservations, olderThan, limit)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanApplications(rows *sql.Rows) ([]domain.Application, error) {
	var result []domain.Application
	for rows.Next() {
		var app domain.Application
		var score sql.NullInt64

		err := rows.Scan(
			&app.ID,
			&app.ProfileID,
			&app.OpportunityID,
			&app.Stage,
			&score,
			&app.Channel,
			&app.FollowUpsSent,
			&app.InterviewRounds,
			&app.Version,
			&app.CreatedAt,
			&app.LastTransition,
		)
		if err != nil {
			return nil, err
		}
		if score.Valid {
			v := int(score.Int64)
			app.Score = &v
		}
		result = append(result, app)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanEvents(rows *sql.Rows) ([]domain.ScheduledEvent, error) {
	var result []domain.ScheduledEvent
	for rows.Next() {
		var ev domain.ScheduledEvent
		err := rows.Scan(
			&ev.ID,
			&ev.ApplicationID,
			&ev.Kind,
			&ev.ScheduledAt,
			&ev.Notes,
			&ev.PrepArtifactRef,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL unique violation error code is 23505
	errStr := err.Error()
	return strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key")
}
