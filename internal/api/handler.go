package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/funnel"
	"github.com/jpelletierorg/emplaiyed/internal/gate"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrDuplicateApplication is returned by Store.CreateApplication when the
// profile already tracks the opportunity.
var ErrDuplicateApplication = errors.New("application already exists for opportunity")

type Store interface {
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	ListApplications(ctx context.Context, stage string, limit, offset int) ([]domain.Application, error)
	CountApplicationsByStage(ctx context.Context) (map[domain.Stage]int, error)
	CreateApplication(ctx context.Context, app domain.Application) error
	GetOpportunity(ctx context.Context, id uuid.UUID) (domain.Opportunity, error)
	UpsertOpportunity(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, error)
	ListInteractions(ctx context.Context, applicationID uuid.UUID, limit int) ([]domain.Interaction, error)
	GetOfferByApplication(ctx context.Context, applicationID uuid.UUID) (domain.Offer, error)
	CreateOffer(ctx context.Context, offer domain.Offer) error
	SetOfferStatus(ctx context.Context, offerID uuid.UUID, status domain.OfferStatus) error
	ListEvents(ctx context.Context, applicationID uuid.UUID) ([]domain.ScheduledEvent, error)
	CreateScheduledEvent(ctx context.Context, ev domain.ScheduledEvent) error
	SetPrepArtifact(ctx context.Context, eventID uuid.UUID, ref string) error
}

// Funnel fires lifecycle events against applications.
type Funnel interface {
	Fire(ctx context.Context, appID uuid.UUID, event domain.Event) (domain.Application, error)
}

// Scanner triggers a manual scheduler scan.
type Scanner interface {
	ScanAndEmit(ctx context.Context) (int, error)
}

// Approvals exposes the pending human-gate queue.
type Approvals interface {
	Pending() []gate.PendingApproval
	Approve(fingerprint string) error
	Decline(fingerprint string) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	funnel    Funnel
	profileID uuid.UUID // single-profile for now

	scanner   Scanner
	approvals Approvals
	db        HealthChecker
}

func NewHandler(store Store, fn Funnel, profileID uuid.UUID) *Handler {
	return &Handler{store: store, funnel: fn, profileID: profileID}
}

// WithScanner enables the manual POST /scan trigger.
func (h *Handler) WithScanner(s Scanner) *Handler {
	h.scanner = s
	return h
}

// WithApprovals enables the /actions approval endpoints.
func (h *Handler) WithApprovals(a Approvals) *Handler {
	h.approvals = a
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/funnel" && r.Method == http.MethodGet:
		h.funnelCounts(w, r)

	case path == "/inbox" && r.Method == http.MethodPost:
		h.inbox(w, r)

	case path == "/applications" && r.Method == http.MethodGet:
		h.listApplications(w, r)

	case strings.HasSuffix(path, "/events") && strings.HasPrefix(path, "/applications/") && r.Method == http.MethodPost:
		h.recordEvent(w, r)

	case strings.HasPrefix(path, "/applications/") && r.Method == http.MethodGet:
		h.getApplication(w, r)

	case strings.HasSuffix(path, "/prep") && strings.HasPrefix(path, "/events/") && r.Method == http.MethodPost:
		h.recordPrep(w, r)

	case path == "/scan" && r.Method == http.MethodPost:
		h.scan(w, r)

	case path == "/actions" && r.Method == http.MethodGet:
		h.listActions(w, r)

	case strings.HasSuffix(path, "/approve") && strings.HasPrefix(path, "/actions/") && r.Method == http.MethodPost:
		h.decideAction(w, r, true)

	case strings.HasSuffix(path, "/decline") && strings.HasPrefix(path, "/actions/") && r.Method == http.MethodPost:
		h.decideAction(w, r, false)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) funnelCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountApplicationsByStage(r.Context())
	if err != nil {
		log.Printf("api: funnel counts error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to count applications")
		return
	}

	resp := FunnelResponse{Stages: make([]StageCount, 0, len(domain.Stages()))}
	for _, stage := range domain.Stages() {
		n := counts[stage]
		resp.Stages = append(resp.Stages, StageCount{Stage: string(stage), Count: n})
		resp.Total += n
	}

	writeJSON(w, http.StatusOK, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) inbox(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req InboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateInbox(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	opp := domain.Opportunity{
		ID:           uuid.New(),
		Source:       req.Source,
		SourceURL:    req.SourceURL,
		Company:      req.Company,
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		SalaryMin:    req.SalaryMin,
		SalaryMax:    req.SalaryMax,
		Fingerprint:  domain.OpportunityFingerprint(req.Source, req.Company, req.Title),
		DiscoveredAt: now,
		UpdatedAt:    now,
	}

	// Re-submitting a known listing refreshes its metadata and returns the
	// canonical row.
	opp, err := h.store.UpsertOpportunity(r.Context(), opp)
	if err != nil {
		log.Printf("api: upsert opportunity error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store opportunity")
		return
	}

	app := domain.Application{
		ID:             uuid.New(),
		ProfileID:      h.profileID,
		OpportunityID:  opp.ID,
		Stage:          domain.StageDiscovered,
		Score:          req.Score,
		Channel:        req.Channel,
		Version:        1,
		CreatedAt:      now,
		LastTransition: now,
	}

	if err := h.store.CreateApplication(r.Context(), app); err != nil {
		if errors.Is(err, ErrDuplicateApplication) {
			writeError(w, http.StatusConflict, "opportunity already tracked")
			return
		}
		log.Printf("api: create application error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create application")
		return
	}

	if req.Score != nil {
		if app, err = h.funnel.Fire(r.Context(), app.ID, domain.EventScored); err != nil {
			log.Printf("api: score on intake error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to score application")
			return
		}
	}

	writeJSON(w, http.StatusCreated, toApplicationResponse(app))
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stage := r.URL.Query().Get("stage")
	if stage != "" && !knownStage(domain.Stage(stage)) {
		writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}

	apps, err := h.store.ListApplications(r.Context(), stage, limit, offset)
	if err != nil {
		log.Printf("api: list applications error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}

	resp := ListApplicationsResponse{Applications: make([]ApplicationResponse, len(apps))}
	for i, app := range apps {
		resp.Applications[i] = toApplicationResponse(app)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getApplication(w http.ResponseWriter, r *http.Request) {
	// Extract application ID from path: /applications/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "applications" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	appID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}

	app, err := h.store.GetApplication(r.Context(), appID)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		log.Printf("api: get application error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get application")
		return
	}

	opp, err := h.store.GetOpportunity(r.Context(), app.OpportunityID)
	if err != nil {
		log.Printf("api: get opportunity error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get opportunity")
		return
	}

	interactions, err := h.store.ListInteractions(r.Context(), appID, 50)
	if err != nil {
		log.Printf("api: list interactions error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list interactions")
		return
	}

	resp := ApplicationDetailResponse{
		Application: toApplicationResponse(app),
		Opportunity: OpportunityResponse{
			ID:        opp.ID.String(),
			Source:    opp.Source,
			SourceURL: opp.SourceURL,
			Company:   opp.Company,
			Title:     opp.Title,
			Location:  opp.Location,
			SalaryMin: opp.SalaryMin,
			SalaryMax: opp.SalaryMax,
		},
		Interactions: make([]InteractionResponse, len(interactions)),
	}
	for i, in := range interactions {
		resp.Interactions[i] = InteractionResponse{
			ID:        in.ID.String(),
			Kind:      string(in.Kind),
			Channel:   in.Channel,
			Summary:   in.Summary,
			Outcome:   string(in.Outcome),
			CreatedAt: formatTime(in.CreatedAt),
		}
	}

	offer, err := h.store.GetOfferByApplication(r.Context(), appID)
	switch {
	case err == sql.ErrNoRows:
		// no offer yet
	case err != nil:
		log.Printf("api: get offer error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get offer")
		return
	default:
		resp.Offer = &OfferResponse{
			ID:         offer.ID.String(),
			Salary:     offer.Salary,
			Currency:   offer.Currency,
			Benefits:   offer.Benefits,
			Conditions: offer.Conditions,
			Deadline:   formatTime(offer.Deadline),
			Status:     string(offer.Status),
		}
	}

	events, err := h.store.ListEvents(r.Context(), appID)
	if err != nil {
		log.Printf("api: list events error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, EventResponse{
			ID:              ev.ID.String(),
			Kind:            ev.Kind,
			ScheduledAt:     formatTime(ev.ScheduledAt),
			Notes:           ev.Notes,
			PrepArtifactRef: ev.PrepArtifactRef,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	// Extract application ID from path: /applications/{id}/events
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "applications" || parts[2] != "events" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	appID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateRecordEvent(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := domain.Event(req.Event)
	app, err := h.funnel.Fire(r.Context(), appID, event)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "application not found")
		case errors.Is(err, funnel.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, funnel.ErrStoreConflict):
			writeError(w, http.StatusConflict, "concurrent update, retry")
		default:
			log.Printf("api: record event error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to record event")
		}
		return
	}

	now := time.Now().UTC()
	switch event {
	case domain.EventInterviewScheduled:
		scheduledAt, _ := time.Parse(time.RFC3339, req.Interview.ScheduledAt)
		ev := domain.ScheduledEvent{
			ID:            uuid.New(),
			ApplicationID: appID,
			Kind:          req.Interview.Kind,
			ScheduledAt:   scheduledAt.UTC(),
			Notes:         req.Interview.Notes,
			CreatedAt:     now,
		}
		if err := h.store.CreateScheduledEvent(r.Context(), ev); err != nil {
			log.Printf("api: create scheduled event error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to record interview")
			return
		}

	case domain.EventOfferReceived:
		deadline, _ := time.Parse(time.RFC3339, req.Offer.Deadline)
		offer := domain.Offer{
			ID:            uuid.New(),
			ApplicationID: appID,
			Salary:        req.Offer.Salary,
			Currency:      req.Offer.Currency,
			Benefits:      req.Offer.Benefits,
			Conditions:    req.Offer.Conditions,
			Deadline:      deadline.UTC(),
			Status:        domain.OfferPending,
			CreatedAt:     now,
		}
		if err := h.store.CreateOffer(r.Context(), offer); err != nil {
			log.Printf("api: create offer error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to record offer")
			return
		}

	case domain.EventAccepted, domain.EventRejected:
		h.settleOffer(r.Context(), appID, event)
	}

	writeJSON(w, http.StatusOK, toApplicationResponse(app))
}

// settleOffer closes out a pending offer when the application reaches a
// terminal decision. Absence of an offer is normal for pre-offer rejections.
func (h *Handler) settleOffer(ctx context.Context, appID uuid.UUID, event domain.Event) {
	offer, err := h.store.GetOfferByApplication(ctx, appID)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		log.Printf("api: get offer error: %v", err)
		return
	}
	if offer.Status != domain.OfferPending {
		return
	}

	status := domain.OfferRejected
	if event == domain.EventAccepted {
		status = domain.OfferAccepted
	}
	if err := h.store.SetOfferStatus(ctx, offer.ID, status); err != nil {
		log.Printf("api: set offer status error: %v", err)
	}
}

func (h *Handler) recordPrep(w http.ResponseWriter, r *http.Request) {
	// Extract event ID from path: /events/{id}/prep
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "events" || parts[2] != "prep" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	eventID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req struct {
		ArtifactRef string `json:"artifact_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ArtifactRef == "" {
		writeError(w, http.StatusBadRequest, "artifact_ref is required")
		return
	}

	if err := h.store.SetPrepArtifact(r.Context(), eventID, req.ArtifactRef); err != nil {
		log.Printf("api: set prep artifact error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to record prep artifact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not available")
		return
	}

	emitted, err := h.scanner.ScanAndEmit(r.Context())
	if err != nil {
		log.Printf("api: scan error: %v", err)
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	writeJSON(w, http.StatusOK, ScanResponse{Emitted: emitted})
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		writeError(w, http.StatusServiceUnavailable, "approvals not available")
		return
	}

	pending := h.approvals.Pending()
	resp := ListActionsResponse{Actions: make([]ActionResponse, len(pending))}
	for i, p := range pending {
		resp.Actions[i] = ActionResponse{
			Fingerprint:   p.Action.Fingerprint,
			ApplicationID: p.Action.ApplicationID.String(),
			Kind:          string(p.Action.Kind),
			Epoch:         p.Action.Epoch,
			DueAt:         formatTime(p.Action.DueAt),
			SubmittedAt:   formatTime(p.SubmittedAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decideAction(w http.ResponseWriter, r *http.Request, approve bool) {
	if h.approvals == nil {
		writeError(w, http.StatusServiceUnavailable, "approvals not available")
		return
	}

	// Extract fingerprint from path: /actions/{fingerprint}/approve|decline
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "actions" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	fingerprint := parts[1]

	var err error
	if approve {
		err = h.approvals.Approve(fingerprint)
	} else {
		err = h.approvals.Decline(fingerprint)
	}
	if err != nil {
		if errors.Is(err, gate.ErrUnknownAction) {
			writeError(w, http.StatusNotFound, "no pending action with that fingerprint")
			return
		}
		log.Printf("api: decide action error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to decide action")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toApplicationResponse(app domain.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:              app.ID.String(),
		OpportunityID:   app.OpportunityID.String(),
		Stage:           string(app.Stage),
		Score:           app.Score,
		Channel:         app.Channel,
		FollowUpsSent:   app.FollowUpsSent,
		InterviewRounds: app.InterviewRounds,
		CreatedAt:       formatTime(app.CreatedAt),
		LastTransition:  formatTime(app.LastTransition),
	}
}

func knownStage(stage domain.Stage) bool {
	for _, s := range domain.Stages() {
		if s == stage {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
