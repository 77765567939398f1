package api

import "time"

// InboxRequest is a pasted or scraped job listing. The engine dedupes it by
// content fingerprint and opens an application at DISCOVERED.
type InboxRequest struct {
	Source      string `json:"source"`
	SourceURL   string `json:"source_url,omitempty"`
	Company     string `json:"company"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	SalaryMin   int    `json:"salary_min,omitempty"`
	SalaryMax   int    `json:"salary_max,omitempty"`

	// Channel is the outreach channel for this application (email, linkedin, ...).
	Channel string `json:"channel,omitempty"`

	// Score, if present, moves the application straight to SCORED.
	Score *int `json:"score,omitempty"`
}

// RecordEventRequest advances an application's funnel stage. Interview and
// offer payloads must accompany their events.
type RecordEventRequest struct {
	Event string `json:"event"`

	Interview *InterviewRequest `json:"interview,omitempty"`
	Offer     *OfferRequest     `json:"offer,omitempty"`
}

type InterviewRequest struct {
	Kind        string `json:"kind"`
	ScheduledAt string `json:"scheduled_at"` // RFC 3339
	Notes       string `json:"notes,omitempty"`
}

type OfferRequest struct {
	Salary     int    `json:"salary"`
	Currency   string `json:"currency"`
	Benefits   string `json:"benefits,omitempty"`
	Conditions string `json:"conditions,omitempty"`
	Deadline   string `json:"deadline"` // RFC 3339
}

type ApplicationResponse struct {
	ID              string `json:"id"`
	OpportunityID   string `json:"opportunity_id"`
	Stage           string `json:"stage"`
	Score           *int   `json:"score,omitempty"`
	Channel         string `json:"channel,omitempty"`
	FollowUpsSent   int    `json:"follow_ups_sent"`
	InterviewRounds int    `json:"interview_rounds"`
	CreatedAt       string `json:"created_at"`
	LastTransition  string `json:"last_transition"`
}

type OpportunityResponse struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	SourceURL string `json:"source_url,omitempty"`
	Company   string `json:"company"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
	SalaryMin int    `json:"salary_min,omitempty"`
	SalaryMax int    `json:"salary_max,omitempty"`
}

type InteractionResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Channel   string `json:"channel,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Outcome   string `json:"outcome"`
	CreatedAt string `json:"created_at"`
}

type OfferResponse struct {
	ID         string `json:"id"`
	Salary     int    `json:"salary"`
	Currency   string `json:"currency"`
	Benefits   string `json:"benefits,omitempty"`
	Conditions string `json:"conditions,omitempty"`
	Deadline   string `json:"deadline"`
	Status     string `json:"status"`
}

type EventResponse struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	ScheduledAt     string `json:"scheduled_at"`
	Notes           string `json:"notes,omitempty"`
	PrepArtifactRef string `json:"prep_artifact_ref,omitempty"`
}

type ApplicationDetailResponse struct {
	Application  ApplicationResponse   `json:"application"`
	Opportunity  OpportunityResponse   `json:"opportunity"`
	Interactions []InteractionResponse `json:"interactions"`
	Offer        *OfferResponse        `json:"offer,omitempty"`
	Events       []EventResponse       `json:"events,omitempty"`
}

type ListApplicationsResponse struct {
	Applications []ApplicationResponse `json:"applications"`
}

type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// FunnelResponse reports per-stage counts in funnel order.
type FunnelResponse struct {
	Stages []StageCount `json:"stages"`
	Total  int          `json:"total"`
}

type ActionResponse struct {
	Fingerprint   string `json:"fingerprint"`
	ApplicationID string `json:"application_id"`
	Kind          string `json:"kind"`
	Epoch         string `json:"epoch"`
	DueAt         string `json:"due_at"`
	SubmittedAt   string `json:"submitted_at"`
}

type ListActionsResponse struct {
	Actions []ActionResponse `json:"actions"`
}

type ScanResponse struct {
	Emitted int `json:"emitted"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
