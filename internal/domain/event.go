package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is an input to the funnel state machine.
type Event string

const (
	EventScored             Event = "scored"
	EventOutreachSent       Event = "outreach_sent"
	EventFollowUpSent       Event = "follow_up_sent"
	EventResponseReceived   Event = "response_received"
	EventInterviewScheduled Event = "interview_scheduled"
	EventInterviewCompleted Event = "interview_completed"
	EventOfferReceived      Event = "offer_received"
	EventNegotiationStarted Event = "negotiation_started"
	EventAccepted           Event = "accepted"
	EventRejected           Event = "rejected"
	EventGhosted            Event = "ghosted"

	// EventClosed closes an application because a sibling of the same
	// profile was accepted. Applied as a bulk store update, never through
	// recursive transition calls.
	EventClosed Event = "closed"
)

// ScheduledEvent is an upcoming interview or call tied to an application.
// The scheduler raises a prep action when one enters the lead window
// without a recorded prep artifact.
type ScheduledEvent struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID

	Kind        string // phone_screen, technical_interview, onsite, ...
	ScheduledAt time.Time
	Notes       string

	// PrepArtifactRef points at the generated prep material, empty until
	// the prep collaborator has run.
	PrepArtifactRef string

	CreatedAt time.Time
}
