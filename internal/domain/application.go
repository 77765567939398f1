package domain

import (
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageDiscovered         Stage = "DISCOVERED"
	StageScored             Stage = "SCORED"
	StageOutreachSent       Stage = "OUTREACH_SENT"
	StageFollowUp1          Stage = "FOLLOW_UP_1"
	StageFollowUp2          Stage = "FOLLOW_UP_2"
	StageResponseReceived   Stage = "RESPONSE_RECEIVED"
	StageInterviewScheduled Stage = "INTERVIEW_SCHEDULED"
	StageInterviewCompleted Stage = "INTERVIEW_COMPLETED"
	StageOfferReceived      Stage = "OFFER_RECEIVED"
	StageNegotiating        Stage = "NEGOTIATING"
	StageAccepted           Stage = "ACCEPTED"
	StageRejected           Stage = "REJECTED"
	StageGhosted            Stage = "GHOSTED"
)

// Terminal reports whether no further transitions leave this stage.
// The scheduler never scans applications in a terminal stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageAccepted, StageRejected, StageGhosted:
		return true
	}
	return false
}

// Stages lists every stage in funnel order.
func Stages() []Stage {
	return []Stage{
		StageDiscovered,
		StageScored,
		StageOutreachSent,
		StageFollowUp1,
		StageFollowUp2,
		StageResponseReceived,
		StageInterviewScheduled,
		StageInterviewCompleted,
		StageOfferReceived,
		StageNegotiating,
		StageAccepted,
		StageRejected,
		StageGhosted,
	}
}

// Application tracks one (profile, opportunity) pair through the funnel.
// Mutated only through validated funnel transitions; never deleted.
type Application struct {
	ID            uuid.UUID
	ProfileID     uuid.UUID
	OpportunityID uuid.UUID

	Stage   Stage
	Score   *int   // 0-100, nil until scored
	Channel string // outreach channel used, empty until outreach

	FollowUpsSent   int
	InterviewRounds int

	// Version guards optimistic-concurrency updates. Incremented on
	// every persisted transition.
	Version int64

	CreatedAt      time.Time
	LastTransition time.Time
}
