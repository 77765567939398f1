package domain

import (
	"time"

	"github.com/google/uuid"
)

type InteractionKind string

const (
	InteractionOutreach       InteractionKind = "OUTREACH"
	InteractionFollowUp       InteractionKind = "FOLLOW_UP"
	InteractionResponse       InteractionKind = "RESPONSE"
	InteractionEventScheduled InteractionKind = "EVENT_SCHEDULED"
	InteractionNegotiation    InteractionKind = "NEGOTIATION"
	InteractionAcceptance     InteractionKind = "ACCEPTANCE"
)

type InteractionOutcome string

const (
	OutcomeSent    InteractionOutcome = "SENT"
	OutcomeFailed  InteractionOutcome = "FAILED"
	OutcomeSkipped InteractionOutcome = "SKIPPED"
)

// Interaction is an append-only audit record. Write-once: never mutated or
// deleted. The scheduler reads interactions to decide what is due.
type Interaction struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID

	Kind    InteractionKind
	Channel string
	Summary string
	Outcome InteractionOutcome

	CreatedAt time.Time
}
