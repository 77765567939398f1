package domain

import (
	"time"

	"github.com/google/uuid"
)

type ActionKind string

const (
	ActionFollowUp          ActionKind = "FOLLOW_UP"
	ActionPrepDue           ActionKind = "PREP_DUE"
	ActionNegotiationUrgent ActionKind = "NEGOTIATION_URGENT"
	ActionGhostTransition   ActionKind = "GHOST_TRANSITION"
)

// ActionKinds lists every dispatchable action kind.
func ActionKinds() []ActionKind {
	return []ActionKind{
		ActionFollowUp,
		ActionPrepDue,
		ActionNegotiationUrgent,
		ActionGhostTransition,
	}
}

// PendingAction is scheduler-internal and ephemeral: recomputed on every
// scan, never persisted beyond its idempotency fingerprint.
type PendingAction struct {
	ApplicationID uuid.UUID
	Kind          ActionKind

	// Epoch disambiguates repeated actions of the same kind, e.g. the
	// follow-up attempt number. Part of the fingerprint.
	Epoch string

	// Fingerprint identifies this exact action instance for at-most-once
	// dispatch.
	Fingerprint string

	DueAt    time.Time
	Priority int // lower dispatches first
}
