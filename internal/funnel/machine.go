// Package funnel implements the application lifecycle state machine.
//
// Transitions are a fixed (stage, event) table. Apply is pure and
// synchronous: it never performs side effects, which keeps every
// transition deterministically testable. Anything that sends something
// lives in the dispatcher, not here.
package funnel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

// ErrInvalidTransition is returned for any (stage, event) pair absent from
// the transition table. The application is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

var transitions = map[domain.Stage]map[domain.Event]domain.Stage{
	domain.StageDiscovered: {
		domain.EventScored: domain.StageScored,
	},
	domain.StageScored: {
		domain.EventOutreachSent: domain.StageOutreachSent,
	},
	domain.StageOutreachSent: {
		domain.EventFollowUpSent:     domain.StageFollowUp1,
		domain.EventResponseReceived: domain.StageResponseReceived,
	},
	domain.StageFollowUp1: {
		domain.EventFollowUpSent:     domain.StageFollowUp2,
		domain.EventResponseReceived: domain.StageResponseReceived,
		domain.EventGhosted:          domain.StageGhosted,
	},
	domain.StageFollowUp2: {
		domain.EventResponseReceived: domain.StageResponseReceived,
		domain.EventGhosted:          domain.StageGhosted,
	},
	domain.StageResponseReceived: {
		domain.EventInterviewScheduled: domain.StageInterviewScheduled,
		domain.EventRejected:           domain.StageRejected,
	},
	domain.StageInterviewScheduled: {
		domain.EventInterviewCompleted: domain.StageInterviewCompleted,
		domain.EventRejected:           domain.StageRejected,
	},
	domain.StageInterviewCompleted: {
		// Another round loops back to scheduled; the round counter
		// increments on each completed cycle instead of adding stages.
		domain.EventInterviewScheduled: domain.StageInterviewScheduled,
		domain.EventOfferReceived:      domain.StageOfferReceived,
		domain.EventRejected:           domain.StageRejected,
	},
	domain.StageOfferReceived: {
		domain.EventNegotiationStarted: domain.StageNegotiating,
		domain.EventAccepted:           domain.StageAccepted,
		domain.EventRejected:           domain.StageRejected,
	},
	domain.StageNegotiating: {
		// Counter-offer reopens the offer.
		domain.EventOfferReceived: domain.StageOfferReceived,
		domain.EventAccepted:      domain.StageAccepted,
		domain.EventRejected:      domain.StageRejected,
	},
	// Ghosted companies occasionally reply months later.
	domain.StageGhosted: {
		domain.EventResponseReceived: domain.StageResponseReceived,
	},
	domain.StageAccepted: {},
	domain.StageRejected: {},
}

// CanApply reports whether event is valid from stage.
func CanApply(stage domain.Stage, event domain.Event) bool {
	if event == domain.EventClosed {
		return !stage.Terminal()
	}
	_, ok := transitions[stage][event]
	return ok
}

// Next returns the stage reached by applying event from stage.
func Next(stage domain.Stage, event domain.Event) (domain.Stage, bool) {
	if event == domain.EventClosed {
		if stage.Terminal() {
			return "", false
		}
		return domain.StageRejected, true
	}
	next, ok := transitions[stage][event]
	return next, ok
}

// Apply computes the transition for event and returns the updated copy of
// app. It returns ErrInvalidTransition for any pair not in the table,
// leaving app untouched. Counters advance as part of the transition:
// follow-ups sent on EventFollowUpSent, interview rounds on
// EventInterviewCompleted.
func Apply(app domain.Application, event domain.Event, now time.Time) (domain.Application, error) {
	next, ok := Next(app.Stage, event)
	if !ok {
		return app, fmt.Errorf("application %s: %s -> %s (valid: %s): %w",
			app.ID, app.Stage, event, validEventsFrom(app.Stage), ErrInvalidTransition)
	}

	updated := app
	updated.Stage = next
	updated.LastTransition = now

	switch event {
	case domain.EventFollowUpSent:
		updated.FollowUpsSent++
	case domain.EventInterviewCompleted:
		updated.InterviewRounds++
	}

	return updated, nil
}

func validEventsFrom(stage domain.Stage) string {
	events := transitions[stage]
	if len(events) == 0 {
		return "none, terminal stage"
	}
	names := make([]string, 0, len(events))
	for e := range events {
		names = append(names, string(e))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
