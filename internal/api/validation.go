package api

import (
	"fmt"
	"time"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

func validateInbox(req InboxRequest) error {
	if req.Source == "" {
		return fmt.Errorf("source is required")
	}
	if req.Company == "" {
		return fmt.Errorf("company is required")
	}
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if req.SalaryMin < 0 || req.SalaryMax < 0 {
		return fmt.Errorf("salary bounds must be non-negative")
	}
	if req.SalaryMax > 0 && req.SalaryMin > req.SalaryMax {
		return fmt.Errorf("salary_min exceeds salary_max")
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 100) {
		return fmt.Errorf("score must be between 0 and 100")
	}
	return nil
}

func validateRecordEvent(req RecordEventRequest) error {
	if req.Event == "" {
		return fmt.Errorf("event is required")
	}
	if !knownEvent(domain.Event(req.Event)) {
		return fmt.Errorf("unknown event %q", req.Event)
	}

	switch domain.Event(req.Event) {
	case domain.EventInterviewScheduled:
		if req.Interview == nil {
			return fmt.Errorf("interview payload is required for %s", req.Event)
		}
		if req.Interview.Kind == "" {
			return fmt.Errorf("interview.kind is required")
		}
		if _, err := time.Parse(time.RFC3339, req.Interview.ScheduledAt); err != nil {
			return fmt.Errorf("invalid interview.scheduled_at: %w", err)
		}
	case domain.EventOfferReceived:
		if req.Offer == nil {
			return fmt.Errorf("offer payload is required for %s", req.Event)
		}
		if req.Offer.Salary <= 0 {
			return fmt.Errorf("offer.salary must be positive")
		}
		if req.Offer.Currency == "" {
			return fmt.Errorf("offer.currency is required")
		}
		if _, err := time.Parse(time.RFC3339, req.Offer.Deadline); err != nil {
			return fmt.Errorf("invalid offer.deadline: %w", err)
		}
	}

	return nil
}

// knownEvent accepts every external funnel event. EventClosed is internal:
// it only ever originates from a sibling acceptance, never from the API.
func knownEvent(ev domain.Event) bool {
	switch ev {
	case domain.EventScored,
		domain.EventOutreachSent,
		domain.EventFollowUpSent,
		domain.EventResponseReceived,
		domain.EventInterviewScheduled,
		domain.EventInterviewCompleted,
		domain.EventOfferReceived,
		domain.EventNegotiationStarted,
		domain.EventAccepted,
		domain.EventRejected,
		domain.EventGhosted:
		return true
	}
	return false
}
