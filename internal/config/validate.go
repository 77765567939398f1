package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// SCAN_SCHEDULE must be a valid 5-field cron expression
	if cfg.ScanSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.ScanSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SCAN_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	// TIMEZONE must resolve to an IANA location
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	// DECLINE_POLICY must be "release" or "skip"
	if cfg.DeclinePolicy != "" && cfg.DeclinePolicy != "release" && cfg.DeclinePolicy != "skip" {
		errs = append(errs, ValidationError{
			Field:   "DECLINE_POLICY",
			Message: fmt.Sprintf("must be 'release' or 'skip', got %q", cfg.DeclinePolicy),
		})
	}

	// AUTO_APPROVE entries must name known action kinds
	for _, kind := range cfg.AutoApproveKinds() {
		if !knownActionKind(kind) {
			errs = append(errs, ValidationError{
				Field:   "AUTO_APPROVE",
				Message: fmt.Sprintf("unknown action kind %q", kind),
			})
		}
	}

	for _, dur := range []struct {
		field string
		value string
	}{
		{"PREP_LEAD_WINDOW", cfg.PrepLeadWindowStr},
		{"OFFER_DEADLINE_WINDOW", cfg.OfferDeadlineWindowStr},
		{"APPROVAL_TIMEOUT", cfg.ApprovalTimeoutStr},
		{"CHANNEL_TIMEOUT", cfg.ChannelTimeoutStr},
		{"RESERVATION_TTL", cfg.ReservationTTLStr},
		{"SWEEP_INTERVAL", cfg.SweepIntervalStr},
	} {
		if dur.value == "" {
			continue
		}
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	// The sweep must not release reservations whose dispatch could still be
	// waiting on a human. A shorter TTL would let a second dispatch of the
	// same fingerprint start while the first is held at the gate.
	if cfg.ReservationTTL > 0 && cfg.ApprovalTimeout > 0 && cfg.ReservationTTL <= cfg.ApprovalTimeout {
		errs = append(errs, ValidationError{
			Field:   "RESERVATION_TTL",
			Message: fmt.Sprintf("must exceed APPROVAL_TIMEOUT (%s)", cfg.ApprovalTimeoutStr),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func knownActionKind(kind string) bool {
	for _, k := range domain.ActionKinds() {
		if string(k) == kind {
			return true
		}
	}
	return false
}
