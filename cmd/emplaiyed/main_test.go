package main

import (
	"testing"
	"time"

	"github.com/jpelletierorg/emplaiyed/internal/config"
	"github.com/jpelletierorg/emplaiyed/internal/dispatcher"
	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

func TestSchedulerPolicy_FromConfig(t *testing.T) {
	cfg := config.Config{
		CooldownDays:        5,
		FollowUpBudget:      2,
		PrepLeadWindow:      24 * time.Hour,
		OfferDeadlineWindow: 72 * time.Hour,
		MaxActionsPerScan:   50,
	}

	policy := schedulerPolicy(cfg)

	if policy.Cooldown != 5*24*time.Hour {
		t.Errorf("Cooldown = %v, want 120h", policy.Cooldown)
	}
	if policy.FollowUpBudget != 2 {
		t.Errorf("FollowUpBudget = %d, want 2", policy.FollowUpBudget)
	}
	if policy.PrepLeadWindow != 24*time.Hour {
		t.Errorf("PrepLeadWindow = %v, want 24h", policy.PrepLeadWindow)
	}
	if policy.OfferDeadlineWindow != 72*time.Hour {
		t.Errorf("OfferDeadlineWindow = %v, want 72h", policy.OfferDeadlineWindow)
	}
	if policy.MaxActionsPerScan != 50 {
		t.Errorf("MaxActionsPerScan = %d, want 50", policy.MaxActionsPerScan)
	}
}

func TestDispatcherConfig_GatePolicy(t *testing.T) {
	cfg := config.Config{
		AutoApprove:   "FOLLOW_UP, PREP_DUE",
		DeclinePolicy: "skip",
	}

	dc := dispatcherConfig(cfg)

	if !dc.Gate[domain.ActionFollowUp] {
		t.Error("FOLLOW_UP should be auto-approved")
	}
	if !dc.Gate[domain.ActionPrepDue] {
		t.Error("PREP_DUE should be auto-approved")
	}
	if dc.Gate[domain.ActionNegotiationUrgent] {
		t.Error("NEGOTIATION_URGENT should require approval")
	}
	if dc.DeclinePolicy != dispatcher.DeclineSkip {
		t.Errorf("DeclinePolicy = %s, want skip", dc.DeclinePolicy)
	}
}

func TestDispatcherConfig_EndpointsOnlyWhenConfigured(t *testing.T) {
	cfg := config.Config{
		OutreachWebhookURL: "http://localhost:9100/outreach",
		NotifyWebhookURL:   "http://localhost:9100/notify",
	}

	dc := dispatcherConfig(cfg)

	ep, ok := dc.Endpoints[domain.ActionFollowUp]
	if !ok || ep.Name != "outreach" || ep.URL != "http://localhost:9100/outreach" {
		t.Errorf("follow-up endpoint = %+v, %v", ep, ok)
	}
	if _, ok := dc.Endpoints[domain.ActionPrepDue]; ok {
		t.Error("prep endpoint should be absent without PREP_WEBHOOK_URL")
	}
	if _, ok := dc.Endpoints[domain.ActionNegotiationUrgent]; !ok {
		t.Error("notify endpoint missing")
	}
	if _, ok := dc.Endpoints[domain.ActionGhostTransition]; ok {
		t.Error("ghost transitions must never have an endpoint")
	}
}

func TestDispatcherConfig_ForwardsTimeoutsAndSecret(t *testing.T) {
	cfg := config.Config{
		ApprovalTimeout: 30 * time.Minute,
		ChannelTimeout:  10 * time.Second,
		WebhookSecret:   "signing-key",
	}

	dc := dispatcherConfig(cfg)

	if dc.ApprovalTimeout != 30*time.Minute {
		t.Errorf("ApprovalTimeout = %v, want 30m", dc.ApprovalTimeout)
	}
	if dc.ChannelTimeout != 10*time.Second {
		t.Errorf("ChannelTimeout = %v, want 10s", dc.ChannelTimeout)
	}
	if dc.Secret != "signing-key" {
		t.Errorf("Secret = %q", dc.Secret)
	}
}
