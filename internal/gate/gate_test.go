package gate

import (
	"testing"

	"github.com/jpelletierorg/emplaiyed/internal/domain"
)

func TestDecide_DefaultIsRequireApproval(t *testing.T) {
	for _, kind := range []domain.ActionKind{
		domain.ActionFollowUp,
		domain.ActionPrepDue,
		domain.ActionNegotiationUrgent,
	} {
		if got := Decide(kind, nil); got != RequireApproval {
			t.Errorf("Decide(%s, nil) = %s, want require_approval", kind, got)
		}
	}
}

func TestDecide_PolicyFlagAutoApproves(t *testing.T) {
	policy := Policy{domain.ActionFollowUp: true}

	if got := Decide(domain.ActionFollowUp, policy); got != Auto {
		t.Errorf("Decide(follow_up) = %s, want auto", got)
	}
	if got := Decide(domain.ActionPrepDue, policy); got != RequireApproval {
		t.Errorf("Decide(prep_due) = %s, want require_approval", got)
	}
}

func TestDecide_GhostTransitionAlwaysAuto(t *testing.T) {
	policy := Policy{domain.ActionGhostTransition: false}

	if got := Decide(domain.ActionGhostTransition, policy); got != Auto {
		t.Errorf("ghost transition gated: got %s", got)
	}
	if got := Decide(domain.ActionGhostTransition, nil); got != Auto {
		t.Errorf("ghost transition gated with nil policy: got %s", got)
	}
}

func TestDecisionString(t *testing.T) {
	if Auto.String() != "auto" {
		t.Errorf("Auto.String() = %q", Auto.String())
	}
	if RequireApproval.String() != "require_approval" {
		t.Errorf("RequireApproval.String() = %q", RequireApproval.String())
	}
}
