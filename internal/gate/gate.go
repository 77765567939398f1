// Package gate decides whether an action auto-dispatches or waits for an
// operator.
//
// Decide is a pure function of per-action-kind configuration. Flipping one
// flag changes behavior for all future scans without a code change; no
// business logic ever branches on approval state directly.
package gate

import "github.com/jpelletierorg/emplaiyed/internal/domain"

type Decision int

const (
	Auto Decision = iota
	RequireApproval
)

func (d Decision) String() string {
	if d == Auto {
		return "auto"
	}
	return "require_approval"
}

// Policy maps action kinds to auto-approve flags. Absent kinds require
// approval, so the default posture is everything held.
type Policy map[domain.ActionKind]bool

// Decide returns the gate decision for kind. Ghost transitions are pure
// state events and never gated.
func Decide(kind domain.ActionKind, policy Policy) Decision {
	if kind == domain.ActionGhostTransition {
		return Auto
	}
	if policy[kind] {
		return Auto
	}
	return RequireApproval
}
