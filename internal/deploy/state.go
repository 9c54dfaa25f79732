// Package deploy drives the push of a flow definition to a managed instance,
// including the conflict protocol used when the target processing unit
// already holds a different version.
//
// Each (flow, side, instance) deploy is its own Session:
//
//	idle -> deploying -> done
//	                  -> conflict_detected -> resolving -> done | failed
//	                  -> failed
//
// A conflict is never resolved automatically; the caller must submit exactly
// one Decision for it.
package deploy

import (
	"errors"
	"fmt"

	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/version"
)

// State of a deploy session.
type State string

const (
	StateIdle             State = "idle"
	StateDeploying        State = "deploying"
	StateConflictDetected State = "conflict_detected"
	StateResolving        State = "resolving"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Decision is the remediation chosen for a conflict.
type Decision string

const (
	// DecisionSkip abandons this flow's deploy without touching the instance.
	DecisionSkip Decision = "skip"
	// DecisionDelete removes the existing unit and pushes a fresh copy.
	DecisionDelete Decision = "delete"
	// DecisionUpdateVersion moves the existing unit to the incoming version.
	DecisionUpdateVersion Decision = "update_version"
)

// ParseDecision validates a decision name.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionSkip, DecisionDelete, DecisionUpdateVersion:
		return Decision(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}

// Outcome summarizes how a finished session ended.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeUpdated   Outcome = "updated"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDecisionRejected  = errors.New("decision rejected: conflict is not awaiting a decision")
	ErrUnknownDecision   = errors.New("unknown decision")
	ErrCancelled         = errors.New("deploy cancelled")
)

// ConflictContext is captured when a push finds a different version already
// deployed at the target path. It lives only as long as its session.
type ConflictContext struct {
	FlowID          string            `json:"flow_id"`
	FlowName        string            `json:"flow_name"`
	Side            models.Side       `json:"side"`
	InstanceID      string            `json:"instance_id"`
	InstanceName    string            `json:"instance_name"`
	Path            string            `json:"path"`
	UnitID          string            `json:"unit_id"`
	ExistingVersion string            `json:"existing_version"`
	IncomingVersion string            `json:"incoming_version"`
	Direction       version.Direction `json:"direction"`
}

// Transition is one recorded state change.
type Transition struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}
