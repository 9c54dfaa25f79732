package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rflorenc/flowdeck/internal/faults"
	"github.com/rflorenc/flowdeck/internal/metrics"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
	"github.com/rflorenc/flowdeck/internal/version"
)

// PushStatus is what a push reports when it does not fail.
type PushStatus string

const (
	PushCreated   PushStatus = "created"
	PushUnchanged PushStatus = "unchanged"
	PushConflict  PushStatus = "conflict"
)

// PushResult is the outcome of a push. On conflict, UnitID and
// ExistingVersion describe the unit already at the path.
type PushResult struct {
	Status          PushStatus
	UnitID          string
	ExistingVersion string
}

// Pusher mutates processing units on managed instances.
type Pusher interface {
	PushFlowVersion(ctx context.Context, instanceID, path string, ref models.FlowRef) (PushResult, error)
	DeleteProcessingUnit(ctx context.Context, instanceID, unitID string) error
	UpdateProcessingUnitVersion(ctx context.Context, instanceID, unitID, version string) error
}

// Locator resolves where a flow side is deployed.
type Locator interface {
	Locate(ctx context.Context, flow *models.LogicalFlow, side models.Side) (placement.Target, error)
}

// Deps are the collaborators a session needs.
type Deps struct {
	Pusher  Pusher
	Locator Locator
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Request asks for one flow side to be deployed. InstanceID, when set, must
// match the instance the hierarchy resolves to.
type Request struct {
	Flow       *models.LogicalFlow `json:"-"`
	Side       models.Side         `json:"side"`
	InstanceID string              `json:"instance_id,omitempty"`
	Ref        models.FlowRef      `json:"ref"`
}

// Session is the state machine for one deploy. All methods are safe for
// concurrent use; network calls run outside the lock.
type Session struct {
	ID        string
	CreatedAt time.Time

	req  Request
	deps Deps

	mu       sync.Mutex
	state    State
	target   placement.Target
	conflict *ConflictContext
	decision Decision
	outcome  Outcome
	err      error
	history  []Transition
}

// NewSession creates an idle session.
func NewSession(req Request, deps Deps) *Session {
	if req.Ref.Name == "" && req.Flow != nil {
		req.Ref.Name = req.Flow.Name
	}
	if req.Ref.FlowID == "" && req.Flow != nil {
		req.Ref.FlowID = req.Flow.TemplateRef(req.Side)
	}
	if req.Ref.ParameterContextID == "" && req.Flow != nil {
		req.Ref.ParameterContextID = req.Flow.ConnectionParam(req.Side)
	}
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		req:       req,
		deps:      deps,
		state:     StateIdle,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conflict returns a copy of the conflict context, if one was detected.
func (s *Session) Conflict() (ConflictContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict == nil {
		return ConflictContext{}, false
	}
	return *s.conflict, true
}

// Err returns the failure, if the session failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start runs idle -> deploying and then on to done, conflict_detected or
// failed. It returns the failure when the session fails; a detected conflict
// is not an error.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transition(StateIdle, StateDeploying, "deploy requested"); err != nil {
		return err
	}

	flow := s.req.Flow
	if flow == nil {
		return s.fail(faults.Unresolved("deploy", "no flow given"))
	}
	target, err := s.deps.Locator.Locate(ctx, flow, s.req.Side)
	if err != nil {
		return s.fail(err)
	}
	if s.req.InstanceID != "" && target.Instance.ID != s.req.InstanceID {
		return s.fail(faults.Unresolved("deploy", "flow %s %s resolves to instance %s, not %s",
			flow.ID, s.req.Side, target.Instance.Name, s.req.InstanceID))
	}
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()

	s.logger().Info("pushing flow version",
		zap.String("instance", target.Instance.ID),
		zap.String("path", target.Path),
		zap.String("version", s.req.Ref.Version))

	res, err := s.deps.Pusher.PushFlowVersion(ctx, target.Instance.ID, target.Path, s.req.Ref)
	if err != nil {
		return s.fail(faults.New(faults.KindFatalDeploy, "push", err))
	}

	switch res.Status {
	case PushCreated:
		return s.finish(StateDeploying, OutcomeCreated, "pushed")
	case PushUnchanged:
		return s.finish(StateDeploying, OutcomeUnchanged, "version already deployed")
	case PushConflict:
		if version.Equal(res.ExistingVersion, s.req.Ref.Version) {
			return s.finish(StateDeploying, OutcomeUnchanged, "version already deployed")
		}
		cc := &ConflictContext{
			FlowID:          flow.ID,
			FlowName:        flow.Name,
			Side:            s.req.Side,
			InstanceID:      target.Instance.ID,
			InstanceName:    target.Instance.Name,
			Path:            target.Path,
			UnitID:          res.UnitID,
			ExistingVersion: res.ExistingVersion,
			IncomingVersion: s.req.Ref.Version,
			Direction:       version.DirectionOf(res.ExistingVersion, s.req.Ref.Version),
		}
		s.mu.Lock()
		s.conflict = cc
		s.mu.Unlock()
		return s.transition(StateDeploying, StateConflictDetected,
			fmt.Sprintf("existing version %s, incoming %s", res.ExistingVersion, s.req.Ref.Version))
	default:
		return s.fail(faults.New(faults.KindFatalDeploy, "push", fmt.Errorf("unexpected push status %q", res.Status)))
	}
}

// Resolve applies exactly one decision to a detected conflict. Any later
// decision on the same session is rejected with ErrDecisionRejected.
func (s *Session) Resolve(ctx context.Context, d Decision) error {
	if _, err := ParseDecision(string(d)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateConflictDetected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrDecisionRejected, state)
	}
	s.decision = d
	s.record(StateConflictDetected, StateResolving, "decision "+string(d))
	cc := *s.conflict
	s.mu.Unlock()

	log := s.logger().With(zap.String("decision", string(d)), zap.String("unit", cc.UnitID))
	log.Info("resolving conflict")

	switch d {
	case DecisionSkip:
		return s.finish(StateResolving, OutcomeSkipped, "skipped by user")

	case DecisionDelete:
		if cc.UnitID == "" {
			return s.fail(faults.New(faults.KindFatalDeploy, "delete", errors.New("instance did not report the existing unit id")))
		}
		if err := s.deps.Pusher.DeleteProcessingUnit(ctx, cc.InstanceID, cc.UnitID); err != nil {
			return s.fail(faults.New(faults.KindFatalDeploy, "delete", err))
		}
		res, err := s.deps.Pusher.PushFlowVersion(ctx, cc.InstanceID, cc.Path, s.req.Ref)
		if err != nil {
			return s.fail(faults.New(faults.KindFatalDeploy, "push", err))
		}
		if res.Status == PushConflict {
			return s.fail(faults.New(faults.KindVersionConflict, "push",
				fmt.Errorf("version %s still present at %s after delete", res.ExistingVersion, cc.Path)))
		}
		return s.finish(StateResolving, OutcomeReplaced, "deleted and pushed")

	default: // DecisionUpdateVersion
		if cc.UnitID == "" {
			return s.fail(faults.New(faults.KindFatalDeploy, "update version", errors.New("instance did not report the existing unit id")))
		}
		if err := s.deps.Pusher.UpdateProcessingUnitVersion(ctx, cc.InstanceID, cc.UnitID, cc.IncomingVersion); err != nil {
			return s.fail(faults.New(faults.KindFatalDeploy, "update version", err))
		}
		return s.finish(StateResolving, OutcomeUpdated, "version updated")
	}
}

// Cancel abandons a session that is idle or awaiting a decision. It ends in
// failed with ErrCancelled and never touches the instance.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateConflictDetected {
		return fmt.Errorf("%w: cannot cancel in state %s", ErrInvalidTransition, s.state)
	}
	s.err = ErrCancelled
	s.outcome = OutcomeCancelled
	s.record(s.state, StateFailed, "cancelled")
	s.deps.Metrics.DeployOutcome(string(OutcomeCancelled))
	return nil
}

func (s *Session) transition(from, to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s from state %s", ErrInvalidTransition, from, to, s.state)
	}
	s.record(from, to, reason)
	return nil
}

func (s *Session) finish(from State, outcome Outcome, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s from state %s", ErrInvalidTransition, from, StateDone, s.state)
	}
	s.outcome = outcome
	s.record(from, StateDone, reason)
	s.deps.Metrics.DeployOutcome(string(outcome))
	return nil
}

// fail moves any non-terminal state to failed and returns err unchanged so
// the caller sees the instance's message verbatim.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return err
	}
	s.err = err
	s.outcome = OutcomeFailed
	s.record(s.state, StateFailed, err.Error())
	s.deps.Metrics.DeployOutcome(string(OutcomeFailed))
	s.logger().Warn("deploy failed", zap.String("kind", faults.KindOf(err).String()), zap.Error(err))
	return err
}

// record must be called with s.mu held.
func (s *Session) record(from, to State, reason string) {
	s.state = to
	s.history = append(s.history, Transition{From: from, To: to, Reason: reason})
	s.deps.Metrics.DeployTransition(string(from), string(to))
}

func (s *Session) logger() *zap.Logger {
	l := s.deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	flowID := ""
	if s.req.Flow != nil {
		flowID = s.req.Flow.ID
	}
	return l.With(zap.String("session", s.ID), zap.String("flow", flowID), zap.String("side", string(s.req.Side)))
}

// View is a point-in-time, serializable copy of a session.
type View struct {
	ID         string           `json:"id"`
	FlowID     string           `json:"flow_id"`
	FlowName   string           `json:"flow_name"`
	Side       models.Side      `json:"side"`
	InstanceID string           `json:"instance_id,omitempty"`
	Path       string           `json:"path,omitempty"`
	Version    string           `json:"version"`
	State      State            `json:"state"`
	Outcome    Outcome          `json:"outcome,omitempty"`
	Decision   Decision         `json:"decision,omitempty"`
	Conflict   *ConflictContext `json:"conflict,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	History    []Transition     `json:"history"`
	CreatedAt  time.Time        `json:"created_at"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:        s.ID,
		Side:      s.req.Side,
		Version:   s.req.Ref.Version,
		State:     s.state,
		Outcome:   s.outcome,
		Decision:  s.decision,
		History:   append([]Transition(nil), s.history...),
		CreatedAt: s.CreatedAt,
		Path:      s.target.Path,
	}
	if s.req.Flow != nil {
		v.FlowID, v.FlowName = s.req.Flow.ID, s.req.Flow.Name
	}
	if s.target.Instance != nil {
		v.InstanceID = s.target.Instance.ID
	} else {
		v.InstanceID = s.req.InstanceID
	}
	if s.conflict != nil {
		cc := *s.conflict
		v.Conflict = &cc
	}
	if s.err != nil {
		v.Error = s.err.Error()
		if !errors.Is(s.err, ErrCancelled) {
			v.ErrorKind = faults.KindOf(s.err).String()
		}
	}
	return v
}
