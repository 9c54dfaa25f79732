package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rflorenc/flowdeck/internal/faults"
	"github.com/rflorenc/flowdeck/internal/metrics"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
	"github.com/rflorenc/flowdeck/internal/version"
)

type call struct {
	op, instance, arg string
}

type fakePusher struct {
	mu        sync.Mutex
	calls     []call
	results   []PushResult
	pushErr   error
	deleteErr error
	updateErr error
}

func (p *fakePusher) PushFlowVersion(ctx context.Context, instanceID, path string, ref models.FlowRef) (PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{"push", instanceID, path + "@" + ref.Version})
	if p.pushErr != nil {
		return PushResult{}, p.pushErr
	}
	if len(p.results) == 0 {
		return PushResult{Status: PushCreated}, nil
	}
	r := p.results[0]
	p.results = p.results[1:]
	return r, nil
}

func (p *fakePusher) DeleteProcessingUnit(ctx context.Context, instanceID, unitID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{"delete", instanceID, unitID})
	return p.deleteErr
}

func (p *fakePusher) UpdateProcessingUnitVersion(ctx context.Context, instanceID, unitID, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{"update", instanceID, unitID + "@" + v})
	return p.updateErr
}

func (p *fakePusher) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		out = append(out, c.op)
	}
	return out
}

type fixedLocator struct {
	target placement.Target
	err    error
}

func (l *fixedLocator) Locate(ctx context.Context, flow *models.LogicalFlow, side models.Side) (placement.Target, error) {
	return l.target, l.err
}

var east = &models.ManagedInstance{ID: "east", Name: "east"}

func newTestSession(t *testing.T, p *fakePusher, loc Locator) *Session {
	t.Helper()
	if loc == nil {
		loc = &fixedLocator{target: placement.Target{Instance: east, Side: models.SideSource, Path: "flows/base/prod"}}
	}
	return NewSession(Request{
		Flow: &models.LogicalFlow{ID: "orders", Name: "orders", SourceTemplateRef: "tmpl-orders", SourceConnectionParam: "ctx-orders-src"},
		Side: models.SideSource,
		Ref:  models.FlowRef{Version: "4"},
	}, Deps{Pusher: p, Locator: loc, Metrics: metrics.NewMetrics(), Logger: zaptest.NewLogger(t)})
}

func conflictAt(existing string) PushResult {
	return PushResult{Status: PushConflict, UnitID: "pg-1", ExistingVersion: existing}
}

func TestSession_CleanPush(t *testing.T) {
	p := &fakePusher{}
	s := newTestSession(t, p, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, OutcomeCreated, s.View().Outcome)
	assert.Equal(t, "tmpl-orders", s.req.Ref.FlowID)
	assert.Equal(t, "ctx-orders-src", s.req.Ref.ParameterContextID)
	assert.Equal(t, []string{"push"}, p.ops())
}

func TestSession_SameVersionIsDone(t *testing.T) {
	p := &fakePusher{results: []PushResult{conflictAt("4.0.0")}}
	s := newTestSession(t, p, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, OutcomeUnchanged, s.View().Outcome)
}

func TestSession_UnresolvedPathFailsBeforeNetwork(t *testing.T) {
	p := &fakePusher{}
	s := newTestSession(t, p, &fixedLocator{err: faults.Unresolved("locate", "no Region value")})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsUnresolved(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, p.ops())

	v := s.View()
	require.Len(t, v.History, 2)
	assert.Equal(t, StateDeploying, v.History[1].From)
	assert.Contains(t, v.History[1].Reason, "unresolved path")
}

func TestSession_InstanceMismatchFails(t *testing.T) {
	p := &fakePusher{}
	s := newTestSession(t, p, nil)
	s.req.InstanceID = "west"

	err := s.Start(context.Background())
	assert.True(t, faults.IsUnresolved(err))
	assert.Empty(t, p.ops())
}

func TestSession_ConflictDetected(t *testing.T) {
	p := &fakePusher{results: []PushResult{conflictAt("3")}}
	s := newTestSession(t, p, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateConflictDetected, s.State())

	cc, ok := s.Conflict()
	require.True(t, ok)
	assert.Equal(t, "3", cc.ExistingVersion)
	assert.Equal(t, "4", cc.IncomingVersion)
	assert.Equal(t, "flows/base/prod", cc.Path)
	assert.Equal(t, "pg-1", cc.UnitID)
	assert.Equal(t, version.DirectionUpgrade, cc.Direction)
}

func TestSession_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		pusher   *fakePusher
		state    State
		outcome  Outcome
		ops      []string
		errIs    error
	}{
		{
			name: "skip leaves instance alone", decision: DecisionSkip,
			pusher: &fakePusher{results: []PushResult{conflictAt("3")}},
			state:  StateDone, outcome: OutcomeSkipped, ops: []string{"push"},
		},
		{
			name: "delete then fresh push", decision: DecisionDelete,
			pusher: &fakePusher{results: []PushResult{conflictAt("3"), {Status: PushCreated}}},
			state:  StateDone, outcome: OutcomeReplaced, ops: []string{"push", "delete", "push"},
		},
		{
			name: "update version", decision: DecisionUpdateVersion,
			pusher: &fakePusher{results: []PushResult{conflictAt("3")}},
			state:  StateDone, outcome: OutcomeUpdated, ops: []string{"push", "update"},
		},
		{
			name: "delete error fails", decision: DecisionDelete,
			pusher: &fakePusher{results: []PushResult{conflictAt("3")}, deleteErr: errors.New("HTTP 403: insufficient permissions")},
			state:  StateFailed, outcome: OutcomeFailed, ops: []string{"push", "delete"}, errIs: faults.ErrFatalDeploy,
		},
		{
			name: "stale version after delete fails", decision: DecisionDelete,
			pusher: &fakePusher{results: []PushResult{conflictAt("3"), conflictAt("3")}},
			state:  StateFailed, outcome: OutcomeFailed, ops: []string{"push", "delete", "push"}, errIs: faults.ErrVersionConflict,
		},
		{
			name: "update error fails", decision: DecisionUpdateVersion,
			pusher: &fakePusher{results: []PushResult{conflictAt("3")}, updateErr: errors.New("connection reset")},
			state:  StateFailed, outcome: OutcomeFailed, ops: []string{"push", "update"}, errIs: faults.ErrFatalDeploy,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSession(t, tc.pusher, nil)
			require.NoError(t, s.Start(context.Background()))
			require.Equal(t, StateConflictDetected, s.State())

			err := s.Resolve(context.Background(), tc.decision)
			if tc.errIs != nil {
				assert.ErrorIs(t, err, tc.errIs)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.state, s.State())
			v := s.View()
			assert.Equal(t, tc.outcome, v.Outcome)
			assert.Equal(t, tc.decision, v.Decision)
			assert.Equal(t, tc.ops, tc.pusher.ops())
		})
	}
}

func TestSession_FailurePassesMessageThrough(t *testing.T) {
	p := &fakePusher{results: []PushResult{conflictAt("3")}, updateErr: errors.New("HTTP 409: revision mismatch")}
	s := newTestSession(t, p, nil)
	require.NoError(t, s.Start(context.Background()))

	err := s.Resolve(context.Background(), DecisionUpdateVersion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409: revision mismatch")
	assert.Contains(t, s.View().Error, "HTTP 409: revision mismatch")
	assert.Equal(t, "fatal_deploy", s.View().ErrorKind)
}

func TestSession_SecondDecisionRejected(t *testing.T) {
	p := &fakePusher{results: []PushResult{conflictAt("3")}}
	s := newTestSession(t, p, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Resolve(context.Background(), DecisionSkip))
	err := s.Resolve(context.Background(), DecisionDelete)
	assert.ErrorIs(t, err, ErrDecisionRejected)
	assert.Equal(t, OutcomeSkipped, s.View().Outcome)
	assert.Equal(t, []string{"push"}, p.ops())
}

func TestSession_ConcurrentDecisionsOnlyOneWins(t *testing.T) {
	p := &fakePusher{results: []PushResult{conflictAt("3")}}
	s := newTestSession(t, p, nil)
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, d := range []Decision{DecisionSkip, DecisionDelete, DecisionUpdateVersion} {
		wg.Add(1)
		go func(i int, d Decision) {
			defer wg.Done()
			errs[i] = s.Resolve(context.Background(), d)
		}(i, d)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrDecisionRejected)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestSession_ResolveWithoutConflictRejected(t *testing.T) {
	s := newTestSession(t, &fakePusher{}, nil)
	assert.ErrorIs(t, s.Resolve(context.Background(), DecisionSkip), ErrDecisionRejected)
	assert.ErrorIs(t, s.Resolve(context.Background(), Decision("merge")), ErrUnknownDecision)
}

func TestSession_StartTwice(t *testing.T) {
	s := newTestSession(t, &fakePusher{}, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidTransition)
}

func TestSession_Cancel(t *testing.T) {
	p := &fakePusher{results: []PushResult{conflictAt("3")}}
	s := newTestSession(t, p, nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Cancel())
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), ErrCancelled)
	assert.Equal(t, OutcomeCancelled, s.View().Outcome)
	assert.ErrorIs(t, s.Resolve(context.Background(), DecisionSkip), ErrDecisionRejected)

	// cannot cancel a finished session
	assert.ErrorIs(t, s.Cancel(), ErrInvalidTransition)
	assert.Equal(t, []string{"push"}, p.ops())
}

func TestSession_PushErrorFails(t *testing.T) {
	p := &fakePusher{pushErr: errors.New("HTTP 500: boom")}
	s := newTestSession(t, p, nil)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, faults.ErrFatalDeploy)
	assert.Contains(t, err.Error(), "HTTP 500: boom")
	assert.Equal(t, StateFailed, s.State())
}
