package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/rflorenc/flowdeck/internal/metrics"
	"github.com/rflorenc/flowdeck/internal/models"
)

type staticSettings struct {
	settings *models.DeploymentSettings
	attrs    []models.HierarchyAttribute
	err      error
}

func (s *staticSettings) FetchDeploymentSettings(ctx context.Context) (*models.DeploymentSettings, error) {
	return s.settings, s.err
}

func (s *staticSettings) FetchHierarchyDefinition(ctx context.Context) ([]models.HierarchyAttribute, error) {
	return s.attrs, s.err
}

type fakeInstance struct {
	mu        sync.Mutex
	units     []models.ProcessingUnit
	status    map[string]*models.StatusSnapshot
	failUnits map[string]bool
	calls     []string
	inFlight  int32
	overlap   bool
	topoErr   error
	onFetch   func()
}

func (f *fakeInstance) FetchTopology(ctx context.Context, instanceID string) ([]models.ProcessingUnit, error) {
	return f.units, f.topoErr
}

func (f *fakeInstance) FetchStatus(ctx context.Context, instanceID, unitID string) (*models.StatusSnapshot, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.overlap = true
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.calls = append(f.calls, unitID)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.failUnits[unitID] {
		return nil, errors.New("HTTP 404")
	}
	return f.status[unitID], nil
}

type mapCatalog map[string]*models.ManagedInstance

func (c mapCatalog) FindInstance(attr, value string) (*models.ManagedInstance, bool) {
	m, ok := c[attr+"="+value]
	return m, ok
}

func fixture() (*Coordinator, *fakeInstance, []*models.LogicalFlow) {
	east := &models.ManagedInstance{ID: "east", Name: "east"}
	west := &models.ManagedInstance{ID: "west", Name: "west"}
	inst := &fakeInstance{
		units: []models.ProcessingUnit{
			{ID: "pg-orders-src", Path: "flows/src/prod"},
			{ID: "pg-orders-dst", Path: "flows/dst/staging"},
			{ID: "pg-billing-src", Path: "flows/src"},
		},
		status: map[string]*models.StatusSnapshot{
			"pg-orders-src":  {Stopped: models.CountOf(0), Queued: models.CountOf(0)},
			"pg-orders-dst":  {Stopped: models.CountOf(2)},
			"pg-billing-src": {Disabled: models.CountOf(1)},
		},
	}
	c := &Coordinator{
		Catalog: mapCatalog{"Region=us-east": east, "Region=us-west": west},
		Settings: &staticSettings{
			settings: &models.DeploymentSettings{Paths: map[string]models.DeploymentPaths{
				"east": {SourcePath: "/flows/src", DestPath: "/flows/dst"},
			}},
			attrs: []models.HierarchyAttribute{{Name: "Env", Order: 1}, {Name: "Region", Order: 0}},
		},
		Topology: inst,
		Status:   inst,
		Metrics:  metrics.NewMetrics(),
	}
	flows := []*models.LogicalFlow{
		{ID: "orders", Name: "orders", HierarchyValues: map[string]models.SideValues{
			"Region": {Source: "us-east", Destination: "us-east"},
			"Env":    {Source: "prod", Destination: "staging"},
		}},
		{ID: "billing", Name: "billing", HierarchyValues: map[string]models.SideValues{
			"Region": {Source: "us-east", Destination: ""},
		}},
		{ID: "ghost", Name: "ghost", HierarchyValues: map[string]models.SideValues{
			"Region": {Source: "us-east", Destination: "us-west"},
			"Env":    {Source: "qa", Destination: "qa"},
		}},
	}
	return c, inst, flows
}

func TestSweep_EntriesAndStates(t *testing.T) {
	c, inst, flows := fixture()
	c.Logger = zaptest.NewLogger(t)

	res, err := c.Sweep(context.Background(), "east", flows, nil)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2*len(flows))

	tests := []struct {
		flow    string
		side    models.Side
		outcome Outcome
		state   models.HealthState
	}{
		{"orders", models.SideSource, OutcomeResolved, models.HealthHealthy},
		{"orders", models.SideDestination, OutcomeResolved, models.HealthUnhealthy},
		{"billing", models.SideSource, OutcomeResolved, models.HealthWarning},
		{"billing", models.SideDestination, OutcomeUnresolved, models.HealthUnhealthy},
		{"ghost", models.SideSource, OutcomeNotFound, models.HealthUnhealthy},
		{"ghost", models.SideDestination, OutcomeUnresolved, models.HealthUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.flow+"/"+string(tc.side), func(t *testing.T) {
			e, ok := res.Get(tc.flow, tc.side)
			require.True(t, ok)
			assert.Equal(t, tc.outcome, e.Outcome)
			assert.Equal(t, tc.state, e.State)
		})
	}

	// only resolvable units were fetched, in flow then side order
	assert.Equal(t, []string{"pg-orders-src", "pg-orders-dst", "pg-billing-src"}, inst.calls)
}

func TestSweep_Sequential(t *testing.T) {
	c, inst, flows := fixture()
	for i := 0; i < 10; i++ {
		f := *flows[0]
		f.ID = fmt.Sprintf("orders-%d", i)
		flows = append(flows, &f)
	}
	_, err := c.Sweep(context.Background(), "east", flows, nil)
	require.NoError(t, err)
	assert.False(t, inst.overlap, "status fetches overlapped")
}

func TestSweep_FetchFailureDegradesOneEntry(t *testing.T) {
	c, inst, flows := fixture()
	inst.failUnits = map[string]bool{"pg-orders-dst": true}

	res, err := c.Sweep(context.Background(), "east", flows, nil)
	require.NoError(t, err)
	require.Len(t, res.Entries, 6)

	e, _ := res.Get("orders", models.SideDestination)
	assert.Equal(t, OutcomeFetchFailed, e.Outcome)
	assert.Equal(t, models.HealthUnhealthy, e.State)
	assert.Contains(t, e.Error, "HTTP 404")

	e, _ = res.Get("billing", models.SideSource)
	assert.Equal(t, models.HealthWarning, e.State)
}

func TestSweep_OtherInstanceNotFetched(t *testing.T) {
	c, inst, _ := fixture()
	c.Settings.(*staticSettings).settings.Paths["west"] = models.DeploymentPaths{SourcePath: "/w", DestPath: "/w"}
	flows := []*models.LogicalFlow{{ID: "x", HierarchyValues: map[string]models.SideValues{
		"Region": {Source: "us-west", Destination: "us-west"},
	}}}

	res, err := c.Sweep(context.Background(), "east", flows, nil)
	require.NoError(t, err)
	for _, e := range res.Ordered() {
		assert.Equal(t, OutcomeOtherInstance, e.Outcome)
		assert.Equal(t, models.HealthUnknown, e.State)
	}
	assert.Empty(t, inst.calls)
}

func TestSweep_SetupFailure(t *testing.T) {
	c, inst, flows := fixture()
	inst.topoErr = errors.New("connection refused")

	_, err := c.Sweep(context.Background(), "east", flows, nil)
	assert.ErrorContains(t, err, "fetching topology")
}

func TestSweep_CancelBetweenSteps(t *testing.T) {
	c, inst, flows := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	inst.onFetch = cancel

	res, err := c.Sweep(ctx, "east", flows, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	// the fetch in progress finished and was recorded; nothing after it ran
	assert.Len(t, res.Entries, 1)
	assert.Equal(t, []string{"pg-orders-src"}, inst.calls)
}

func TestSweep_RateLimited(t *testing.T) {
	c, _, flows := fixture()
	c.Limiter = rate.NewLimiter(rate.Every(5*time.Millisecond), 1)

	start := time.Now()
	_, err := c.Sweep(context.Background(), "east", flows, nil)
	require.NoError(t, err)
	// three fetches with burst 1 wait at least two intervals
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSweep_Progress(t *testing.T) {
	c, _, flows := fixture()
	var lines []string
	_, err := c.Sweep(context.Background(), "east", flows, func(s string) { lines = append(lines, s) })
	require.NoError(t, err)
	assert.Len(t, lines, 1+2*len(flows))
}

func TestResult_FlowStatesAndJSON(t *testing.T) {
	c, _, flows := fixture()
	res, err := c.Sweep(context.Background(), "east", flows, nil)
	require.NoError(t, err)

	states := res.FlowStates()
	assert.Equal(t, models.HealthUnhealthy, states["orders"])
	assert.Equal(t, models.HealthUnhealthy, states["billing"])

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded struct {
		Entries map[Key]Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Entries, 6)
	assert.Equal(t, models.HealthWarning, decoded.Entries[Key{FlowID: "billing", Side: models.SideSource}].State)
}

func TestSweep_RepeatedFlowCheckedOnce(t *testing.T) {
	c, inst, flows := fixture()
	repeated := append([]*models.LogicalFlow{}, flows...)
	repeated = append(repeated, flows[0])

	res, err := c.Sweep(context.Background(), "east", repeated, nil)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2*len(flows))
	assert.Len(t, res.Ordered(), 2*len(flows))
	assert.Equal(t, []string{"pg-orders-src", "pg-orders-dst", "pg-billing-src"}, inst.calls)
}
