package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/platform"
	"github.com/rflorenc/flowdeck/internal/settings"
)

// stubPlatform is an in-memory instance with one unit at flows/src/plant1.
type stubPlatform struct {
	mu      sync.Mutex
	push    deploy.PushResult
	updates []string
}

func (p *stubPlatform) About(ctx context.Context) (*platform.AboutResponse, error) {
	return &platform.AboutResponse{Title: "NiFi", Version: "1.23.2"}, nil
}

func (p *stubPlatform) FetchTopology(ctx context.Context) ([]models.ProcessingUnit, error) {
	return []models.ProcessingUnit{{ID: "u1", Path: "flows/src/plant1", Name: "plant1", Version: "3"}}, nil
}

func (p *stubPlatform) FetchStatus(ctx context.Context, unitID string) (*models.StatusSnapshot, error) {
	return &models.StatusSnapshot{Running: models.CountOf(4), Stopped: models.CountOf(1)}, nil
}

func (p *stubPlatform) PushFlowVersion(ctx context.Context, path string, ref models.FlowRef) (deploy.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.push, nil
}

func (p *stubPlatform) DeleteProcessingUnit(ctx context.Context, unitID string) error {
	return nil
}

func (p *stubPlatform) UpdateProcessingUnitVersion(ctx context.Context, unitID, version string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, unitID+"@"+version)
	return nil
}

type testEnv struct {
	srv      *httptest.Server
	platform *stubPlatform
	server   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	instances := models.NewInstanceStore()
	instances.Create(&models.ManagedInstance{
		ID:                 "east",
		Name:               "east",
		HierarchyAttribute: "region",
		HierarchyValue:     "east",
		BaseURL:            "http://east:8080",
		Username:           "admin",
		Password:           "s3cret",
	})

	provider := settings.NewStatic(
		map[string]models.DeploymentPaths{"east": {SourcePath: "/flows/src", DestPath: "/flows/dst"}},
		[]models.HierarchyAttribute{{Name: "region", Order: 0}, {Name: "site", Order: 1}},
		[]*models.LogicalFlow{{
			ID:   "orders",
			Name: "orders",
			HierarchyValues: map[string]models.SideValues{
				"region": {Source: "east"},
				"site":   {Source: "plant1", Destination: "plant9"},
			},
		}},
	)

	stub := &stubPlatform{push: deploy.PushResult{Status: deploy.PushCreated}}
	platforms := platform.NewRegistry(instances, time.Second)
	platforms.New = func(*models.ManagedInstance, time.Duration) platform.Platform { return stub }

	s := &Server{
		Instances: instances,
		Platforms: platforms,
		Settings:  provider,
		Sweeper: &health.Coordinator{
			Catalog:  instances,
			Settings: provider,
			Topology: platforms,
			Status:   platforms,
			Logger:   log,
		},
		Deploys: deploy.NewRegistry(),
		Jobs:    models.NewJobStore(),
		Sweeps:  NewSweepStore(),
		Logger:  log,
	}
	srv := httptest.NewServer(NewRouter(s))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, platform: stub, server: s}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestResolvePath(t *testing.T) {
	env := newTestEnv(t)

	var got resolveResponse
	code := env.do(t, "POST", "/api/resolve-path", map[string]interface{}{
		"flow_id": "orders", "side": "source", "lookup": true,
	}, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "east", got.InstanceID)
	assert.Equal(t, "flows/src/plant1", got.Path)
	assert.Equal(t, "u1", got.UnitID)
	require.NotNil(t, got.Deployed)
	assert.True(t, *got.Deployed)
}

func TestResolvePath_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]interface{}
		code int
		kind string
	}{
		{"no top value", map[string]interface{}{"flow_id": "orders", "side": "destination"}, http.StatusUnprocessableEntity, "unresolved_path"},
		{"wrong instance", map[string]interface{}{"flow_id": "orders", "side": "source", "instance_id": "west"}, http.StatusUnprocessableEntity, "unresolved_path"},
		{"bad side", map[string]interface{}{"flow_id": "orders", "side": "middle"}, http.StatusBadRequest, ""},
		{"unknown flow", map[string]interface{}{"flow_id": "nope", "side": "source"}, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			code := env.do(t, "POST", "/api/resolve-path", tt.body, &body)
			assert.Equal(t, tt.code, code)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	env := newTestEnv(t)

	var got struct {
		State   models.HealthState `json:"state"`
		Reasons []string           `json:"reasons"`
	}
	code := env.do(t, "POST", "/api/classify", map[string]interface{}{
		"snapshot": map[string]interface{}{"running": 3, "disabled": 1},
	}, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.HealthWarning, got.State)
	assert.Equal(t, []string{"1 disabled"}, got.Reasons)

	code = env.do(t, "POST", "/api/classify", map[string]interface{}{"deployed": false}, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.HealthUnhealthy, got.State)
}

func TestInstances_PasswordMasked(t *testing.T) {
	env := newTestEnv(t)

	var list []models.ManagedInstance
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/instances", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "••••••••", list[0].Password)

	// echoing the mask back keeps the stored secret
	update := list[0]
	update.BaseURL = "http://east:9090"
	var updated models.ManagedInstance
	require.Equal(t, http.StatusOK, env.do(t, "PUT", "/api/instances/east", update, &updated))
	assert.Equal(t, "s3cret", env.server.Instances.Get("east").Password)
	assert.Equal(t, "http://east:9090", env.server.Instances.Get("east").BaseURL)

	var created models.ManagedInstance
	code := env.do(t, "POST", "/api/instances", map[string]interface{}{
		"id": "west", "hierarchy_attribute": "region", "hierarchy_value": "west", "base_url": "http://west",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "west", created.Name)

	code = env.do(t, "POST", "/api/instances", map[string]interface{}{"id": "west", "base_url": "http://x"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/api/instances/west", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/api/instances/west", nil, nil))
}

func TestTestInstance(t *testing.T) {
	env := newTestEnv(t)

	var got map[string]interface{}
	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/instances/east/test", nil, &got))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "1.23.2", got["version"])
}

func TestDeployment_ConflictResolvedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.platform.push = deploy.PushResult{Status: deploy.PushConflict, UnitID: "u1", ExistingVersion: "3"}

	var created struct {
		JobID       string   `json:"job_id"`
		Deployments []string `json:"deployments"`
	}
	code := env.do(t, "POST", "/api/deployments", map[string]interface{}{
		"items": []map[string]string{{"flow_id": "orders", "side": "source", "version": "4"}},
	}, &created)
	require.Equal(t, http.StatusAccepted, code)
	require.Len(t, created.Deployments, 1)
	id := created.Deployments[0]

	var view deploy.View
	require.Eventually(t, func() bool {
		env.do(t, "GET", "/api/deployments/"+id, nil, &view)
		return view.State == deploy.StateConflictDetected
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, view.Conflict)
	assert.Equal(t, "3", view.Conflict.ExistingVersion)

	code = env.do(t, "POST", "/api/deployments/"+id+"/resolve", map[string]string{"decision": "update_version"}, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, deploy.StateDone, view.State)
	assert.Equal(t, deploy.OutcomeUpdated, view.Outcome)
	assert.Equal(t, []string{"u1@4"}, env.platform.updates)

	code = env.do(t, "POST", "/api/deployments/"+id+"/resolve", map[string]string{"decision": "skip"}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = env.do(t, "POST", "/api/deployments/"+id+"/resolve", map[string]string{"decision": "merge"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var pruned map[string]int
	require.Equal(t, http.StatusOK, env.do(t, "DELETE", "/api/deployments", nil, &pruned))
	assert.Equal(t, 1, pruned["removed"])
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/deployments/"+id, nil, nil))
}

func TestRunSessions_CancelledBeforeStartIsNotFailure(t *testing.T) {
	env := newTestEnv(t)
	flow, err := settings.FindFlow(context.Background(), env.server.Settings, "orders")
	require.NoError(t, err)

	req := deploy.Request{Flow: flow, Side: models.SideSource, Ref: models.FlowRef{Version: "4"}}
	cancelled := deploy.NewSession(req, env.server.deployDeps())
	kept := deploy.NewSession(req, env.server.deployDeps())
	require.NoError(t, cancelled.Cancel())

	job := env.server.Jobs.Create("deploy-batch", "")
	env.server.runSessions(job, []*deploy.Session{cancelled, kept})

	status, msg := job.State()
	assert.Equal(t, models.JobCompleted, status, msg)
	logs := strings.Join(job.LogsSince(0), "\n")
	assert.Contains(t, logs, "CANCELLED: orders/source")
	assert.NotContains(t, logs, "FAIL")
	assert.Equal(t, deploy.OutcomeCancelled, cancelled.View().Outcome)
	assert.Equal(t, deploy.StateDone, kept.State())
}

func TestDeployment_Validation(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/deployments", map[string]interface{}{"items": []interface{}{}}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/deployments", map[string]interface{}{
		"items": []map[string]string{{"flow_id": "orders", "side": "source"}},
	}, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/deployments", map[string]interface{}{
		"items": []map[string]string{{"flow_id": "nope", "side": "source", "version": "1"}},
	}, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/deployments/missing", nil, nil))
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)

	var started map[string]string
	require.Equal(t, http.StatusAccepted, env.do(t, "POST", "/api/instances/east/sweep", nil, &started))
	jobID := started["job_id"]
	require.NotEmpty(t, jobID)

	var got sweepResponse
	require.Eventually(t, func() bool {
		return env.do(t, "GET", "/api/sweeps/"+jobID, nil, &got) == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.JobCompleted, got.Status)
	require.Len(t, got.Entries, 2)
	src, dst := got.Entries[0], got.Entries[1]
	assert.Equal(t, models.SideSource, src.Side)
	assert.Equal(t, health.OutcomeResolved, src.Outcome)
	assert.Equal(t, models.HealthUnhealthy, src.State, "one stopped component")
	assert.Equal(t, health.OutcomeUnresolved, dst.Outcome)
	assert.Equal(t, models.HealthUnhealthy, got.Flows["orders"])
}

func TestSweep_UnknownFlowFilter(t *testing.T) {
	env := newTestEnv(t)

	code := env.do(t, "POST", "/api/instances/east/sweep", map[string]interface{}{"flow_ids": []string{"nope"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/instances/west/sweep", nil, nil))
}

func TestCancelJob_NotRunning(t *testing.T) {
	env := newTestEnv(t)
	job := env.server.Jobs.Create("health-sweep", "east")
	job.Complete()

	assert.Equal(t, http.StatusConflict, env.do(t, "POST", "/api/jobs/"+job.ID+"/cancel", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/jobs/missing/cancel", nil, nil))
}

func TestStreamJobLogs(t *testing.T) {
	env := newTestEnv(t)
	job := env.server.Jobs.Create("health-sweep", "east")
	job.AppendLog("Sweeping east")
	job.AppendLog("  orders/source: healthy (resolved)")
	job.Complete()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/jobs/" + job.ID + "/logs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var lines []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
			assert.Equal(t, models.JobCompleted, ce.Text)
			break
		}
		lines = append(lines, string(msg))
	}
	assert.Equal(t, []string{"Sweeping east", "  orders/source: healthy (resolved)"}, lines)
}
