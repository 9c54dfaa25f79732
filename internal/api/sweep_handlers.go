package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/settings"
)

// SweepStore holds sweep results by job ID until they are fetched.
type SweepStore struct {
	mu      sync.RWMutex
	results map[string]*health.Result
}

func NewSweepStore() *SweepStore {
	return &SweepStore{results: make(map[string]*health.Result)}
}

func (ss *SweepStore) Store(jobID string, res *health.Result) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.results[jobID] = res
}

func (ss *SweepStore) Get(jobID string) *health.Result {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.results[jobID]
}

type sweepRequest struct {
	// FlowIDs restricts the sweep; empty means every flow.
	FlowIDs []string `json:"flow_ids,omitempty"`
}

// RunSweep starts an async health sweep of one instance.
func (s *Server) RunSweep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst := s.Instances.Get(id)
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	var req sweepRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	flows, err := s.Settings.ListFlows(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	flows, err = settings.SelectFlows(flows, req.FlowIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.Jobs.Create("health-sweep", id)

	go func() {
		job.AppendLog(fmt.Sprintf("Sweeping %s (%s): %d flows", inst.Name, inst.URL(), len(flows)))
		res, err := s.Sweeper.Sweep(job.Context(), id, flows, job.AppendLog)
		if res != nil {
			s.Sweeps.Store(job.ID, res)
		}
		if err != nil {
			job.AppendLog("ERROR: " + err.Error())
			job.Fail(err.Error())
			return
		}
		job.Complete()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type sweepResponse struct {
	Status     string                        `json:"status"`
	Error      string                        `json:"error,omitempty"`
	InstanceID string                        `json:"instance_id"`
	Entries    []health.Entry                `json:"entries"`
	Flows      map[string]models.HealthState `json:"flows"`
}

// GetSweepResult returns the status map of a finished sweep. A cancelled or
// failed sweep still returns whatever entries were completed.
func (s *Server) GetSweepResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job := s.Jobs.Get(jobID)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	status, errMsg := job.State()
	if status == models.JobRunning {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "running",
			"message": "sweep is still in progress",
		})
		return
	}

	resp := sweepResponse{Status: status, Error: errMsg, InstanceID: job.InstanceID, Entries: []health.Entry{}}
	if res := s.Sweeps.Get(jobID); res != nil {
		resp.Entries = res.Ordered()
		resp.Flows = res.FlowStates()
	}
	writeJSON(w, http.StatusOK, resp)
}
