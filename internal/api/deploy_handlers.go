package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/logging"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/settings"
)

func (s *Server) locator() deploy.Locator {
	return &deploy.SettingsLocator{Catalog: s.Instances, Settings: s.Settings}
}

func (s *Server) deployDeps() deploy.Deps {
	return deploy.Deps{
		Pusher:  s.Platforms,
		Locator: s.locator(),
		Metrics: s.Metrics,
		Logger:  s.logger(),
	}
}

type deployItem struct {
	FlowID     string `json:"flow_id"`
	Side       string `json:"side"`
	InstanceID string `json:"instance_id,omitempty"`
	Version    string `json:"version"`
	RegistryID string `json:"registry_id,omitempty"`
	BucketID   string `json:"bucket_id,omitempty"`
}

type deployRequest struct {
	Items []deployItem `json:"items"`
}

// CreateDeployments starts one session per item. Sessions run one after
// another in a background job; a conflicted session waits in the registry
// for its own decision while the job moves on to the next item.
func (s *Server) CreateDeployments(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items is required")
		return
	}

	reqs := make([]deploy.Request, 0, len(req.Items))
	for i, it := range req.Items {
		side, err := models.ParseSide(it.Side)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: %v", i, err))
			return
		}
		if it.Version == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: version is required", i))
			return
		}
		flow, err := settings.FindFlow(r.Context(), s.Settings, it.FlowID)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("items[%d]: %v", i, err))
			return
		}
		reqs = append(reqs, deploy.Request{
			Flow:       flow,
			Side:       side,
			InstanceID: it.InstanceID,
			Ref: models.FlowRef{
				RegistryID: it.RegistryID,
				BucketID:   it.BucketID,
				Version:    it.Version,
			},
		})
	}

	job := s.Jobs.Create("deploy-batch", "")
	deps := s.deployDeps()
	deps.Logger = logging.JobSink(deps.Logger, job.AppendLog)

	sessions := make([]*deploy.Session, 0, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, dr := range reqs {
		sess := deploy.NewSession(dr, deps)
		s.Deploys.Add(sess)
		sessions = append(sessions, sess)
		ids = append(ids, sess.ID)
	}

	go s.runSessions(job, sessions)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":      job.ID,
		"deployments": ids,
	})
}

func (s *Server) ListDeployments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Deploys.List())
}

// PruneDeployments forgets every finished session.
func (s *Server) PruneDeployments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.Deploys.Prune()})
}

func (s *Server) GetDeployment(w http.ResponseWriter, r *http.Request) {
	sess := s.Deploys.Get(chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// ResolveDeployment applies the caller's decision to a conflicted session.
func (s *Server) ResolveDeployment(w http.ResponseWriter, r *http.Request) {
	sess := s.Deploys.Get(chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	var req struct {
		Decision string `json:"decision"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := deploy.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// a dropped client must not abort a delete or update halfway
	if err := sess.Resolve(context.WithoutCancel(r.Context()), d); errors.Is(err, deploy.ErrDecisionRejected) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	// failures are reported in the view
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	sess := s.Deploys.Get(chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	if err := sess.Cancel(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// runSessions starts each session in order. A session cancelled before its
// turn is logged and skipped; only start errors count as failures.
func (s *Server) runSessions(job *models.Job, sessions []*deploy.Session) {
	ctx := job.Context()
	failed := 0
	for _, sess := range sessions {
		v := sess.View()
		name := v.FlowName + "/" + string(v.Side)
		if sess.State().Terminal() {
			job.AppendLog("  CANCELLED: " + name)
			continue
		}
		if ctx.Err() != nil {
			_ = sess.Cancel()
			job.AppendLog("  CANCELLED: " + name)
			continue
		}
		if err := sess.Start(ctx); err != nil {
			failed++
			job.AppendLog(fmt.Sprintf("  FAIL: %s: %v", name, err))
			continue
		}
		if cc, ok := sess.Conflict(); ok {
			job.AppendLog(fmt.Sprintf("  CONFLICT: %s: existing %s, incoming %s (session %s awaits a decision)",
				name, cc.ExistingVersion, cc.IncomingVersion, sess.ID))
			continue
		}
		job.AppendLog(fmt.Sprintf("  %s: %s", sess.View().Outcome, name))
	}
	if failed > 0 {
		job.Fail(fmt.Sprintf("%d of %d deployments failed", failed, len(sessions)))
		return
	}
	job.Complete()
}
