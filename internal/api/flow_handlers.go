package api

import (
	"net/http"

	"github.com/rflorenc/flowdeck/internal/faults"
	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
	"github.com/rflorenc/flowdeck/internal/settings"
)

func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.Settings.ListFlows(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if flows == nil {
		flows = []*models.LogicalFlow{}
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	attrs, err := s.Settings.FetchHierarchyDefinition(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attributes": attrs,
		"valid":      models.ValidateHierarchy(attrs) == nil,
	})
}

type resolveRequest struct {
	FlowID     string `json:"flow_id"`
	Side       string `json:"side"`
	InstanceID string `json:"instance_id,omitempty"`
	// Lookup also checks the instance's live topology for the path.
	Lookup bool `json:"lookup,omitempty"`
}

type resolveResponse struct {
	FlowID       string      `json:"flow_id"`
	Side         models.Side `json:"side"`
	InstanceID   string      `json:"instance_id"`
	InstanceName string      `json:"instance_name"`
	Path         string      `json:"path"`
	UnitID       string      `json:"unit_id,omitempty"`
	Deployed     *bool       `json:"deployed,omitempty"`
}

// ResolvePath computes where a flow side is expected to be deployed.
func (s *Server) ResolvePath(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flow, err := settings.FindFlow(r.Context(), s.Settings, req.FlowID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	target, err := s.locator().Locate(r.Context(), flow, side)
	if err != nil {
		writeFault(w, err)
		return
	}
	if req.InstanceID != "" && req.InstanceID != target.Instance.ID {
		writeFault(w, faults.Unresolved("resolve", "flow %s %s belongs to instance %s, not %s",
			flow.ID, side, target.Instance.ID, req.InstanceID))
		return
	}

	resp := resolveResponse{
		FlowID:       flow.ID,
		Side:         side,
		InstanceID:   target.Instance.ID,
		InstanceName: target.Instance.Name,
		Path:         target.Path,
	}
	if req.Lookup {
		units, err := s.Platforms.FetchTopology(r.Context(), target.Instance.ID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		id, ok := placement.NewPathTable(units).Lookup(target.Path)
		resp.UnitID = id
		resp.Deployed = &ok
	}
	writeJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	Snapshot *models.StatusSnapshot `json:"snapshot"`
	Deployed *bool                  `json:"deployed"`
}

// ClassifyStatus runs the health rules on a caller-supplied snapshot.
func (s *Server) ClassifyStatus(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	deployed := req.Deployed == nil || *req.Deployed
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":   health.Classify(req.Snapshot, deployed),
		"reasons": health.Reasons(req.Snapshot, deployed),
	})
}

// writeFault maps classified errors onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch faults.KindOf(err) {
	case faults.KindUnresolvedPath:
		status = http.StatusUnprocessableEntity
	case faults.KindNotFound:
		status = http.StatusNotFound
	case faults.KindVersionConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  faults.KindOf(err).String(),
	})
}
