package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
	"github.com/rflorenc/flowdeck/internal/platform"
)

// masked returns a copy safe to send to clients.
func masked(m *models.ManagedInstance) models.ManagedInstance {
	view := *m
	view.Password = m.MaskedPassword()
	return view
}

func (s *Server) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var inst models.ManagedInstance
	if !decodeJSON(w, r, &inst) {
		return
	}
	if inst.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "base_url is required")
		return
	}
	if inst.HierarchyAttribute == "" || inst.HierarchyValue == "" {
		writeError(w, http.StatusBadRequest, "hierarchy_attribute and hierarchy_value are required")
		return
	}
	if s.Instances.Get(inst.ID) != nil {
		writeError(w, http.StatusConflict, "instance already exists")
		return
	}
	if inst.Name == "" {
		inst.Name = inst.HierarchyValue
	}
	s.Instances.Create(&inst)
	writeJSON(w, http.StatusCreated, masked(&inst))
}

func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	list := s.Instances.ListAll()
	out := make([]models.ManagedInstance, 0, len(list))
	for _, m := range list {
		out = append(out, masked(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var inst models.ManagedInstance
	if !decodeJSON(w, r, &inst) {
		return
	}
	inst.ID = id
	if prev := s.Instances.Get(id); prev != nil && inst.Password == prev.MaskedPassword() {
		// the client echoed the mask back; keep the stored secret
		inst.Password = prev.Password
	}
	if !s.Instances.Update(&inst) {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.Platforms.Forget(id)
	writeJSON(w, http.StatusOK, masked(&inst))
}

func (s *Server) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Instances.Delete(id) {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.Platforms.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) TestInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst := s.Instances.Get(id)
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	p, err := s.Platforms.For(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := platform.CheckInstance(r.Context(), p, inst, s.Instances, s.logger()); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	got := s.Instances.Get(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          got.PingStatus == platform.PingOK,
		"ping_status": got.PingStatus,
		"version":     got.Version,
		"error":       got.PingError,
	})
}

// GetTopology lists the instance's processing units, flagging paths held by
// more than one unit since those never resolve.
func (s *Server) GetTopology(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.Instances.Get(id) == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	units, err := s.Platforms.FetchTopology(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	// Ensure we return [] not null for empty results
	if units == nil {
		units = []models.ProcessingUnit{}
	}
	table := placement.NewPathTable(units)
	var ambiguous []string
	seen := map[string]bool{}
	for _, u := range units {
		if table.Ambiguous(u.Path) && !seen[u.Path] {
			ambiguous = append(ambiguous, u.Path)
			seen[u.Path] = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"units":     units,
		"ambiguous": ambiguous,
	})
}
