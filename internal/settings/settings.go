// Package settings supplies the externally owned inputs of resolution and
// health sweeps: deployment base paths, the hierarchy definition and the
// logical flow catalog. They come either from the config file or from the
// data service that owns them.
package settings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/platform"
)

// Provider is a settings source that can also list flows.
type Provider interface {
	FetchDeploymentSettings(ctx context.Context) (*models.DeploymentSettings, error)
	FetchHierarchyDefinition(ctx context.Context) ([]models.HierarchyAttribute, error)
	ListFlows(ctx context.Context) ([]*models.LogicalFlow, error)
}

// Static serves settings loaded once, typically from the config file.
type Static struct {
	mu        sync.RWMutex
	paths     map[string]models.DeploymentPaths
	hierarchy []models.HierarchyAttribute
	flows     *models.FlowStore
}

// NewStatic creates a provider over fixed values. The inputs are copied.
func NewStatic(paths map[string]models.DeploymentPaths, hierarchy []models.HierarchyAttribute, flows []*models.LogicalFlow) *Static {
	s := &Static{flows: models.NewFlowStore()}
	s.Set(paths, hierarchy)
	s.flows.Replace(flows)
	return s
}

// Set replaces the deployment paths and hierarchy.
func (s *Static) Set(paths map[string]models.DeploymentPaths, hierarchy []models.HierarchyAttribute) {
	cp := make(map[string]models.DeploymentPaths, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = cp
	s.hierarchy = append([]models.HierarchyAttribute(nil), hierarchy...)
}

// FetchDeploymentSettings implements health.SettingsSource.
func (s *Static) FetchDeploymentSettings(ctx context.Context) (*models.DeploymentSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]models.DeploymentPaths, len(s.paths))
	for k, v := range s.paths {
		cp[k] = v
	}
	return &models.DeploymentSettings{Paths: cp}, nil
}

// FetchHierarchyDefinition returns the attributes sorted by order.
func (s *Static) FetchHierarchyDefinition(ctx context.Context) ([]models.HierarchyAttribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAttrs(s.hierarchy), nil
}

// ListFlows returns the flow catalog sorted by ID.
func (s *Static) ListFlows(ctx context.Context) ([]*models.LogicalFlow, error) {
	return s.flows.List(), nil
}

// Remote fetches settings from the data service on every call so sweeps and
// deploys always see the current definition.
//
//	GET {url}/settings/deployment-paths  -> {"paths": {"<instance id>": {"source_path": "...", "dest_path": "..."}}}
//	GET {url}/hierarchy                  -> [{"name": "...", "label": "...", "order": 0}, ...]
//	GET {url}/flows                      -> [LogicalFlow, ...]
type Remote struct {
	client *platform.Client
}

// NewRemote creates a provider for the data service at ep.
func NewRemote(ep platform.Endpoint, timeout time.Duration) *Remote {
	return &Remote{client: platform.NewEndpointClient(ep, timeout)}
}

// FetchDeploymentSettings implements health.SettingsSource.
func (r *Remote) FetchDeploymentSettings(ctx context.Context) (*models.DeploymentSettings, error) {
	var ds models.DeploymentSettings
	if err := r.client.GetJSON(ctx, "/settings/deployment-paths", nil, &ds); err != nil {
		return nil, fmt.Errorf("fetching deployment paths: %w", err)
	}
	if ds.Paths == nil {
		ds.Paths = map[string]models.DeploymentPaths{}
	}
	return &ds, nil
}

// FetchHierarchyDefinition implements health.SettingsSource.
func (r *Remote) FetchHierarchyDefinition(ctx context.Context) ([]models.HierarchyAttribute, error) {
	var attrs []models.HierarchyAttribute
	if err := r.client.GetJSON(ctx, "/hierarchy", nil, &attrs); err != nil {
		return nil, fmt.Errorf("fetching hierarchy: %w", err)
	}
	return sortedAttrs(attrs), nil
}

// ListFlows fetches the flow catalog.
func (r *Remote) ListFlows(ctx context.Context) ([]*models.LogicalFlow, error) {
	var flows []*models.LogicalFlow
	if err := r.client.GetJSON(ctx, "/flows", nil, &flows); err != nil {
		return nil, fmt.Errorf("fetching flows: %w", err)
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows, nil
}

func sortedAttrs(attrs []models.HierarchyAttribute) []models.HierarchyAttribute {
	out := append([]models.HierarchyAttribute(nil), attrs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// SelectFlows narrows all to the flows named by ids, in the order given.
// Empty ids selects every flow. A repeated ID is selected once.
func SelectFlows(all []*models.LogicalFlow, ids []string) ([]*models.LogicalFlow, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]*models.LogicalFlow, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}
	out := make([]*models.LogicalFlow, 0, len(ids))
	picked := make(map[string]bool, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown flow %q", id)
		}
		if picked[id] {
			continue
		}
		picked[id] = true
		out = append(out, f)
	}
	return out, nil
}

// FindFlow looks a flow up by ID through any provider.
func FindFlow(ctx context.Context, p Provider, id string) (*models.LogicalFlow, error) {
	flows, err := p.ListFlows(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range flows {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unknown flow %q", id)
}
