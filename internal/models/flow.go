package models

import (
	"fmt"
	"sort"
	"sync"
)

// Side selects one end of a logical flow.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// Sides is the fixed order every per-side walk follows.
var Sides = []Side{SideSource, SideDestination}

// ParseSide validates a side name.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideSource, SideDestination:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid side %q (want source or destination)", s)
}

// SideValues holds the per-side values of one hierarchy attribute. An empty
// string means unset.
type SideValues struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

// For returns the value for side.
func (v SideValues) For(side Side) string {
	if side == SideDestination {
		return v.Destination
	}
	return v.Source
}

// LogicalFlow is a data-movement definition whose source and destination each
// walk the hierarchy independently.
type LogicalFlow struct {
	ID                    string                `json:"id" yaml:"id"`
	Name                  string                `json:"name" yaml:"name"`
	HierarchyValues       map[string]SideValues `json:"hierarchy_values" yaml:"hierarchy_values"`
	SourceConnectionParam string                `json:"source_connection_param,omitempty" yaml:"source_connection_param"`
	DestConnectionParam   string                `json:"dest_connection_param,omitempty" yaml:"dest_connection_param"`
	SourceTemplateRef     string                `json:"source_template_ref,omitempty" yaml:"source_template_ref"`
	DestTemplateRef       string                `json:"dest_template_ref,omitempty" yaml:"dest_template_ref"`
}

// Value returns the side's value for a hierarchy attribute, "" if unset.
func (f *LogicalFlow) Value(attr string, side Side) string {
	if f == nil || f.HierarchyValues == nil {
		return ""
	}
	return f.HierarchyValues[attr].For(side)
}

// TemplateRef returns the flow template reference deployed on side.
func (f *LogicalFlow) TemplateRef(side Side) string {
	if side == SideDestination {
		return f.DestTemplateRef
	}
	return f.SourceTemplateRef
}

// ConnectionParam returns the connection parameter context used on side.
func (f *LogicalFlow) ConnectionParam(side Side) string {
	if side == SideDestination {
		return f.DestConnectionParam
	}
	return f.SourceConnectionParam
}

// FlowStore is an in-memory thread-safe store for flows loaded from
// configuration or the data service.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]*LogicalFlow
}

// NewFlowStore creates an empty flow store.
func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[string]*LogicalFlow)}
}

// Put adds or replaces a flow.
func (s *FlowStore) Put(f *LogicalFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
}

// Get returns a flow by ID, or nil if not found.
func (s *FlowStore) Get(id string) *LogicalFlow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flows[id]
}

// List returns all flows sorted by ID.
func (s *FlowStore) List() []*LogicalFlow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*LogicalFlow, 0, len(s.flows))
	for _, f := range s.flows {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Replace swaps the whole set of flows.
func (s *FlowStore) Replace(flows []*LogicalFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = make(map[string]*LogicalFlow, len(flows))
	for _, f := range flows {
		s.flows[f.ID] = f
	}
}
