// Package placement maps a logical flow onto a managed instance and the
// expected path of its processing unit inside that instance.
//
// The topmost hierarchy attribute selects the instance; every attribute below
// it contributes one path segment beneath the instance's per-side base path.
package placement

import (
	"strings"

	"github.com/rflorenc/flowdeck/internal/faults"
	"github.com/rflorenc/flowdeck/internal/models"
)

// Separator joins path segments.
const Separator = "/"

// ResolveExpectedPath computes where the processing unit for flow's side is
// expected to live. The leading separator of basePath is stripped, the
// topmost attribute is skipped, and every non-empty side value of the
// remaining attributes is appended in ascending order.
//
// An empty topmost value on side means the side has no target instance, so
// resolution fails with faults.ErrUnresolvedPath.
func ResolveExpectedPath(flow *models.LogicalFlow, side models.Side, h *models.Hierarchy, basePath string) (string, error) {
	top, ok := h.Top()
	if !ok {
		return "", faults.Unresolved("resolve path", "empty hierarchy")
	}
	if flow.Value(top.Name, side) == "" {
		return "", faults.Unresolved("resolve path", "flow %s has no %s value for %s", flowID(flow), side, top.Name)
	}

	segments := []string{strings.TrimLeft(basePath, Separator)}
	for _, attr := range h.Sub() {
		if v := flow.Value(attr.Name, side); v != "" {
			segments = append(segments, v)
		}
	}
	if len(segments) == 1 {
		return segments[0], nil
	}
	if segments[0] == "" {
		segments = segments[1:]
	}
	return strings.Join(segments, Separator), nil
}

func flowID(flow *models.LogicalFlow) string {
	if flow == nil {
		return "<nil>"
	}
	return flow.ID
}

// Catalog is the instance lookup used to pick a flow side's target.
type Catalog interface {
	FindInstance(attrName, value string) (*models.ManagedInstance, bool)
}

// Target is a fully resolved deployment location.
type Target struct {
	Instance *models.ManagedInstance `json:"instance"`
	Side     models.Side             `json:"side"`
	Path     string                  `json:"path"`
}

// Locate resolves the instance and expected path for one flow side. The
// topmost value is checked before the catalog is consulted, so an unset side
// never triggers an instance lookup.
func Locate(catalog Catalog, h *models.Hierarchy, settings *models.DeploymentSettings, flow *models.LogicalFlow, side models.Side) (Target, error) {
	top, ok := h.Top()
	if !ok {
		return Target{}, faults.Unresolved("locate", "empty hierarchy")
	}
	value := flow.Value(top.Name, side)
	if value == "" {
		return Target{}, faults.Unresolved("locate", "flow %s has no %s value for %s", flowID(flow), side, top.Name)
	}

	inst, ok := catalog.FindInstance(top.Name, value)
	if !ok {
		return Target{}, faults.Unresolved("locate", "no unique instance for %s=%s", top.Name, value)
	}

	base, ok := settings.BasePath(inst.ID, side)
	if !ok {
		return Target{}, faults.Unresolved("locate", "no %s base path configured for instance %s", side, inst.Name)
	}

	path, err := ResolveExpectedPath(flow, side, h, base)
	if err != nil {
		return Target{}, err
	}
	return Target{Instance: inst, Side: side, Path: path}, nil
}
