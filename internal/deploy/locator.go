package deploy

import (
	"context"
	"fmt"

	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
)

// SettingsLocator resolves deploy targets from the current hierarchy and
// deployment settings, fetched on every call so a deploy never acts on a
// stale definition.
type SettingsLocator struct {
	Catalog  placement.Catalog
	Settings health.SettingsSource
}

// Locate implements Locator.
func (l *SettingsLocator) Locate(ctx context.Context, flow *models.LogicalFlow, side models.Side) (placement.Target, error) {
	settings, err := l.Settings.FetchDeploymentSettings(ctx)
	if err != nil {
		return placement.Target{}, fmt.Errorf("fetching deployment settings: %w", err)
	}
	attrs, err := l.Settings.FetchHierarchyDefinition(ctx)
	if err != nil {
		return placement.Target{}, fmt.Errorf("fetching hierarchy: %w", err)
	}
	h, err := models.NewHierarchy(attrs)
	if err != nil {
		return placement.Target{}, fmt.Errorf("invalid hierarchy: %w", err)
	}
	return placement.Locate(l.Catalog, h, settings, flow, side)
}
