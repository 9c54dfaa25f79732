package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rflorenc/flowdeck/internal/faults"
	"github.com/rflorenc/flowdeck/internal/metrics"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
)

// TopologySource lists every processing unit of an instance.
type TopologySource interface {
	FetchTopology(ctx context.Context, instanceID string) ([]models.ProcessingUnit, error)
}

// StatusSource fetches the live status of one processing unit.
type StatusSource interface {
	FetchStatus(ctx context.Context, instanceID, unitID string) (*models.StatusSnapshot, error)
}

// SettingsSource supplies the externally owned deployment settings and
// hierarchy definition.
type SettingsSource interface {
	FetchDeploymentSettings(ctx context.Context) (*models.DeploymentSettings, error)
	FetchHierarchyDefinition(ctx context.Context) ([]models.HierarchyAttribute, error)
}

// Coordinator runs health sweeps. Status fetches are issued strictly one at
// a time, optionally paced by Limiter, to bound load on the instance's
// control API. Cancellation is checked between tasks, never mid-fetch.
type Coordinator struct {
	Catalog  placement.Catalog
	Settings SettingsSource
	Topology TopologySource
	Status   StatusSource
	Limiter  *rate.Limiter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// task is one (flow, side) check in a sweep's pipeline.
type task struct {
	flow *models.LogicalFlow
	side models.Side
}

// plan lays out the sweep as an explicit ordered task list: every distinct
// flow, source then destination. A flow listed twice is checked once, so a
// sweep yields exactly two entries per distinct flow ID.
func plan(flows []*models.LogicalFlow) []task {
	tasks := make([]task, 0, 2*len(flows))
	seen := make(map[string]bool, len(flows))
	for _, f := range flows {
		if f == nil || seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		for _, side := range models.Sides {
			tasks = append(tasks, task{flow: f, side: side})
		}
	}
	return tasks
}

// sweepContext is what a sweep fetches once up front and shares across tasks.
type sweepContext struct {
	instanceID string
	hierarchy  *models.Hierarchy
	settings   *models.DeploymentSettings
	table      *placement.PathTable
}

// Sweep checks both sides of every flow against instanceID and returns one
// entry per (flow, side). Individual failures degrade their entry; only a
// failure to fetch the settings, hierarchy or topology fails the sweep. If
// ctx is cancelled the entries completed so far are returned with the error.
func (c *Coordinator) Sweep(ctx context.Context, instanceID string, flows []*models.LogicalFlow, progress func(string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := c.logger().With(zap.String("instance", instanceID))
	start := time.Now()

	sc, err := c.prepare(ctx, instanceID)
	if err != nil {
		c.Metrics.ObserveSweep(instanceID, "error", time.Since(start), nil)
		log.Error("sweep setup failed", zap.Error(err))
		return nil, err
	}
	progress(fmt.Sprintf("Topology: %d processing units", sc.table.Len()))

	result := newResult(instanceID, start)
	tasks := plan(flows)
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			progress("Sweep cancelled")
			result.FinishedAt = time.Now()
			return result, fmt.Errorf("sweep cancelled after %d of %d checks: %w", i, len(tasks), err)
		}

		entry, unitID := c.resolve(sc, t)
		if unitID != "" {
			if c.Limiter != nil {
				if err := c.Limiter.Wait(ctx); err != nil {
					result.FinishedAt = time.Now()
					return result, fmt.Errorf("sweep cancelled after %d of %d checks: %w", i, len(tasks), err)
				}
			}
			entry = c.fetch(ctx, sc, entry, unitID)
		}

		log.Debug("checked flow side",
			zap.String("flow", entry.FlowID),
			zap.String("side", string(entry.Side)),
			zap.String("path", entry.Path),
			zap.String("outcome", string(entry.Outcome)),
			zap.String("state", string(entry.State)))
		progress(fmt.Sprintf("  %s/%s: %s (%s)", entry.FlowName, entry.Side, entry.State, entry.Outcome))
		result.add(entry)
	}

	result.FinishedAt = time.Now()
	c.Metrics.ObserveSweep(instanceID, "ok", result.FinishedAt.Sub(start), result.stateCounts())
	log.Info("sweep complete", zap.Int("entries", len(result.Entries)), zap.Duration("took", result.FinishedAt.Sub(start)))
	return result, nil
}

func (c *Coordinator) prepare(ctx context.Context, instanceID string) (*sweepContext, error) {
	settings, err := c.Settings.FetchDeploymentSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching deployment settings: %w", err)
	}
	attrs, err := c.Settings.FetchHierarchyDefinition(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching hierarchy: %w", err)
	}
	h, err := models.NewHierarchy(attrs)
	if err != nil {
		return nil, fmt.Errorf("invalid hierarchy: %w", err)
	}
	units, err := c.Topology.FetchTopology(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetching topology of %s: %w", instanceID, err)
	}
	return &sweepContext{
		instanceID: instanceID,
		hierarchy:  h,
		settings:   settings,
		table:      placement.NewPathTable(units),
	}, nil
}

// resolve does the side-effect-free part of a check. It returns the entry
// and, when a unit exists at the expected path, its ID for the status fetch.
func (c *Coordinator) resolve(sc *sweepContext, t task) (Entry, string) {
	entry := Entry{
		FlowID:   t.flow.ID,
		FlowName: t.flow.Name,
		Side:     t.side,
	}

	target, err := placement.Locate(c.Catalog, sc.hierarchy, sc.settings, t.flow, t.side)
	if err != nil {
		entry.Outcome = OutcomeUnresolved
		entry.State = Classify(nil, false)
		entry.Error = err.Error()
		return entry, ""
	}
	entry.InstanceID = target.Instance.ID
	entry.Path = target.Path

	if target.Instance.ID != sc.instanceID {
		entry.Outcome = OutcomeOtherInstance
		entry.State = models.HealthUnknown
		return entry, ""
	}

	unitID, ok := sc.table.Lookup(target.Path)
	if !ok {
		entry.Outcome = OutcomeNotFound
		entry.State = Classify(nil, false)
		entry.Error = faults.New(faults.KindNotFound, "lookup "+target.Path, nil).Error()
		return entry, ""
	}
	entry.UnitID = unitID
	return entry, unitID
}

func (c *Coordinator) fetch(ctx context.Context, sc *sweepContext, entry Entry, unitID string) Entry {
	snap, err := c.Status.FetchStatus(ctx, sc.instanceID, unitID)
	c.Metrics.StatusFetch(sc.instanceID, err)
	if err != nil {
		fe := faults.New(faults.KindTransientFetch, "fetch status "+unitID, err)
		c.logger().Warn("status fetch failed",
			zap.String("instance", sc.instanceID),
			zap.String("unit", unitID),
			zap.Error(fe))
		entry.Outcome = OutcomeFetchFailed
		entry.State = Classify(nil, false)
		entry.Error = fe.Error()
		return entry
	}
	entry.Outcome = OutcomeResolved
	entry.Snapshot = snap
	entry.State = Classify(snap, true)
	if entry.State != models.HealthHealthy {
		entry.Reasons = Reasons(snap, true)
	}
	return entry
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
