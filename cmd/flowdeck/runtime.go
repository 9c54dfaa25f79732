package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rflorenc/flowdeck/internal/config"
	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/logging"
	"github.com/rflorenc/flowdeck/internal/metrics"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/platform"
	"github.com/rflorenc/flowdeck/internal/settings"
)

// runtime is the wiring shared by every command.
type runtime struct {
	cfg       *config.Config
	log       *zap.Logger
	instances *models.InstanceStore
	platforms *platform.Registry
	settings  settings.Provider
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load(configFile, config.Overrides{Listen: listenAddr, LogLevel: logLevel})
	if err != nil {
		return nil, err
	}

	log := logging.NewDevelopment()
	if !verbose {
		if log, err = logging.New(cfg.LogLevel); err != nil {
			return nil, err
		}
	}

	instances := models.NewInstanceStore()
	for _, inst := range cfg.ManagedInstances() {
		instances.Create(inst)
	}

	var provider settings.Provider
	if ep, ok := cfg.DataServiceEndpoint(); ok {
		provider = settings.NewRemote(ep, cfg.RequestTimeout())
		log.Info("using data service for settings", zap.String("url", ep.BaseURL))
	} else {
		provider = settings.NewStatic(cfg.DeploymentPaths, cfg.Hierarchy, cfg.Flows)
	}

	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	return &runtime{
		cfg:       cfg,
		log:       log,
		instances: instances,
		platforms: platform.NewRegistry(instances, cfg.RequestTimeout()),
		settings:  provider,
		metrics:   m,
		registry:  reg,
	}, nil
}

// limiter paces sweep status fetches; nil means unpaced.
func (rt *runtime) limiter() *rate.Limiter {
	if rt.cfg.Sweep.Rate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rt.cfg.Sweep.Rate), rt.cfg.Sweep.Burst)
}

func (rt *runtime) sweeper() *health.Coordinator {
	return &health.Coordinator{
		Catalog:  rt.instances,
		Settings: rt.settings,
		Topology: rt.platforms,
		Status:   rt.platforms,
		Limiter:  rt.limiter(),
		Metrics:  rt.metrics,
		Logger:   rt.log,
	}
}

func (rt *runtime) deployDeps() deploy.Deps {
	return deploy.Deps{
		Pusher:  rt.platforms,
		Locator: &deploy.SettingsLocator{Catalog: rt.instances, Settings: rt.settings},
		Metrics: rt.metrics,
		Logger:  rt.log,
	}
}

// checkInstances pings every instance once so ping status and version are
// known before the first request.
func (rt *runtime) checkInstances(ctx context.Context) {
	for _, inst := range rt.instances.ListAll() {
		p, err := rt.platforms.For(inst.ID)
		if err != nil {
			rt.log.Warn("skipping instance check", zap.String("instance", inst.Name), zap.Error(err))
			continue
		}
		_ = platform.CheckInstance(ctx, p, inst, rt.instances, rt.log)
	}
}

// instance looks up an instance by ID or name.
func (rt *runtime) instance(ref string) (*models.ManagedInstance, error) {
	if inst := rt.instances.Get(ref); inst != nil {
		return inst, nil
	}
	for _, inst := range rt.instances.ListAll() {
		if inst.Name == ref {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("unknown instance %q", ref)
}
