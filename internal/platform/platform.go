package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/models"
)

// Platform defines the operations available on one managed instance.
type Platform interface {
	// About returns the instance's version. Used as a connectivity check.
	About(ctx context.Context) (*AboutResponse, error)

	// FetchTopology lists every processing unit with its path.
	FetchTopology(ctx context.Context) ([]models.ProcessingUnit, error)

	// FetchStatus returns the live status of one unit.
	FetchStatus(ctx context.Context, unitID string) (*models.StatusSnapshot, error)

	PushFlowVersion(ctx context.Context, path string, ref models.FlowRef) (deploy.PushResult, error)
	DeleteProcessingUnit(ctx context.Context, unitID string) error
	UpdateProcessingUnitVersion(ctx context.Context, unitID, version string) error
}

// NewPlatform creates the Platform implementation for an instance.
func NewPlatform(inst *models.ManagedInstance, timeout time.Duration) Platform {
	return NewNiFi(NewClient(inst, timeout))
}

// Registry hands out one Platform per instance ID, built lazily from the
// instance store. It satisfies the topology, status and push interfaces the
// sweep and deploy packages consume.
type Registry struct {
	store   *models.InstanceStore
	timeout time.Duration

	// New builds a Platform for an instance. Defaults to NewPlatform.
	New func(inst *models.ManagedInstance, timeout time.Duration) Platform

	mu    sync.Mutex
	cache map[string]Platform
}

// NewRegistry creates a registry over store.
func NewRegistry(store *models.InstanceStore, timeout time.Duration) *Registry {
	return &Registry{store: store, timeout: timeout, New: NewPlatform, cache: make(map[string]Platform)}
}

// For returns the Platform of an instance.
func (r *Registry) For(instanceID string) (Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[instanceID]; ok {
		return p, nil
	}
	inst := r.store.Get(instanceID)
	if inst == nil {
		return nil, fmt.Errorf("unknown instance %q", instanceID)
	}
	p := r.New(inst, r.timeout)
	r.cache[instanceID] = p
	return p, nil
}

// Forget drops a cached Platform, e.g. after the instance's credentials
// changed.
func (r *Registry) Forget(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, instanceID)
}

// FetchTopology implements health.TopologySource.
func (r *Registry) FetchTopology(ctx context.Context, instanceID string) ([]models.ProcessingUnit, error) {
	p, err := r.For(instanceID)
	if err != nil {
		return nil, err
	}
	return p.FetchTopology(ctx)
}

// FetchStatus implements health.StatusSource.
func (r *Registry) FetchStatus(ctx context.Context, instanceID, unitID string) (*models.StatusSnapshot, error) {
	p, err := r.For(instanceID)
	if err != nil {
		return nil, err
	}
	return p.FetchStatus(ctx, unitID)
}

// PushFlowVersion implements deploy.Pusher.
func (r *Registry) PushFlowVersion(ctx context.Context, instanceID, path string, ref models.FlowRef) (deploy.PushResult, error) {
	p, err := r.For(instanceID)
	if err != nil {
		return deploy.PushResult{}, err
	}
	return p.PushFlowVersion(ctx, path, ref)
}

// DeleteProcessingUnit implements deploy.Pusher.
func (r *Registry) DeleteProcessingUnit(ctx context.Context, instanceID, unitID string) error {
	p, err := r.For(instanceID)
	if err != nil {
		return err
	}
	return p.DeleteProcessingUnit(ctx, unitID)
}

// UpdateProcessingUnitVersion implements deploy.Pusher.
func (r *Registry) UpdateProcessingUnitVersion(ctx context.Context, instanceID, unitID, version string) error {
	p, err := r.For(instanceID)
	if err != nil {
		return err
	}
	return p.UpdateProcessingUnitVersion(ctx, unitID, version)
}
