// Package workload orchestrates the lifecycle of tenant server workloads:
// creation, start/stop, deletion, operator and extension management, and
// inactivity reclamation.
package workload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/config"
	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/events"
	"github.com/hostclub/serverpool/internal/events/bus"
	"github.com/hostclub/serverpool/internal/gateway"
	"github.com/hostclub/serverpool/internal/workload/extensions"
	"github.com/hostclub/serverpool/internal/workload/models"
	"github.com/hostclub/serverpool/internal/workload/ports"
	"github.com/hostclub/serverpool/internal/workload/store"
	"github.com/hostclub/serverpool/internal/workload/supervisor"
	"github.com/hostclub/serverpool/internal/workload/workspace"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// ProcessSupervisor is the slice of the supervisor the manager depends on.
type ProcessSupervisor interface {
	Spawn(spec supervisor.SpawnSpec, onExit supervisor.ExitFunc) error
	Stop(ctx context.Context, workloadID int64, grace time.Duration) error
	StopAll(ctx context.Context, grace time.Duration)
	Running(workloadID int64) bool
	Console(workloadID int64) []v1.ConsoleLine
}

// entry pairs a cached workload with its transition lock. All status
// transitions for one workload are serialized on mu; distinct workloads
// proceed in parallel.
type entry struct {
	mu sync.Mutex
	w  *models.Workload
}

// Manager is the lifecycle orchestrator. The cache under byTenant/byID is
// the source of truth for reads; every mutation goes cache-first with the
// store persisted before the operation returns, rolling the cache back when
// persistence fails.
type Manager struct {
	cfg      config.PoolConfig
	store    store.Store
	builder  *workspace.Builder
	sup      ProcessSupervisor
	gateway  gateway.Gateway
	ports    *ports.Allocator
	registry *extensions.Registry
	bus      bus.EventBus
	logger   *logger.Logger

	mu       sync.RWMutex
	byTenant map[string]*entry
	byID     map[int64]*entry
}

// NewManager wires the lifecycle orchestrator.
func NewManager(
	cfg config.PoolConfig,
	st store.Store,
	builder *workspace.Builder,
	sup ProcessSupervisor,
	gw gateway.Gateway,
	registry *extensions.Registry,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		builder:  builder,
		sup:      sup,
		gateway:  gw,
		ports:    ports.NewAllocator(cfg.BasePort, cfg.MaxPort),
		registry: registry,
		bus:      eventBus,
		logger:   log.WithFields(zap.String("component", "workload-manager")),
		byTenant: make(map[string]*entry),
		byID:     make(map[int64]*entry),
	}
}

// WorkloadName derives the pool-unique workload name from a tenant label.
func WorkloadName(tenantLabel string) string {
	return "p_" + strings.ToLower(tenantLabel)
}

// Load populates the cache from the store on cold start. Every workload
// loads as STOPPED regardless of its persisted status: process handles do
// not survive a restart. Ports are re-leased and gateway routes restored.
func (m *Manager) Load(ctx context.Context) error {
	workloads, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workloads: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range workloads {
		w.Status = v1.WorkloadStatusStopped
		if err := m.ports.Claim(w.Port, w.TenantID); err != nil {
			m.logger.Error("Failed to reclaim port lease",
				zap.String("workload", w.Name),
				zap.Int("port", w.Port),
				zap.Error(err))
		}
		if err := m.gateway.Register(ctx, w.Name, m.cfg.Host, w.Port); err != nil {
			m.logger.Error("Failed to restore gateway route",
				zap.String("workload", w.Name),
				zap.Error(err))
		}
		e := &entry{w: w}
		m.byTenant[w.TenantID] = e
		m.byID[w.ID] = e
	}

	m.logger.Info("Loaded workloads", zap.Int("count", len(workloads)))
	return nil
}

// Create provisions a workload for a tenant: port lease, store row,
// workspace, gateway route, cache entry. Each step unwinds the previous
// ones on failure so a failed create leaves no trace.
func (m *Manager) Create(ctx context.Context, tenantID, tenantLabel string) (*models.Workload, error) {
	if tenantID == "" || tenantLabel == "" {
		return nil, errors.BadRequest("tenant id and label are required")
	}

	name := WorkloadName(tenantLabel)

	// Reserve the tenant slot before any slow work so concurrent creates
	// for the same tenant conflict immediately
	m.mu.Lock()
	if _, exists := m.byTenant[tenantID]; exists {
		m.mu.Unlock()
		return nil, errors.Conflict(fmt.Sprintf("tenant %s already has a workload", tenantID))
	}
	e := &entry{}
	e.mu.Lock()
	m.byTenant[tenantID] = e
	m.mu.Unlock()
	defer e.mu.Unlock()

	undoReservation := func() {
		m.mu.Lock()
		delete(m.byTenant, tenantID)
		m.mu.Unlock()
	}

	port, err := m.ports.Allocate(tenantID)
	if err != nil {
		undoReservation()
		return nil, err
	}

	w := models.New(tenantID, tenantLabel, name, port)

	if err := m.store.CreateWorkload(ctx, w); err != nil {
		m.ports.Release(port)
		undoReservation()
		return nil, err
	}

	if err := m.builder.Build(w); err != nil {
		// Leave no store row or lease behind
		if delErr := m.store.Delete(ctx, w.ID); delErr != nil {
			m.logger.Error("Failed to roll back store row after build failure",
				zap.String("workload", name), zap.Error(delErr))
		}
		if rmErr := m.builder.Remove(w); rmErr != nil {
			m.logger.Error("Failed to clean up partial workspace",
				zap.String("workload", name), zap.Error(rmErr))
		}
		m.ports.Release(port)
		undoReservation()
		return nil, err
	}

	if err := m.gateway.Register(ctx, w.Name, m.cfg.Host, port); err != nil {
		if rmErr := m.builder.Remove(w); rmErr != nil {
			m.logger.Error("Failed to remove workspace after gateway failure",
				zap.String("workload", name), zap.Error(rmErr))
		}
		if delErr := m.store.Delete(ctx, w.ID); delErr != nil {
			m.logger.Error("Failed to roll back store row after gateway failure",
				zap.String("workload", name), zap.Error(delErr))
		}
		m.ports.Release(port)
		undoReservation()
		return nil, errors.InternalError("failed to register gateway route", err)
	}

	e.w = w
	m.mu.Lock()
	m.byID[w.ID] = e
	m.mu.Unlock()

	m.logger.Info("Created workload",
		zap.String("workload", name),
		zap.String("tenant_id", tenantID),
		zap.Int("port", port))

	m.publish(ctx, events.SubjectWorkloadCreated, w)
	return w.Clone(), nil
}

// Start launches the workload process and waits a bounded interval for it
// to come up. Starting a RUNNING workload is a no-op.
func (m *Manager) Start(ctx context.Context, tenantID string) error {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	// Held through the startup wait: transitions for one workload are
	// strictly serialized, other workloads are unaffected
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.w.Status {
	case v1.WorkloadStatusRunning:
		return nil
	case v1.WorkloadStatusStarting, v1.WorkloadStatusStopping:
		return errors.Conflict(fmt.Sprintf("workload %s is %s", e.w.Name, e.w.Status))
	}

	if err := m.transition(ctx, e, v1.WorkloadStatusStarting); err != nil {
		return err
	}

	spec := supervisor.SpawnSpec{
		WorkloadID: e.w.ID,
		Name:       e.w.Name,
		Dir:        m.builder.Path(e.w),
		Port:       e.w.Port,
	}
	if err := m.sup.Spawn(spec, m.handleExit); err != nil {
		m.revert(ctx, e, v1.WorkloadStatusStopped)
		return errors.ProcessFailure(fmt.Sprintf("failed to spawn %s", e.w.Name), err)
	}

	if wait := m.cfg.StartupWait(); wait > 0 {
		time.Sleep(wait)
	}

	if !m.sup.Running(e.w.ID) {
		m.revert(ctx, e, v1.WorkloadStatusStopped)
		return errors.ProcessFailure(fmt.Sprintf("%s exited during startup", e.w.Name), nil)
	}

	now := time.Now().UTC()
	e.w.LastActiveAt = now
	if err := m.store.TouchLastActive(ctx, e.w.ID, now); err != nil {
		m.logger.Error("Failed to persist last active on start",
			zap.String("workload", e.w.Name), zap.Error(err))
	}
	if err := m.transition(ctx, e, v1.WorkloadStatusRunning); err != nil {
		return err
	}

	m.logger.Info("Started workload",
		zap.String("workload", e.w.Name),
		zap.Int("port", e.w.Port))

	m.publish(ctx, events.SubjectWorkloadStarted, e.w)
	return nil
}

// Stop terminates the workload process gracefully, escalating after the
// grace period. Stopping a STOPPED workload is a no-op. By the time Stop
// returns the exit watcher has persisted the STOPPED status.
func (m *Manager) Stop(ctx context.Context, tenantID string) error {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.w.Status == v1.WorkloadStatusStopped {
		e.mu.Unlock()
		return nil
	}
	if e.w.Status == v1.WorkloadStatusStopping {
		e.mu.Unlock()
		return nil
	}
	if err := m.transition(ctx, e, v1.WorkloadStatusStopping); err != nil {
		e.mu.Unlock()
		return err
	}
	id := e.w.ID
	name := e.w.Name
	// Released before the blocking stop: the exit watcher needs this lock
	// to persist the final status
	e.mu.Unlock()

	if err := m.sup.Stop(ctx, id, m.cfg.StopGrace()); err != nil {
		m.logger.Error("Supervisor stop failed",
			zap.String("workload", name), zap.Error(err))
	}

	// If no process handle existed the exit watcher never ran; settle the
	// status here
	e.mu.Lock()
	if e.w.Status == v1.WorkloadStatusStopping {
		if err := m.transition(ctx, e, v1.WorkloadStatusStopped); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.mu.Unlock()

	m.logger.Info("Stopped workload", zap.String("workload", name))
	return nil
}

// handleExit runs on the supervisor's exit watcher goroutine whenever a
// workload process ends, requested or not. It is the single authority that
// settles the cached and stored status to STOPPED.
func (m *Manager) handleExit(workloadID int64) {
	m.mu.RLock()
	e, ok := m.byID[workloadID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	ctx := context.Background()

	e.mu.Lock()
	if e.w.Status == v1.WorkloadStatusStopped || e.w.Status == v1.WorkloadStatusDeleted {
		e.mu.Unlock()
		return
	}
	if e.w.Status != v1.WorkloadStatusStopping {
		m.logger.Warn("Workload process ended without a stop request",
			zap.String("workload", e.w.Name),
			zap.String("status", string(e.w.Status)))
	}
	e.w.Status = v1.WorkloadStatusStopped
	if err := m.store.UpdateStatus(ctx, e.w.ID, v1.WorkloadStatusStopped); err != nil {
		m.logger.Error("Failed to persist stopped status",
			zap.String("workload", e.w.Name), zap.Error(err))
	}
	w := e.w
	e.mu.Unlock()

	m.publish(ctx, events.SubjectWorkloadStopped, w)
}

// Delete tears the workload down: forced stop, workspace removal, gateway
// route removal, store delete, port release, cache removal, in that order.
func (m *Manager) Delete(ctx context.Context, tenantID string) error {
	if err := m.Stop(ctx, tenantID); err != nil {
		return err
	}

	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A concurrent start can slip in between the stop above and this lock.
	// Never tear down a workload that is no longer stopped.
	if e.w.Status != v1.WorkloadStatusStopped {
		return errors.Conflict(fmt.Sprintf("workload %s is %s", e.w.Name, e.w.Status))
	}

	if err := m.builder.Remove(e.w); err != nil {
		return err
	}
	if err := m.gateway.Unregister(ctx, e.w.Name); err != nil {
		m.logger.Error("Failed to unregister gateway route",
			zap.String("workload", e.w.Name), zap.Error(err))
	}
	if err := m.store.Delete(ctx, e.w.ID); err != nil {
		return err
	}
	m.ports.Release(e.w.Port)
	e.w.Status = v1.WorkloadStatusDeleted

	m.mu.Lock()
	delete(m.byTenant, e.w.TenantID)
	delete(m.byID, e.w.ID)
	m.mu.Unlock()

	m.logger.Info("Deleted workload", zap.String("workload", e.w.Name))
	m.publish(ctx, events.SubjectWorkloadDeleted, e.w)
	return nil
}

// AddOperator grants an identity operator rights on the workload.
func (m *Manager) AddOperator(ctx context.Context, tenantID, identity string) error {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.w.IsOperator(identity) {
		return errors.Conflict(fmt.Sprintf("%s is already an operator of %s", identity, e.w.Name))
	}

	e.w.AddOperator(identity)
	if err := m.store.AddOperator(ctx, e.w.ID, identity); err != nil {
		e.w.RemoveOperator(identity)
		return err
	}
	return nil
}

// RemoveOperator revokes operator rights. The owner can never be removed,
// so the operator set is never empty.
func (m *Manager) RemoveOperator(ctx context.Context, tenantID, identity string) error {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if identity == e.w.TenantID {
		return errors.NotAllowed("the owner cannot be removed as operator")
	}
	if !e.w.IsOperator(identity) {
		return errors.NotFound("operator", identity)
	}

	e.w.RemoveOperator(identity)
	if err := m.store.RemoveOperator(ctx, e.w.ID, identity); err != nil {
		e.w.AddOperator(identity)
		return err
	}
	return nil
}

// InstallExtension installs an allow-listed extension into the workspace
// and records it.
func (m *Manager) InstallExtension(ctx context.Context, tenantID, name string) error {
	if !m.registry.Allowed(name) {
		return errors.NotAllowed(fmt.Sprintf("extension %s is not on the allow-list", name))
	}

	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.w.HasExtension(name) {
		return errors.Conflict(fmt.Sprintf("extension %s is already installed on %s", name, e.w.Name))
	}

	if err := m.builder.InstallExtension(e.w, name); err != nil {
		return err
	}
	e.w.AddExtension(name)
	if err := m.store.AddExtension(ctx, e.w.ID, name); err != nil {
		e.w.RemoveExtension(name)
		if rmErr := m.builder.RemoveExtension(e.w, name); rmErr != nil {
			m.logger.Error("Failed to roll back extension jar",
				zap.String("workload", e.w.Name),
				zap.String("extension", name),
				zap.Error(rmErr))
		}
		return err
	}

	m.publish(ctx, events.SubjectExtensionInstalled, e.w)
	return nil
}

// UninstallExtension removes an installed extension.
func (m *Manager) UninstallExtension(ctx context.Context, tenantID, name string) error {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.w.HasExtension(name) {
		return errors.NotFound("extension", name)
	}

	if err := m.builder.RemoveExtension(e.w, name); err != nil {
		return err
	}
	e.w.RemoveExtension(name)
	if err := m.store.RemoveExtension(ctx, e.w.ID, name); err != nil {
		e.w.AddExtension(name)
		return err
	}

	m.publish(ctx, events.SubjectExtensionUninstalled, e.w)
	return nil
}

// UpdateSetting changes a workload setting. Settings are free-form; keys
// mirrored into the server config additionally trigger a regeneration so
// the next start picks the change up.
func (m *Manager) UpdateSetting(ctx context.Context, tenantID, key, value string) error {
	if key == "" {
		return errors.BadRequest("setting key is required")
	}

	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old, hadOld := e.w.Setting(key)
	e.w.SetSetting(key, value)
	if err := m.store.UpsertSetting(ctx, e.w.ID, key, value); err != nil {
		if hadOld {
			e.w.SetSetting(key, old)
		} else {
			delete(e.w.Settings, key)
		}
		return err
	}

	if models.MirrorsServerConfig(key) {
		if err := m.builder.WriteServerConfig(e.w); err != nil {
			m.logger.Error("Failed to regenerate server config",
				zap.String("workload", e.w.Name), zap.Error(err))
		}
	}

	m.publish(ctx, events.SubjectSettingUpdated, e.w)
	return nil
}

// Touch refreshes the workload's last-active timestamp in cache and store.
func (m *Manager) Touch(ctx context.Context, tenantID string) error {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.w.LastActiveAt = now
	if err := m.store.TouchLastActive(ctx, e.w.ID, now); err != nil {
		return err
	}
	return nil
}

// Get returns a copy of a tenant's workload.
func (m *Manager) Get(tenantID string) (*models.Workload, error) {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Clone(), nil
}

// List returns copies of all cached workloads.
func (m *Manager) List() []*models.Workload {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	result := make([]*models.Workload, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		result = append(result, e.w.Clone())
		e.mu.Unlock()
	}
	return result
}

// Running returns copies of all workloads currently in the RUNNING state.
func (m *Manager) Running() []*models.Workload {
	all := m.List()
	result := all[:0]
	for _, w := range all {
		if w.Status == v1.WorkloadStatusRunning {
			result = append(result, w)
		}
	}
	return result
}

// Console returns the buffered console output of a tenant's workload.
func (m *Manager) Console(tenantID string) ([]v1.ConsoleLine, error) {
	e, err := m.entryFor(tenantID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	id := e.w.ID
	e.mu.Unlock()
	return m.sup.Console(id), nil
}

// Shutdown stops all running workload processes.
func (m *Manager) Shutdown(ctx context.Context) {
	m.sup.StopAll(ctx, m.cfg.StopGrace())
}

// entryFor resolves a tenant's cache entry. Entries still being created
// (nil workload) are treated as absent.
func (m *Manager) entryFor(tenantID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.byTenant[tenantID]
	m.mu.RUnlock()
	if !ok || e.w == nil {
		return nil, errors.NotFound("workload", tenantID)
	}
	return e, nil
}

// transition updates the cached status and persists it, restoring the
// cache on store failure. Callers hold e.mu.
func (m *Manager) transition(ctx context.Context, e *entry, status v1.WorkloadStatus) error {
	prev := e.w.Status
	e.w.Status = status
	if err := m.store.UpdateStatus(ctx, e.w.ID, status); err != nil {
		e.w.Status = prev
		return err
	}
	return nil
}

// revert forces the cached and stored status back after a failed start.
// Store errors are logged; the cache stays authoritative. Callers hold e.mu.
func (m *Manager) revert(ctx context.Context, e *entry, status v1.WorkloadStatus) {
	e.w.Status = status
	if err := m.store.UpdateStatus(ctx, e.w.ID, status); err != nil {
		m.logger.Error("Failed to persist status revert",
			zap.String("workload", e.w.Name),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// publish emits a lifecycle event. Failures are logged, never surfaced.
func (m *Manager) publish(ctx context.Context, subject string, w *models.Workload) {
	if m.bus == nil {
		return
	}
	event := bus.NewEvent(subject, events.Source, map[string]interface{}{
		"workload_id": w.ID,
		"tenant_id":   w.TenantID,
		"name":        w.Name,
		"port":        w.Port,
		"status":      string(w.Status),
	})
	if err := m.bus.Publish(ctx, subject, event); err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("subject", subject), zap.Error(err))
	}
}
