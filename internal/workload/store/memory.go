package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/workload/models"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// MemoryStore implements Store in memory. State is lost on restart; it is
// used for tests and throwaway pools.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	workloads map[int64]*models.Workload
	byTenant  map[string]int64

	// failNext makes the next mutating call fail. Test hook for
	// exercising rollback paths.
	failNext bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		workloads: make(map[int64]*models.Workload),
		byTenant:  make(map[string]int64),
	}
}

// FailNext makes the next mutating operation return a store failure.
func (m *MemoryStore) FailNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

func (m *MemoryStore) takeFailure() error {
	if m.failNext {
		m.failNext = false
		return errors.StoreFailure("injected store failure", nil)
	}
	return nil
}

// CreateWorkload stores a copy of the workload and assigns an ID.
func (m *MemoryStore) CreateWorkload(ctx context.Context, w *models.Workload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, exists := m.byTenant[w.TenantID]; exists {
		return errors.Conflict(fmt.Sprintf("tenant %s already has a workload", w.TenantID))
	}

	w.ID = m.nextID
	m.nextID++
	m.workloads[w.ID] = w.Clone()
	m.byTenant[w.TenantID] = w.ID
	return nil
}

// GetByTenant returns a copy of the tenant's workload.
func (m *MemoryStore) GetByTenant(ctx context.Context, tenantID string) (*models.Workload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTenant[tenantID]
	if !ok {
		return nil, errors.NotFound("workload", tenantID)
	}
	return m.workloads[id].Clone(), nil
}

// List returns copies of all workloads.
func (m *MemoryStore) List(ctx context.Context) ([]*models.Workload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Workload, 0, len(m.workloads))
	for _, w := range m.workloads {
		result = append(result, w.Clone())
	}
	return result, nil
}

// Delete removes the workload.
func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	w, ok := m.workloads[id]
	if !ok {
		return errors.NotFound("workload", fmt.Sprintf("%d", id))
	}
	delete(m.byTenant, w.TenantID)
	delete(m.workloads, id)
	return nil
}

func (m *MemoryStore) mutate(id int64, fn func(w *models.Workload)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	w, ok := m.workloads[id]
	if !ok {
		return errors.NotFound("workload", fmt.Sprintf("%d", id))
	}
	fn(w)
	return nil
}

// UpdateStatus persists a status transition.
func (m *MemoryStore) UpdateStatus(ctx context.Context, id int64, status v1.WorkloadStatus) error {
	return m.mutate(id, func(w *models.Workload) { w.Status = status })
}

// TouchLastActive persists a new last-active timestamp.
func (m *MemoryStore) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	return m.mutate(id, func(w *models.Workload) { w.LastActiveAt = at })
}

// AddOperator records an operator grant.
func (m *MemoryStore) AddOperator(ctx context.Context, id int64, identity string) error {
	return m.mutate(id, func(w *models.Workload) { w.AddOperator(identity) })
}

// RemoveOperator removes an operator grant.
func (m *MemoryStore) RemoveOperator(ctx context.Context, id int64, identity string) error {
	return m.mutate(id, func(w *models.Workload) { w.RemoveOperator(identity) })
}

// AddExtension records an installed extension.
func (m *MemoryStore) AddExtension(ctx context.Context, id int64, name string) error {
	return m.mutate(id, func(w *models.Workload) { w.AddExtension(name) })
}

// RemoveExtension removes an installed extension record.
func (m *MemoryStore) RemoveExtension(ctx context.Context, id int64, name string) error {
	return m.mutate(id, func(w *models.Workload) { w.RemoveExtension(name) })
}

// UpsertSetting inserts or replaces a setting value.
func (m *MemoryStore) UpsertSetting(ctx context.Context, id int64, key, value string) error {
	return m.mutate(id, func(w *models.Workload) { w.SetSetting(key, value) })
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
