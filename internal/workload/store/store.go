// Package store persists workloads and their operator, extension and
// setting records.
package store

import (
	"context"
	"time"

	"github.com/hostclub/serverpool/internal/workload/models"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// Store is the persistence interface for workloads. Implementations:
// sqlite (single node), postgres (shared) and memory (tests, throwaway
// pools).
type Store interface {
	// CreateWorkload inserts the workload with its operators and settings
	// in one transaction and assigns the store ID to w.ID.
	CreateWorkload(ctx context.Context, w *models.Workload) error

	// GetByTenant returns the workload owned by a tenant.
	GetByTenant(ctx context.Context, tenantID string) (*models.Workload, error)

	// List returns all workloads with their full association records.
	List(ctx context.Context) ([]*models.Workload, error)

	// Delete removes the workload; association rows cascade.
	Delete(ctx context.Context, id int64) error

	UpdateStatus(ctx context.Context, id int64, status v1.WorkloadStatus) error
	TouchLastActive(ctx context.Context, id int64, at time.Time) error

	AddOperator(ctx context.Context, id int64, identity string) error
	RemoveOperator(ctx context.Context, id int64, identity string) error

	AddExtension(ctx context.Context, id int64, name string) error
	RemoveExtension(ctx context.Context, id int64, name string) error

	UpsertSetting(ctx context.Context, id int64, key, value string) error

	Close() error
}
