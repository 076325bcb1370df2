package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/workload/models"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := models.New("tenant-1", "Steve", "p_steve", 25566)
	w.AddExtension("essentials")
	require.NoError(t, s.CreateWorkload(ctx, w))
	assert.Greater(t, w.ID, int64(0))

	got, err := s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, "Steve", got.TenantLabel)
	assert.Equal(t, "p_steve", got.Name)
	assert.Equal(t, 25566, got.Port)
	assert.Equal(t, v1.WorkloadStatusStopped, got.Status)
	assert.True(t, got.IsOperator("tenant-1"))
	assert.True(t, got.HasExtension("essentials"))
	assert.Equal(t, "Steve's Server", got.Settings[models.SettingMOTD])
	assert.Equal(t, "20", got.Settings[models.SettingMaxPlayers])
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := s.GetByTenant(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStore_DuplicateTenantRejected(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkload(ctx, models.New("tenant-1", "Steve", "p_steve", 25566)))
	err := s.CreateWorkload(ctx, models.New("tenant-1", "Steve", "p_steve2", 25567))
	require.Error(t, err)
}

func TestSQLiteStore_List(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkload(ctx, models.New("tenant-1", "Steve", "p_steve", 25566)))
	require.NoError(t, s.CreateWorkload(ctx, models.New("tenant-2", "Alex", "p_alex", 25567)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p_steve", all[0].Name)
	assert.Equal(t, "p_alex", all[1].Name)
	assert.True(t, all[1].IsOperator("tenant-2"))
	assert.NotEmpty(t, all[0].Settings)
}

func TestSQLiteStore_DeleteCascades(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := models.New("tenant-1", "Steve", "p_steve", 25566)
	require.NoError(t, s.CreateWorkload(ctx, w))
	require.NoError(t, s.AddOperator(ctx, w.ID, "tenant-2"))

	require.NoError(t, s.Delete(ctx, w.ID))

	_, err := s.GetByTenant(ctx, "tenant-1")
	assert.True(t, errors.IsNotFound(err))

	// Re-creating the same tenant works once the row is gone
	require.NoError(t, s.CreateWorkload(ctx, models.New("tenant-1", "Steve", "p_steve", 25566)))
}

func TestSQLiteStore_DeleteMissing(t *testing.T) {
	s := newSQLiteStore(t)
	err := s.Delete(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStore_UpdateStatus(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := models.New("tenant-1", "Steve", "p_steve", 25566)
	require.NoError(t, s.CreateWorkload(ctx, w))

	require.NoError(t, s.UpdateStatus(ctx, w.ID, v1.WorkloadStatusRunning))
	got, err := s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkloadStatusRunning, got.Status)

	err = s.UpdateStatus(ctx, 404, v1.WorkloadStatusRunning)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStore_TouchLastActive(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := models.New("tenant-1", "Steve", "p_steve", 25566)
	require.NoError(t, s.CreateWorkload(ctx, w))

	at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.TouchLastActive(ctx, w.ID, at))

	got, err := s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.WithinDuration(t, at, got.LastActiveAt, time.Second)
}

func TestSQLiteStore_Operators(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := models.New("tenant-1", "Steve", "p_steve", 25566)
	require.NoError(t, s.CreateWorkload(ctx, w))

	require.NoError(t, s.AddOperator(ctx, w.ID, "tenant-2"))
	// Granting twice is a no-op
	require.NoError(t, s.AddOperator(ctx, w.ID, "tenant-2"))

	got, err := s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, got.Operators, 2)

	require.NoError(t, s.RemoveOperator(ctx, w.ID, "tenant-2"))
	got, err = s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, got.Operators, 1)
	assert.True(t, got.IsOperator("tenant-1"))
}

func TestSQLiteStore_ExtensionsAndSettings(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	w := models.New("tenant-1", "Steve", "p_steve", 25566)
	require.NoError(t, s.CreateWorkload(ctx, w))

	require.NoError(t, s.AddExtension(ctx, w.ID, "essentials"))
	require.NoError(t, s.UpsertSetting(ctx, w.ID, models.SettingMOTD, "hello"))
	require.NoError(t, s.UpsertSetting(ctx, w.ID, models.SettingMOTD, "hello again"))

	got, err := s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.True(t, got.HasExtension("essentials"))
	assert.Equal(t, "hello again", got.Settings[models.SettingMOTD])

	require.NoError(t, s.RemoveExtension(ctx, w.ID, "essentials"))
	got, err = s.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.False(t, got.HasExtension("essentials"))
}
