package workload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostclub/serverpool/internal/common/logger"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

func newTestMonitor(t *testing.T, env *testEnv) *Monitor {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewMonitor(env.manager, env.gateway, time.Minute, 5*time.Minute, log)
}

func TestMonitor_OccupiedWorkloadRefreshed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.Create(ctx, "tenant-1", "Steve")
	require.NoError(t, err)
	require.NoError(t, env.manager.Start(ctx, "tenant-1"))

	before, err := env.manager.Get("tenant-1")
	require.NoError(t, err)

	env.gateway.SetOccupants("p_steve", 3)

	mon := newTestMonitor(t, env)
	// Even long past the threshold an occupied workload stays up
	mon.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	mon.sweep(ctx)

	after, err := env.manager.Get("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkloadStatusRunning, after.Status)
	assert.True(t, after.LastActiveAt.After(before.LastActiveAt) || after.LastActiveAt.Equal(before.LastActiveAt))

	stored, err := env.store.GetByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.WithinDuration(t, after.LastActiveAt, stored.LastActiveAt, time.Second)
}

func TestMonitor_IdlePastThresholdStopped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.Create(ctx, "tenant-1", "Steve")
	require.NoError(t, err)
	require.NoError(t, env.manager.Start(ctx, "tenant-1"))

	mon := newTestMonitor(t, env)
	mon.now = func() time.Time { return time.Now().UTC().Add(6 * time.Minute) }
	mon.sweep(ctx)

	w, err := env.manager.Get("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkloadStatusStopped, w.Status)
}

func TestMonitor_IdleUnderThresholdKeptRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.Create(ctx, "tenant-1", "Steve")
	require.NoError(t, err)
	require.NoError(t, env.manager.Start(ctx, "tenant-1"))

	mon := newTestMonitor(t, env)
	mon.now = func() time.Time { return time.Now().UTC().Add(4 * time.Minute) }
	mon.sweep(ctx)

	w, err := env.manager.Get("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkloadStatusRunning, w.Status)
}

func TestMonitor_SkipsStoppedWorkloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.Create(ctx, "tenant-1", "Steve")
	require.NoError(t, err)

	mon := newTestMonitor(t, env)
	mon.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	mon.sweep(ctx)

	w, err := env.manager.Get("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkloadStatusStopped, w.Status)
}

func TestMonitor_StartStop(t *testing.T) {
	env := newTestEnv(t)

	mon := newTestMonitor(t, env)
	mon.interval = 10 * time.Millisecond
	mon.Start()
	time.Sleep(50 * time.Millisecond)
	mon.Stop()
}
