package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostclub/serverpool/internal/common/logger"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// writeStub writes an executable shell script that stands in for the java
// binary. The supervisor passes jvm-style arguments; the stub ignores them.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "java-stub.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, stubBody string, sink ConsoleSink) *Supervisor {
	t.Helper()
	cfg := Config{
		JavaBin:    writeStub(t, stubBody),
		RuntimeJar: "paper.jar",
		MemoryMB:   512,
	}
	return New(cfg, sink, testLogger(t))
}

func spawnSpec(t *testing.T, id int64) SpawnSpec {
	return SpawnSpec{WorkloadID: id, Name: "p_steve", Dir: t.TempDir(), Port: 25570}
}

func TestSupervisor_SpawnAndConsole(t *testing.T) {
	s := newTestSupervisor(t, `echo "server ready"
echo "listening" >&2
sleep 30`, nil)

	exited := make(chan int64, 1)
	require.NoError(t, s.Spawn(spawnSpec(t, 1), func(id int64) { exited <- id }))

	assert.True(t, s.Running(1))
	pid, ok := s.Pid(1)
	require.True(t, ok)
	assert.Greater(t, pid, 0)

	// Both streams land in the same console buffer
	require.Eventually(t, func() bool {
		lines := s.Console(1)
		var stdout, stderr bool
		for _, l := range lines {
			if strings.Contains(l.Line, "server ready") {
				stdout = true
			}
			if strings.Contains(l.Line, "listening") {
				stderr = true
			}
		}
		return stdout && stderr
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background(), 1, time.Second))
	select {
	case id := <-exited:
		assert.Equal(t, int64(1), id)
	default:
		t.Fatal("exit callback did not run before Stop returned")
	}
	assert.False(t, s.Running(1))
}

func TestSupervisor_StopGraceful(t *testing.T) {
	s := newTestSupervisor(t, `trap 'exit 0' TERM
while true; do sleep 0.1; done`, nil)

	exited := make(chan int64, 1)
	require.NoError(t, s.Spawn(spawnSpec(t, 2), func(id int64) { exited <- id }))

	start := time.Now()
	require.NoError(t, s.Stop(context.Background(), 2, 10*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second, "graceful stop should not need the full grace period")
	assert.False(t, s.Running(2))
}

func TestSupervisor_StopEscalatesToKill(t *testing.T) {
	s := newTestSupervisor(t, `trap '' TERM
while true; do sleep 0.1; done`, nil)

	require.NoError(t, s.Spawn(spawnSpec(t, 3), nil))

	require.NoError(t, s.Stop(context.Background(), 3, 500*time.Millisecond))
	assert.False(t, s.Running(3))
}

func TestSupervisor_ExternalKillObserved(t *testing.T) {
	s := newTestSupervisor(t, `sleep 30`, nil)

	exited := make(chan int64, 1)
	require.NoError(t, s.Spawn(spawnSpec(t, 4), func(id int64) { exited <- id }))

	pid, ok := s.Pid(4)
	require.True(t, ok)
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	select {
	case id := <-exited:
		assert.Equal(t, int64(4), id)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not invoked after external kill")
	}
	assert.False(t, s.Running(4))
}

func TestSupervisor_StopWithoutHandle(t *testing.T) {
	s := newTestSupervisor(t, `sleep 30`, nil)
	require.NoError(t, s.Stop(context.Background(), 99, time.Second))
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	cfg := Config{JavaBin: "/nonexistent/java", RuntimeJar: "paper.jar", MemoryMB: 512}
	s := New(cfg, nil, testLogger(t))

	err := s.Spawn(spawnSpec(t, 5), nil)
	require.Error(t, err)
	assert.False(t, s.Running(5))
}

func TestSupervisor_DuplicateSpawnRejected(t *testing.T) {
	s := newTestSupervisor(t, `sleep 30`, nil)

	require.NoError(t, s.Spawn(spawnSpec(t, 6), nil))
	err := s.Spawn(spawnSpec(t, 6), nil)
	require.Error(t, err)

	require.NoError(t, s.Stop(context.Background(), 6, time.Second))
}

type captureSink struct {
	lines chan v1.ConsoleLine
}

func (c *captureSink) ConsoleLine(line v1.ConsoleLine) {
	select {
	case c.lines <- line:
	default:
	}
}

func TestSupervisor_ConsoleSink(t *testing.T) {
	sink := &captureSink{lines: make(chan v1.ConsoleLine, 16)}
	s := newTestSupervisor(t, `echo "hello from workload"
sleep 30`, sink)

	require.NoError(t, s.Spawn(spawnSpec(t, 7), nil))
	defer func() { _ = s.Stop(context.Background(), 7, time.Second) }()

	select {
	case line := <-sink.lines:
		assert.Equal(t, int64(7), line.WorkloadID)
		assert.Equal(t, "p_steve", line.Name)
		assert.Contains(t, line.Line, "hello from workload")
	case <-time.After(5 * time.Second):
		t.Fatal("console sink received no lines")
	}
}

func TestSupervisor_StopAll(t *testing.T) {
	s := newTestSupervisor(t, `trap 'exit 0' TERM
while true; do sleep 0.1; done`, nil)

	for id := int64(10); id < 13; id++ {
		require.NoError(t, s.Spawn(spawnSpec(t, id), nil))
	}

	s.StopAll(context.Background(), 5*time.Second)

	for id := int64(10); id < 13; id++ {
		assert.False(t, s.Running(id))
	}
}
