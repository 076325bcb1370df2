// Package supervisor runs workload server processes and observes their exit.
//
// Each workload gets one OS process in its own process group. A single
// goroutine drains the combined stdout/stderr pipe into a bounded ring
// buffer, and one exit watcher goroutine per process is the sole authority
// for post-exit handling: it clears the handle, invokes the exit callback
// and then signals done. Processes killed externally are observed through
// the same path.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/logger"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// Config holds process launch configuration.
type Config struct {
	// JavaBin is the executable used to launch workloads. Tests point it
	// at a stub script.
	JavaBin string

	// RuntimeJar is the jar filename inside the workspace.
	RuntimeJar string

	// MemoryMB sizes the heap: -Xmx gets the full amount, -Xms half.
	MemoryMB int

	// DebugConsole mirrors every console line into the pool log.
	DebugConsole bool

	// ConsoleBufferBytes bounds the per-workload console ring buffer.
	// Defaults to 256KB.
	ConsoleBufferBytes int64
}

// SpawnSpec describes the process to launch for a workload.
type SpawnSpec struct {
	WorkloadID int64
	Name       string
	Dir        string
	Port       int
}

// ExitFunc is invoked by the exit watcher after the process handle has been
// cleared. It runs exactly once per spawned process.
type ExitFunc func(workloadID int64)

// ConsoleSink receives console lines as they are drained. Optional.
type ConsoleSink interface {
	ConsoleLine(line v1.ConsoleLine)
}

const defaultConsoleBufferBytes = 256 * 1024

// ringBuffer keeps the most recent console lines within a byte budget.
type ringBuffer struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	lines    []v1.ConsoleLine
}

func newRingBuffer(maxBytes int64) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultConsoleBufferBytes
	}
	return &ringBuffer{maxBytes: maxBytes}
}

func (b *ringBuffer) append(line v1.ConsoleLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	b.size += int64(len(line.Line))

	for b.size > b.maxBytes && len(b.lines) > 0 {
		b.size -= int64(len(b.lines[0].Line))
		b.lines = b.lines[1:]
	}
}

func (b *ringBuffer) snapshot() []v1.ConsoleLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]v1.ConsoleLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// handle tracks one spawned process.
type handle struct {
	spec          SpawnSpec
	cmd           *exec.Cmd
	buffer        *ringBuffer
	done          chan struct{} // closed by the exit watcher after onExit
	stopRequested atomic.Bool
}

// Supervisor spawns and terminates workload processes.
type Supervisor struct {
	cfg    Config
	logger *logger.Logger
	sink   ConsoleSink

	mu      sync.RWMutex
	handles map[int64]*handle
}

// New creates a supervisor. The sink may be nil.
func New(cfg Config, sink ConsoleSink, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		logger:  log.WithFields(zap.String("component", "supervisor")),
		sink:    sink,
		handles: make(map[int64]*handle),
	}
}

// Spawn launches the workload process and returns once it is started.
// onExit runs from the exit watcher goroutine whenever the process ends,
// whether through Stop or an external kill.
func (s *Supervisor) Spawn(spec SpawnSpec, onExit ExitFunc) error {
	xmx := s.cfg.MemoryMB
	xms := xmx / 2
	cmd := exec.Command(s.cfg.JavaBin,
		fmt.Sprintf("-Xmx%dM", xmx),
		fmt.Sprintf("-Xms%dM", xms),
		"-jar", s.cfg.RuntimeJar,
		"--nogui",
		"--port", fmt.Sprintf("%d", spec.Port),
	)
	cmd.Dir = spec.Dir
	// New process group so Stop can signal the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// One combined pipe keeps stdout and stderr interleaved in console order
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	h := &handle{
		spec:   spec,
		cmd:    cmd,
		buffer: newRingBuffer(s.cfg.ConsoleBufferBytes),
		done:   make(chan struct{}),
	}

	// Reserve the handle slot before starting so a second Spawn for the
	// same workload cannot slip through
	s.mu.Lock()
	if _, exists := s.handles[spec.WorkloadID]; exists {
		s.mu.Unlock()
		pr.Close()
		pw.Close()
		return fmt.Errorf("workload %d already has a running process", spec.WorkloadID)
	}
	s.handles[spec.WorkloadID] = h
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.mu.Lock()
		delete(s.handles, spec.WorkloadID)
		s.mu.Unlock()
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start process for %s: %w", spec.Name, err)
	}
	// The child holds its own copy of the write end
	pw.Close()

	s.logger.Info("Spawned workload process",
		zap.Int64("workload_id", spec.WorkloadID),
		zap.String("workload", spec.Name),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", spec.Port))

	go s.drain(h, pr)
	go s.watch(h, onExit)

	return nil
}

// drain reads console lines until the pipe closes on process exit.
func (s *Supervisor) drain(h *handle, pr *os.File) {
	defer pr.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := v1.ConsoleLine{
			WorkloadID: h.spec.WorkloadID,
			Name:       h.spec.Name,
			Line:       scanner.Text(),
			Timestamp:  time.Now().UTC(),
		}
		h.buffer.append(line)
		if s.sink != nil {
			s.sink.ConsoleLine(line)
		}
		if s.cfg.DebugConsole {
			s.logger.Debug("console",
				zap.String("workload", h.spec.Name),
				zap.String("line", line.Line))
		}
	}
	if err := scanner.Err(); err != nil && !h.stopRequested.Load() {
		s.logger.Warn("Console drain ended abnormally",
			zap.String("workload", h.spec.Name),
			zap.Error(err))
	}
}

// watch blocks until the process exits, clears the handle, runs the exit
// callback and signals done. This ordering guarantees that by the time
// done is observable the workload's status has been settled by onExit.
func (s *Supervisor) watch(h *handle, onExit ExitFunc) {
	err := h.cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	s.logger.Info("Workload process exited",
		zap.Int64("workload_id", h.spec.WorkloadID),
		zap.String("workload", h.spec.Name),
		zap.Int("exit_code", exitCode),
		zap.Bool("stop_requested", h.stopRequested.Load()))

	s.mu.Lock()
	delete(s.handles, h.spec.WorkloadID)
	s.mu.Unlock()

	if onExit != nil {
		onExit(h.spec.WorkloadID)
	}
	close(h.done)
}

// Stop terminates the workload process: SIGTERM to the process group, then
// SIGKILL after the grace period. It returns after the exit watcher has
// finished, so the exit callback has already run. No handle is a no-op.
func (s *Supervisor) Stop(ctx context.Context, workloadID int64, grace time.Duration) error {
	s.mu.RLock()
	h, ok := s.handles[workloadID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	h.stopRequested.Store(true)

	pid := h.cmd.Process.Pid
	pgid, pgErr := syscall.Getpgid(pid)
	if pgErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
	case <-time.After(grace):
		s.logger.Warn("Grace period expired, killing workload process",
			zap.Int64("workload_id", workloadID),
			zap.String("workload", h.spec.Name))
	}

	if pgErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = h.cmd.Process.Kill()
	}

	<-h.done
	return nil
}

// StopAll stops every running workload process.
func (s *Supervisor) StopAll(ctx context.Context, grace time.Duration) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = s.Stop(ctx, id, grace)
		}(id)
	}
	wg.Wait()
}

// Running reports whether the workload has a live process handle.
func (s *Supervisor) Running(workloadID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[workloadID]
	return ok
}

// Pid returns the process ID for a running workload.
func (s *Supervisor) Pid(workloadID int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[workloadID]
	if !ok {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

// Console returns a snapshot of the buffered console lines.
func (s *Supervisor) Console(workloadID int64) []v1.ConsoleLine {
	s.mu.RLock()
	h, ok := s.handles[workloadID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.buffer.snapshot()
}
