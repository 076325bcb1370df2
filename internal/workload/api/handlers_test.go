package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostclub/serverpool/internal/common/config"
	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/events/bus"
	"github.com/hostclub/serverpool/internal/gateway"
	"github.com/hostclub/serverpool/internal/workload"
	"github.com/hostclub/serverpool/internal/workload/extensions"
	"github.com/hostclub/serverpool/internal/workload/store"
	"github.com/hostclub/serverpool/internal/workload/streaming"
	"github.com/hostclub/serverpool/internal/workload/supervisor"
	"github.com/hostclub/serverpool/internal/workload/workspace"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// stubSupervisor satisfies workload.ProcessSupervisor without spawning
// real processes.
type stubSupervisor struct {
	mu      sync.Mutex
	running map[int64]bool
}

func newStubSupervisor() *stubSupervisor {
	return &stubSupervisor{running: make(map[int64]bool)}
}

func (s *stubSupervisor) Spawn(spec supervisor.SpawnSpec, onExit supervisor.ExitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[spec.WorkloadID] = true
	return nil
}

func (s *stubSupervisor) Stop(ctx context.Context, workloadID int64, grace time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, workloadID)
	return nil
}

func (s *stubSupervisor) StopAll(ctx context.Context, grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = make(map[int64]bool)
}

func (s *stubSupervisor) Running(workloadID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[workloadID]
}

func (s *stubSupervisor) Console(workloadID int64) []v1.ConsoleLine {
	return []v1.ConsoleLine{{WorkloadID: workloadID, Line: "Done (2.153s)!"}}
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	cfg := config.PoolConfig{
		Host:              "127.0.0.1",
		BasePort:          30000,
		MaxPort:           30010,
		TemplateDir:       filepath.Join(root, "template"),
		WorkloadsDir:      filepath.Join(root, "workloads"),
		RuntimeJar:        filepath.Join(root, "paper.jar"),
		ExtensionsDir:     filepath.Join(root, "extensions"),
		StopGraceSeconds:  1,
		InactivityMinutes: 5,
	}
	require.NoError(t, os.MkdirAll(cfg.TemplateDir, 0o750))
	require.NoError(t, os.WriteFile(cfg.RuntimeJar, []byte("jar"), 0o640))
	require.NoError(t, os.MkdirAll(cfg.ExtensionsDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ExtensionsDir, "essentials.jar"), []byte("ext"), 0o640))

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	builder := workspace.NewBuilder(workspace.Config{
		TemplateDir:   cfg.TemplateDir,
		WorkloadsDir:  cfg.WorkloadsDir,
		RuntimeJar:    cfg.RuntimeJar,
		ExtensionsDir: cfg.ExtensionsDir,
		Host:          cfg.Host,
	}, log)
	manager := workload.NewManager(cfg, store.NewMemory(), builder, newStubSupervisor(),
		gateway.NewMemory(), extensions.NewRegistry([]string{"essentials"}), bus.NewMemoryEventBus(log), log)

	hub := streaming.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), manager, hub, cfg.Host, log)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createWorkload(t *testing.T, router *gin.Engine, tenantID, label string) v1.Workload {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads", CreateWorkloadRequest{
		TenantID:    tenantID,
		TenantLabel: label,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp v1.Workload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandler_CreateWorkload(t *testing.T) {
	router := setupTestRouter(t)

	resp := createWorkload(t, router, "tenant-1", "Steve")
	assert.Equal(t, "p_steve", resp.Name)
	assert.Equal(t, 30000, resp.Port)
	assert.Equal(t, v1.WorkloadStatusStopped, resp.Status)
	assert.Contains(t, resp.Operators, "Steve")
}

func TestHandler_CreateWorkload_Validation(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads", map[string]string{"tenant_id": "tenant-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateWorkload_Duplicate(t *testing.T) {
	router := setupTestRouter(t)

	createWorkload(t, router, "tenant-1", "Steve")
	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads", CreateWorkloadRequest{
		TenantID:    "tenant-1",
		TenantLabel: "Steve",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_GetWorkload(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodGet, "/api/v1/workloads/tenant-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp v1.Workload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tenant-1", resp.TenantID)
}

func TestHandler_GetWorkload_NotFound(t *testing.T) {
	router := setupTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/workloads/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ListWorkloads(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")
	createWorkload(t, router, "tenant-2", "Alex")

	w := doJSON(t, router, http.MethodGet, "/api/v1/workloads", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp WorkloadsListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Workloads, 2)
}

func TestHandler_StartStop(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var action ActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &action))
	assert.True(t, action.Success)

	got := doJSON(t, router, http.MethodGet, "/api/v1/workloads/tenant-1", nil)
	var resp v1.Workload
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &resp))
	assert.Equal(t, v1.WorkloadStatusRunning, resp.Status)

	w = doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Join(t *testing.T) {
	router := setupTestRouter(t)
	created := createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/join", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp JoinResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "127.0.0.1:30000", resp.Address)
	_ = created

	// Joining again while running is fine
	w = doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/join", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_DeleteWorkload(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodDelete, "/api/v1/workloads/tenant-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := doJSON(t, router, http.MethodGet, "/api/v1/workloads/tenant-1", nil)
	assert.Equal(t, http.StatusNotFound, got.Code)
}

func TestHandler_Operators(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/operators", AddOperatorRequest{Identity: "Alex"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Duplicate add conflicts
	w = doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/operators", AddOperatorRequest{Identity: "Alex"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/workloads/tenant-1/operators/Alex", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// The owner cannot be removed
	w = doJSON(t, router, http.MethodDelete, "/api/v1/workloads/tenant-1/operators/Steve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_Extensions(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/extensions", InstallExtensionRequest{Name: "essentials"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Not on the allow-list
	w = doJSON(t, router, http.MethodPost, "/api/v1/workloads/tenant-1/extensions", InstallExtensionRequest{Name: "griefer-tools"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/workloads/tenant-1/extensions/essentials", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/workloads/tenant-1/extensions/essentials", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_UpdateSetting(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodPut, "/api/v1/workloads/tenant-1/settings/motd", UpdateSettingRequest{Value: "Welcome"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := doJSON(t, router, http.MethodGet, "/api/v1/workloads/tenant-1", nil)
	var resp v1.Workload
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &resp))
	assert.Equal(t, "Welcome", resp.Settings["motd"])

	// Settings are free-form: keys outside the mirrored set persist too
	w = doJSON(t, router, http.MethodPut, "/api/v1/workloads/tenant-1/settings/pvp", UpdateSettingRequest{Value: "false"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got = doJSON(t, router, http.MethodGet, "/api/v1/workloads/tenant-1", nil)
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &resp))
	assert.Equal(t, "false", resp.Settings["pvp"])
}

func TestHandler_GetConsole(t *testing.T) {
	router := setupTestRouter(t)
	createWorkload(t, router, "tenant-1", "Steve")

	w := doJSON(t, router, http.MethodGet, "/api/v1/workloads/tenant-1/console", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ConsoleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
}
