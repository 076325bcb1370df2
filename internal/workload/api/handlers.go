package api

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/workload"
	"github.com/hostclub/serverpool/internal/workload/streaming"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler contains HTTP handlers for the workload pool API
type Handler struct {
	manager *workload.Manager
	hub     *streaming.Hub
	host    string
	logger  *logger.Logger
}

// NewHandler creates a new API handler. host is the address tenants connect
// to, as returned by the join endpoint.
func NewHandler(manager *workload.Manager, hub *streaming.Hub, host string, log *logger.Logger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		host:    host,
		logger:  log,
	}
}

// CreateWorkload provisions a workload for a tenant
// POST /api/v1/workloads
func (h *Handler) CreateWorkload(c *gin.Context) {
	var req CreateWorkloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	w, err := h.manager.Create(c.Request.Context(), req.TenantID, req.TenantLabel)
	if err != nil {
		h.respondError(c, "failed to create workload", err)
		return
	}

	c.JSON(http.StatusCreated, w.ToAPI())
}

// GetWorkload retrieves a tenant's workload
// GET /api/v1/workloads/:tenantId
func (h *Handler) GetWorkload(c *gin.Context) {
	w, err := h.manager.Get(c.Param("tenantId"))
	if err != nil {
		h.respondError(c, "failed to get workload", err)
		return
	}

	c.JSON(http.StatusOK, w.ToAPI())
}

// ListWorkloads returns all workloads in the pool
// GET /api/v1/workloads
func (h *Handler) ListWorkloads(c *gin.Context) {
	workloads := h.manager.List()

	resp := WorkloadsListResponse{
		Workloads: make([]*v1.Workload, len(workloads)),
		Total:     len(workloads),
	}
	for i, w := range workloads {
		resp.Workloads[i] = w.ToAPI()
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteWorkload tears down a tenant's workload
// DELETE /api/v1/workloads/:tenantId
func (h *Handler) DeleteWorkload(c *gin.Context) {
	tenantID := c.Param("tenantId")
	if err := h.manager.Delete(c.Request.Context(), tenantID); err != nil {
		h.respondError(c, "failed to delete workload", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "workload deleted"})
}

// StartWorkload starts a tenant's workload
// POST /api/v1/workloads/:tenantId/start
func (h *Handler) StartWorkload(c *gin.Context) {
	tenantID := c.Param("tenantId")
	if err := h.manager.Start(c.Request.Context(), tenantID); err != nil {
		h.respondError(c, "failed to start workload", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "workload started"})
}

// StopWorkload stops a tenant's workload
// POST /api/v1/workloads/:tenantId/stop
func (h *Handler) StopWorkload(c *gin.Context) {
	tenantID := c.Param("tenantId")
	if err := h.manager.Stop(c.Request.Context(), tenantID); err != nil {
		h.respondError(c, "failed to stop workload", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "workload stopped"})
}

// JoinWorkload prepares a workload for a tenant to connect: starts it when
// it is not already running, refreshes last-active and returns the connect
// address.
// POST /api/v1/workloads/:tenantId/join
func (h *Handler) JoinWorkload(c *gin.Context) {
	tenantID := c.Param("tenantId")

	w, err := h.manager.Get(tenantID)
	if err != nil {
		h.respondError(c, "failed to join workload", err)
		return
	}

	if err := h.manager.Start(c.Request.Context(), tenantID); err != nil {
		h.respondError(c, "failed to join workload", err)
		return
	}

	if err := h.manager.Touch(c.Request.Context(), tenantID); err != nil {
		h.logger.Warn("failed to refresh last active on join",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}

	c.JSON(http.StatusOK, JoinResponse{
		Success: true,
		Message: "workload ready",
		Address: fmt.Sprintf("%s:%d", h.host, w.Port),
	})
}

// AddOperator grants operator rights on a workload
// POST /api/v1/workloads/:tenantId/operators
func (h *Handler) AddOperator(c *gin.Context) {
	tenantID := c.Param("tenantId")

	var req AddOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.manager.AddOperator(c.Request.Context(), tenantID, req.Identity); err != nil {
		h.respondError(c, "failed to add operator", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "operator added"})
}

// RemoveOperator revokes operator rights on a workload
// DELETE /api/v1/workloads/:tenantId/operators/:identity
func (h *Handler) RemoveOperator(c *gin.Context) {
	tenantID := c.Param("tenantId")
	identity := c.Param("identity")

	if err := h.manager.RemoveOperator(c.Request.Context(), tenantID, identity); err != nil {
		h.respondError(c, "failed to remove operator", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "operator removed"})
}

// InstallExtension installs an extension into a workload
// POST /api/v1/workloads/:tenantId/extensions
func (h *Handler) InstallExtension(c *gin.Context) {
	tenantID := c.Param("tenantId")

	var req InstallExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.manager.InstallExtension(c.Request.Context(), tenantID, req.Name); err != nil {
		h.respondError(c, "failed to install extension", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "extension installed"})
}

// UninstallExtension removes an extension from a workload
// DELETE /api/v1/workloads/:tenantId/extensions/:name
func (h *Handler) UninstallExtension(c *gin.Context) {
	tenantID := c.Param("tenantId")
	name := c.Param("name")

	if err := h.manager.UninstallExtension(c.Request.Context(), tenantID, name); err != nil {
		h.respondError(c, "failed to uninstall extension", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "extension uninstalled"})
}

// UpdateSetting changes a workload setting
// PUT /api/v1/workloads/:tenantId/settings/:key
func (h *Handler) UpdateSetting(c *gin.Context) {
	tenantID := c.Param("tenantId")
	key := c.Param("key")

	var req UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.manager.UpdateSetting(c.Request.Context(), tenantID, key, req.Value); err != nil {
		h.respondError(c, "failed to update setting", err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "setting updated"})
}

// GetConsole returns the buffered console output of a workload
// GET /api/v1/workloads/:tenantId/console
func (h *Handler) GetConsole(c *gin.Context) {
	lines, err := h.manager.Console(c.Param("tenantId"))
	if err != nil {
		h.respondError(c, "failed to read console", err)
		return
	}

	c.JSON(http.StatusOK, ConsoleResponse{Lines: lines, Total: len(lines)})
}

// StreamConsole upgrades to a WebSocket subscribed to the workload's
// console output
// GET /api/v1/workloads/:tenantId/console/stream
func (h *Handler) StreamConsole(c *gin.Context) {
	w, err := h.manager.Get(c.Param("tenantId"))
	if err != nil {
		h.respondError(c, "failed to stream console", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := streaming.NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)
	client.Subscribe(w.Name)

	go client.WritePump()
	go client.ReadPump()
}

// Health reports service liveness
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps a manager error to an HTTP response. Unexpected errors
// are logged and reported as internal.
func (h *Handler) respondError(c *gin.Context, message string, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.InternalError(message, err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, appErr)
}
