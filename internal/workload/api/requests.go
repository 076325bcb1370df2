// Package api provides HTTP handlers for the workload pool API.
package api

import v1 "github.com/hostclub/serverpool/pkg/api/v1"

// CreateWorkloadRequest for provisioning a workload
type CreateWorkloadRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	TenantLabel string `json:"tenant_label" binding:"required"`
}

// AddOperatorRequest for granting operator rights
type AddOperatorRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// InstallExtensionRequest for installing an extension
type InstallExtensionRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateSettingRequest for changing a workload setting
type UpdateSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

// Response types

// ActionResponse reports the outcome of a lifecycle action
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// JoinResponse reports the outcome of a join request
type JoinResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

// WorkloadsListResponse for listing workloads
type WorkloadsListResponse struct {
	Workloads []*v1.Workload `json:"workloads"`
	Total     int            `json:"total"`
}

// ConsoleResponse carries buffered console output
type ConsoleResponse struct {
	Lines []v1.ConsoleLine `json:"lines"`
	Total int              `json:"total"`
}
