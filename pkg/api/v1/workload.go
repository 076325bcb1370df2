package v1

import "time"

// WorkloadStatus represents the lifecycle status of a workload
type WorkloadStatus string

const (
	WorkloadStatusStopped  WorkloadStatus = "STOPPED"
	WorkloadStatusStarting WorkloadStatus = "STARTING"
	WorkloadStatusRunning  WorkloadStatus = "RUNNING"
	WorkloadStatusStopping WorkloadStatus = "STOPPING"
	WorkloadStatusDeleted  WorkloadStatus = "DELETED"
)

// Workload is the API representation of a tenant-owned server workload
type Workload struct {
	ID           int64             `json:"id"`
	TenantID     string            `json:"tenant_id"`
	TenantLabel  string            `json:"tenant_label"`
	Name         string            `json:"name"`
	Port         int               `json:"port"`
	Status       WorkloadStatus    `json:"status"`
	Operators    []string          `json:"operators"`
	Extensions   []string          `json:"extensions"`
	Settings     map[string]string `json:"settings"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
}

// ConsoleLine is a single line of workload console output
type ConsoleLine struct {
	WorkloadID int64     `json:"workload_id"`
	Name       string    `json:"name"`
	Line       string    `json:"line"`
	Timestamp  time.Time `json:"timestamp"`
}
