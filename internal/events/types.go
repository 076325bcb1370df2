// Package events defines the lifecycle event subjects published by the pool.
package events

// Workload lifecycle subjects.
const (
	SubjectWorkloadCreated = "workload.created"
	SubjectWorkloadStarted = "workload.started"
	SubjectWorkloadStopped = "workload.stopped"
	SubjectWorkloadDeleted = "workload.deleted"

	SubjectSettingUpdated       = "workload.setting.updated"
	SubjectExtensionInstalled   = "workload.extension.installed"
	SubjectExtensionUninstalled = "workload.extension.uninstalled"
)

// Source identifies the pool manager as the event producer.
const Source = "pool-manager"
