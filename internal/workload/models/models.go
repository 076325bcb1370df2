// Package models defines the domain model for tenant workloads.
package models

import (
	"time"

	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// Default settings applied to every new workload.
const (
	DefaultMaxPlayers = "20"
	DefaultGamemode   = "survival"
	DefaultDifficulty = "normal"
	DefaultWhitelist  = "false"
)

// Setting keys mirrored into the generated server config. Settings are
// otherwise free-form.
const (
	SettingMaxPlayers = "max_players"
	SettingMOTD       = "motd"
	SettingGamemode   = "gamemode"
	SettingDifficulty = "difficulty"
	SettingWhitelist  = "whitelist"
)

// MirrorsServerConfig reports whether changing the key requires the server
// config file to be regenerated.
func MirrorsServerConfig(key string) bool {
	switch key {
	case SettingMaxPlayers, SettingMOTD, SettingGamemode,
		SettingDifficulty, SettingWhitelist:
		return true
	}
	return false
}

// Workload is a tenant-owned server instance managed by the pool.
// Process handles are never part of the model; they live in the supervisor
// and are rebuilt empty on restart.
type Workload struct {
	ID           int64
	TenantID     string
	TenantLabel  string
	Name         string
	Port         int
	Status       v1.WorkloadStatus
	CreatedAt    time.Time
	LastActiveAt time.Time

	Operators  map[string]struct{}
	Extensions map[string]struct{}
	Settings   map[string]string
}

// New creates a workload in the STOPPED state with default settings and the
// owning tenant as sole operator.
func New(tenantID, tenantLabel, name string, port int) *Workload {
	now := time.Now().UTC()
	return &Workload{
		TenantID:     tenantID,
		TenantLabel:  tenantLabel,
		Name:         name,
		Port:         port,
		Status:       v1.WorkloadStatusStopped,
		CreatedAt:    now,
		LastActiveAt: now,
		Operators:    map[string]struct{}{tenantID: {}},
		Extensions:   make(map[string]struct{}),
		Settings:     DefaultSettings(tenantLabel),
	}
}

// DefaultSettings returns the initial settings map for a workload.
func DefaultSettings(tenantLabel string) map[string]string {
	return map[string]string{
		SettingMaxPlayers: DefaultMaxPlayers,
		SettingMOTD:       tenantLabel + "'s Server",
		SettingGamemode:   DefaultGamemode,
		SettingDifficulty: DefaultDifficulty,
		SettingWhitelist:  DefaultWhitelist,
	}
}

// IsOperator reports whether the identity may administer the workload.
func (w *Workload) IsOperator(identity string) bool {
	_, ok := w.Operators[identity]
	return ok
}

// AddOperator grants the identity operator rights.
func (w *Workload) AddOperator(identity string) {
	if w.Operators == nil {
		w.Operators = make(map[string]struct{})
	}
	w.Operators[identity] = struct{}{}
}

// RemoveOperator revokes operator rights.
func (w *Workload) RemoveOperator(identity string) {
	delete(w.Operators, identity)
}

// HasExtension reports whether the named extension is installed.
func (w *Workload) HasExtension(name string) bool {
	_, ok := w.Extensions[name]
	return ok
}

// AddExtension records an installed extension.
func (w *Workload) AddExtension(name string) {
	if w.Extensions == nil {
		w.Extensions = make(map[string]struct{})
	}
	w.Extensions[name] = struct{}{}
}

// RemoveExtension removes an installed extension record.
func (w *Workload) RemoveExtension(name string) {
	delete(w.Extensions, name)
}

// Setting returns a setting value and whether it is set.
func (w *Workload) Setting(key string) (string, bool) {
	v, ok := w.Settings[key]
	return v, ok
}

// SetSetting stores a setting value.
func (w *Workload) SetSetting(key, value string) {
	if w.Settings == nil {
		w.Settings = make(map[string]string)
	}
	w.Settings[key] = value
}

// Clone returns a deep copy of the workload.
func (w *Workload) Clone() *Workload {
	c := *w
	c.Operators = make(map[string]struct{}, len(w.Operators))
	for k := range w.Operators {
		c.Operators[k] = struct{}{}
	}
	c.Extensions = make(map[string]struct{}, len(w.Extensions))
	for k := range w.Extensions {
		c.Extensions[k] = struct{}{}
	}
	c.Settings = make(map[string]string, len(w.Settings))
	for k, v := range w.Settings {
		c.Settings[k] = v
	}
	return &c
}

// ToAPI converts the workload to its API representation. Operator and
// extension order is unspecified.
func (w *Workload) ToAPI() *v1.Workload {
	operators := make([]string, 0, len(w.Operators))
	for op := range w.Operators {
		operators = append(operators, op)
	}
	extensions := make([]string, 0, len(w.Extensions))
	for ext := range w.Extensions {
		extensions = append(extensions, ext)
	}
	settings := make(map[string]string, len(w.Settings))
	for k, v := range w.Settings {
		settings[k] = v
	}
	return &v1.Workload{
		ID:           w.ID,
		TenantID:     w.TenantID,
		TenantLabel:  w.TenantLabel,
		Name:         w.Name,
		Port:         w.Port,
		Status:       w.Status,
		Operators:    operators,
		Extensions:   extensions,
		Settings:     settings,
		CreatedAt:    w.CreatedAt,
		LastActiveAt: w.LastActiveAt,
	}
}
