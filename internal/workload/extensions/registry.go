// Package extensions holds the allow-list of installable extensions.
package extensions

import "sort"

// Registry answers whether an extension may be installed. The allow-list
// is fixed at startup from configuration.
type Registry struct {
	allowed map[string]struct{}
}

// NewRegistry creates a registry from the configured allow-list.
func NewRegistry(names []string) *Registry {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return &Registry{allowed: allowed}
}

// Allowed reports whether the extension may be installed.
func (r *Registry) Allowed(name string) bool {
	_, ok := r.allowed[name]
	return ok
}

// List returns the allow-list sorted by name.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.allowed))
	for n := range r.allowed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
