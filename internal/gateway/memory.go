package gateway

import (
	"context"
	"fmt"
	"sync"
)

// route is a registered proxy target.
type route struct {
	host      string
	port      int
	occupants int
}

// Memory is an in-process Gateway used in local mode and tests.
type Memory struct {
	mu     sync.RWMutex
	routes map[string]*route
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{routes: make(map[string]*route)}
}

// Register adds or updates a route.
func (m *Memory) Register(ctx context.Context, name, host string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.routes[name]; ok {
		r.host = host
		r.port = port
		return nil
	}
	m.routes[name] = &route{host: host, port: port}
	return nil
}

// Unregister removes a route. Unknown names are ignored.
func (m *Memory) Unregister(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routes, name)
	return nil
}

// OccupantCount returns the occupant count for a route.
func (m *Memory) OccupantCount(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.routes[name]
	if !ok {
		return 0, fmt.Errorf("route %q is not registered", name)
	}
	return r.occupants, nil
}

// SetOccupants overrides the occupant count for a route. Test helper.
func (m *Memory) SetOccupants(name string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.routes[name]; ok {
		r.occupants = count
	}
}

// HasRoute reports whether a route is registered. Test helper.
func (m *Memory) HasRoute(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.routes[name]
	return ok
}
