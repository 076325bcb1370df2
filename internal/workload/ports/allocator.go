// Package ports hands out listen ports for workloads from a fixed range.
package ports

import (
	"fmt"
	"sync"

	"github.com/hostclub/serverpool/internal/common/errors"
)

// Allocator owns the pool's port range. All lease state lives here; callers
// never probe the network.
type Allocator struct {
	mu     sync.Mutex
	base   int
	max    int // inclusive
	leases map[int]string // port -> owner tenant ID
}

// NewAllocator creates an allocator over the inclusive range [base, max].
func NewAllocator(base, max int) *Allocator {
	return &Allocator{
		base:   base,
		max:    max,
		leases: make(map[int]string),
	}
}

// Allocate leases the lowest free port in the range to the owner.
// Returns a resource exhausted error when every port is leased.
func (a *Allocator) Allocate(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.base; port <= a.max; port++ {
		if _, taken := a.leases[port]; !taken {
			a.leases[port] = owner
			return port, nil
		}
	}
	return 0, errors.ResourceExhausted(
		fmt.Sprintf("no free ports in range %d-%d", a.base, a.max))
}

// Claim leases a specific port to the owner. Used on cold start to seed
// leases from loaded workloads. Claiming a leased port is a conflict.
func (a *Allocator) Claim(port int, owner string) error {
	if port < a.base || port > a.max {
		return errors.BadRequest(
			fmt.Sprintf("port %d is outside range %d-%d", port, a.base, a.max))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if holder, taken := a.leases[port]; taken {
		return errors.Conflict(
			fmt.Sprintf("port %d is already leased to %s", port, holder))
	}
	a.leases[port] = owner
	return nil
}

// Release frees a port. Releasing an unleased port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.leases, port)
}

// Leased reports whether the port is currently leased.
func (a *Allocator) Leased(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, taken := a.leases[port]
	return taken
}
