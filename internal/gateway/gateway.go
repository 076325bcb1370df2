// Package gateway wires the pool into the shared player-facing proxy.
// Workloads register a named route pointing at their host and port; the
// proxy reports how many players currently occupy each route.
package gateway

import "context"

// Gateway is the network registration collaborator for workloads.
type Gateway interface {
	// Register announces a route so the proxy can forward players to it.
	// Registering an existing name updates its target.
	Register(ctx context.Context, name, host string, port int) error

	// Unregister removes a route. Removing an unknown name is not an error.
	Unregister(ctx context.Context, name string) error

	// OccupantCount returns the number of players currently connected to
	// the named route.
	OccupantCount(ctx context.Context, name string) (int, error)
}
