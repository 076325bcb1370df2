package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/events/bus"
)

// Subjects the proxy layer listens and answers on.
const (
	subjectRouteRegister   = "gateway.route.register"
	subjectRouteUnregister = "gateway.route.unregister"
	subjectRouteOccupants  = "gateway.route.occupants"
)

const occupantRequestTimeout = 5 * time.Second

// NATS is a Gateway that talks to the proxy layer over the event bus.
// Route changes are published; occupancy is a request/reply round trip.
type NATS struct {
	bus    bus.EventBus
	logger *logger.Logger
}

// NewNATS creates a gateway client on top of an event bus.
func NewNATS(eventBus bus.EventBus, log *logger.Logger) *NATS {
	return &NATS{bus: eventBus, logger: log}
}

// Register publishes a route registration for the proxy to pick up.
func (g *NATS) Register(ctx context.Context, name, host string, port int) error {
	event := bus.NewEvent("route.register", "pool-manager", map[string]interface{}{
		"name": name,
		"host": host,
		"port": port,
	})
	if err := g.bus.Publish(ctx, subjectRouteRegister, event); err != nil {
		return fmt.Errorf("failed to register route %s: %w", name, err)
	}
	g.logger.Debug("Registered gateway route",
		zap.String("route", name),
		zap.String("host", host),
		zap.Int("port", port))
	return nil
}

// Unregister publishes a route removal.
func (g *NATS) Unregister(ctx context.Context, name string) error {
	event := bus.NewEvent("route.unregister", "pool-manager", map[string]interface{}{
		"name": name,
	})
	if err := g.bus.Publish(ctx, subjectRouteUnregister, event); err != nil {
		return fmt.Errorf("failed to unregister route %s: %w", name, err)
	}
	g.logger.Debug("Unregistered gateway route", zap.String("route", name))
	return nil
}

// OccupantCount asks the proxy how many players occupy a route.
func (g *NATS) OccupantCount(ctx context.Context, name string) (int, error) {
	request := bus.NewEvent("route.occupants", "pool-manager", map[string]interface{}{
		"name": name,
	})
	response, err := g.bus.Request(ctx, subjectRouteOccupants, request, occupantRequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("occupant count request for %s failed: %w", name, err)
	}

	// JSON transport decodes numbers as float64; the memory bus keeps ints
	switch v := response.Data["count"].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("occupant count response for %s has no count", name)
	}
}
