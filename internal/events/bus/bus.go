// Package bus carries the pool's lifecycle events between components,
// either over NATS or in process.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published on every subject. Data is free-form and
// must survive a JSON round trip.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // producing service, e.g. "pool-manager"
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh envelope with an ID and UTC timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one delivered event. A returned error is logged by
// the bus; delivery is not retried.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a handle on an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is what the manager and gateway publish and subscribe through.
type EventBus interface {
	// Publish emits an event on a subject. Fire and forget.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern. NATS wildcards
	// apply: "*" matches one token, ">" matches the rest.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Request performs request/reply on a subject, bounded by timeout.
	// The gateway's occupancy checks ride on this.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	// Close tears the bus down; active subscriptions go with it.
	Close()

	// IsConnected reports whether the bus can currently deliver.
	IsConnected() bool
}
