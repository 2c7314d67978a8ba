// Package events provides an in-process publish/subscribe bus for
// domain events. Modules subscribe handlers at startup; publishers
// never know who listens.
package events

import (
	"context"
	"time"
)

// Event is implemented by every domain event
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent provides the timestamp part of Event
type BaseEvent struct {
	At time.Time
}

// NewBaseEvent creates a base event stamped now
func NewBaseEvent() BaseEvent {
	return BaseEvent{At: time.Now().UTC()}
}

func (b BaseEvent) OccurredAt() time.Time {
	return b.At
}

// Handler processes a published event
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to subscribed handlers
type Bus interface {
	// Publish delivers the event asynchronously; handler errors are
	// logged, never returned to the publisher.
	Publish(ctx context.Context, event Event)
	// PublishSync delivers the event on the calling goroutine and
	// returns the joined handler errors.
	PublishSync(ctx context.Context, event Event) error
	// Subscribe registers a handler for the named event
	Subscribe(eventName string, handler Handler)
}
