package core

import (
	"context"
	"fmt"
	"sync"
)

// Context is what a policy handler sees for one event. It wraps the event,
// decodes the payload via Bind and settles the delivery via Ack or Nack.
type Context interface {
	// Context returns the underlying context.Context.
	Context() context.Context

	// SetContext replaces the underlying context.Context.
	SetContext(ctx context.Context)

	// Event returns the event being handled.
	Event() Event

	// Key returns the event's routing key.
	Key() RoutingKey

	// Payload returns the raw message body.
	Payload() []byte

	// Header returns a single header value formatted as a string.
	Header(name string) string

	// Bind decodes the payload into v using the configured Binder.
	Bind(v any) error

	// Ack acknowledges the delivery. The worker will not settle it again.
	Ack() error

	// Nack negatively acknowledges the delivery.
	Nack(requeue bool) error

	// Settled reports whether Ack or Nack has been called.
	Settled() bool

	// Set stores a value for downstream middleware or handlers.
	Set(key string, val any)

	// Get retrieves a value stored with Set.
	Get(key string) (any, bool)
}

// HandlerFunc evaluates one event.
//
//	mux.Handle("acme/*", func(c core.Context) error {
//	    var reading Reading
//	    if err := c.Bind(&reading); err != nil {
//	        return err
//	    }
//	    return evaluate(c.Key(), reading)
//	})
type HandlerFunc func(c Context) error

// MiddlewareFunc wraps a HandlerFunc with cross-cutting behavior.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

type eventContext struct {
	ctx     context.Context
	ev      Event
	binder  Binder
	headers map[string]string

	mu      sync.RWMutex
	store   map[string]any
	settled bool
}

// NewContext creates a Context for ev. Workers call it once per event.
func NewContext(ctx context.Context, ev Event, binder Binder) Context {
	return &eventContext{
		ctx:    ctx,
		ev:     ev,
		binder: binder,
		store:  make(map[string]any),
	}
}

func (c *eventContext) Context() context.Context { return c.ctx }

func (c *eventContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *eventContext) Event() Event { return c.ev }

func (c *eventContext) Key() RoutingKey { return c.ev.Key }

func (c *eventContext) Payload() []byte { return c.ev.Delivery.Body }

func (c *eventContext) Header(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headers == nil {
		c.headers = c.ev.Delivery.HeaderStrings()
	}
	return c.headers[name]
}

func (c *eventContext) Bind(v any) error {
	if c.binder == nil {
		return fmt.Errorf("astrate: no binder configured")
	}
	if err := c.binder.Bind(c.ev.Delivery.Body, v); err != nil {
		return fmt.Errorf("astrate: bind: %w", err)
	}
	return nil
}

func (c *eventContext) Ack() error {
	c.markSettled()
	if err := c.ev.Ack(); err != nil {
		return fmt.Errorf("astrate: ack: %w", err)
	}
	return nil
}

func (c *eventContext) Nack(requeue bool) error {
	c.markSettled()
	if err := c.ev.Nack(requeue); err != nil {
		return fmt.Errorf("astrate: nack: %w", err)
	}
	return nil
}

func (c *eventContext) Settled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settled
}

func (c *eventContext) markSettled() {
	c.mu.Lock()
	c.settled = true
	c.mu.Unlock()
}

func (c *eventContext) Set(key string, val any) {
	c.mu.Lock()
	c.store[key] = val
	c.mu.Unlock()
}

func (c *eventContext) Get(key string) (any, bool) {
	c.mu.RLock()
	val, ok := c.store[key]
	c.mu.RUnlock()
	return val, ok
}
