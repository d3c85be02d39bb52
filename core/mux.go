package core

import (
	"fmt"
	"sync"
)

type route struct {
	pattern string
	handler HandlerFunc
}

// Mux routes events to policy handlers by routing-key pattern. Routes are
// tried in registration order and the first match wins.
type Mux struct {
	mu          sync.RWMutex
	matcher     KeyMatcher
	middlewares []MiddlewareFunc
	routes      []route
	notFound    HandlerFunc
}

// NewMux creates an empty Mux using DefaultMatcher.
func NewMux() *Mux {
	return &Mux{matcher: DefaultMatcher{}}
}

// SetMatcher replaces the pattern matcher.
func (m *Mux) SetMatcher(km KeyMatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matcher = km
}

// Use registers middleware. Given [A, B], the call order is A -> B -> handler.
func (m *Mux) Use(mw MiddlewareFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middlewares = append(m.middlewares, mw)
}

// Handle registers h for routing keys matching pattern.
//
//	mux.Handle("acme/billing.#", func(c core.Context) error {
//	    return evaluate(c)
//	})
func (m *Mux) Handle(pattern string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{pattern: pattern, handler: h})
}

// NotFound sets the handler for events no pattern matches. Without one,
// such events fail with ErrNoRoute.
func (m *Mux) NotFound(h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notFound = h
}

// Serve dispatches c to the first matching handler, wrapped in middleware.
func (m *Mux) Serve(c Context) error {
	m.mu.RLock()
	h := m.notFound
	for _, r := range m.routes {
		if m.matcher.Match(r.pattern, c.Key()) {
			h = r.handler
			break
		}
	}
	mws := m.middlewares
	m.mu.RUnlock()

	if h == nil {
		h = func(c Context) error {
			return fmt.Errorf("%w: %s", ErrNoRoute, c.Key())
		}
	}
	return applyMiddleware(h, mws)(c)
}

// applyMiddleware wraps a handler with middleware in reverse order.
func applyMiddleware(h HandlerFunc, mws []MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
