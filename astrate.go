// Package astrate provides the top-level API. It re-exports core types and
// wires a Mux, the default worker launcher and a Dispatcher together:
//
//	e := astrate.New(connector, astrate.WithLinkConfig(cfg))
//	e.Handle("acme/payments.#", handler)
//	e.Run(ctx)
package astrate

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/astrate-platform/astrate/core"
	"github.com/astrate-platform/astrate/worker"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Context        = core.Context
	HandlerFunc    = core.HandlerFunc
	MiddlewareFunc = core.MiddlewareFunc
	RoutingKey     = core.RoutingKey
	LinkConfig     = core.LinkConfig
	Connector      = core.Connector
	Event          = core.Event
)

// DefaultShutdownTimeout bounds how long Run waits for workers after the
// dispatcher stops.
const DefaultShutdownTimeout = 10 * time.Second

// Engine is a Mux bound to a Connector through the default worker launcher.
type Engine struct {
	*core.Mux

	connector       core.Connector
	dispatcherOpts  []core.DispatcherOption
	workerOpts      []worker.Option
	shutdownTimeout time.Duration
	logger          *slog.Logger

	dispatcher atomic.Pointer[core.Dispatcher]
}

// Option configures an Engine.
type Option func(*Engine)

// WithLinkConfig sets a fixed link configuration.
func WithLinkConfig(cfg LinkConfig) Option {
	return WithDispatcherOptions(core.WithLinkConfig(cfg))
}

// WithDispatcherOptions passes options through to core.NewDispatcher.
func WithDispatcherOptions(opts ...core.DispatcherOption) Option {
	return func(e *Engine) { e.dispatcherOpts = append(e.dispatcherOpts, opts...) }
}

// WithWorkerOptions passes options through to worker.NewLauncher.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(e *Engine) { e.workerOpts = append(e.workerOpts, opts...) }
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) { e.shutdownTimeout = d }
}

// WithLogger sets the logger for the dispatcher and the workers.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine consuming through c.
func New(c Connector, opts ...Option) *Engine {
	e := &Engine{
		Mux:             core.NewMux(),
		connector:       c,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, fn := range opts {
		fn(e)
	}
	return e
}

// Run consumes until ctx is cancelled, then stops the workers. Events still
// queued in a worker are left unacknowledged for redelivery.
func (e *Engine) Run(ctx context.Context) error {
	var (
		dispatcherOpts = e.dispatcherOpts
		workerOpts     = e.workerOpts
	)
	if e.logger != nil {
		dispatcherOpts = append([]core.DispatcherOption{core.WithLogger(e.logger.With("component", "dispatcher"))}, dispatcherOpts...)
		workerOpts = append([]worker.Option{worker.WithLogger(e.logger.With("component", "worker"))}, workerOpts...)
	}

	launcher := worker.NewLauncher(e.Mux.Serve, workerOpts...)
	dir, err := core.NewDirectory(launcher)
	if err != nil {
		return err
	}
	d := core.NewDispatcher(e.connector, dir, dispatcherOpts...)
	if !e.dispatcher.CompareAndSwap(nil, d) {
		return core.ErrAlreadyStarted
	}

	runErr := d.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, launcher.Shutdown(shutdownCtx))
}

// State reports the dispatcher's link state. It is StateDisconnected before Run.
func (e *Engine) State() core.State {
	if d := e.dispatcher.Load(); d != nil {
		return d.State()
	}
	return core.StateDisconnected
}

// Workers returns the number of live workers.
func (e *Engine) Workers() int {
	if d := e.dispatcher.Load(); d != nil {
		return d.Directory().Len()
	}
	return 0
}
