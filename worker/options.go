package worker

import (
	"log/slog"
	"time"

	"github.com/astrate-platform/astrate/core"
)

// Option configures a Launcher.
type Option func(*options)

type options struct {
	binder         core.Binder
	idleTimeout    time.Duration
	requeueOnError bool
	logger         *slog.Logger
}

func defaults() options {
	return options{
		binder:         core.JSONBinder{},
		requeueOnError: true,
		logger:         slog.New(slog.DiscardHandler),
	}
}

// WithBinder sets the binder used by core.Context.Bind.
func WithBinder(b core.Binder) Option {
	return func(o *options) { o.binder = b }
}

// WithIdleTimeout stops a worker after d without events. Zero keeps workers
// alive until shutdown.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithRequeueOnError controls whether a failed event is requeued or dropped
// (dead-lettered) when its delivery is nacked.
func WithRequeueOnError(requeue bool) Option {
	return func(o *options) { o.requeueOnError = requeue }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
