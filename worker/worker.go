package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astrate-platform/astrate/core"
)

// ErrLauncherClosed is returned by Launch after Shutdown.
var ErrLauncherClosed = errors.New("astrate/worker: launcher is shut down")

// Launcher starts one goroutine-backed worker per routing key.
type Launcher struct {
	handler core.HandlerFunc
	opts    options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewLauncher creates a Launcher whose workers run h for every event.
func NewLauncher(h core.HandlerFunc, fns ...Option) *Launcher {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{handler: h, opts: opts, ctx: ctx, cancel: cancel}
}

// Launch starts a worker for key. It implements core.Launcher.
func (l *Launcher) Launch(key core.RoutingKey, release func()) (core.Worker, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLauncherClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()

	w := &worker{
		id:      uuid.NewString(),
		key:     key,
		handler: l.handler,
		opts:    l.opts,
		box:     newMailbox(),
		release: release,
	}
	w.logger = l.opts.logger.With("realm", key.Realm, "policy", key.Policy, "worker_id", w.id)

	go func() {
		defer l.wg.Done()
		w.run(l.ctx)
	}()
	return w, nil
}

// Shutdown stops every worker and waits for them to exit or for ctx to end.
// Queued events are left unsettled for the broker to redeliver.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type worker struct {
	id      string
	key     core.RoutingKey
	handler core.HandlerFunc
	opts    options
	box     *mailbox
	release func()
	logger  *slog.Logger

	// inflight is the context of the event being handled, owned by run.
	inflight core.Context
}

func (w *worker) ID() string           { return w.id }
func (w *worker) Key() core.RoutingKey { return w.key }

// HandleEvent queues ev without blocking.
func (w *worker) HandleEvent(ev core.Event) error {
	if !w.box.push(ev) {
		return core.ErrWorkerStopped
	}
	return nil
}

// Pending returns the number of queued events.
func (w *worker) Pending() int { return w.box.len() }

func (w *worker) run(ctx context.Context) {
	defer w.release()
	defer func() {
		r := recover()
		queued := w.box.close()
		if r == nil {
			// Idle exit leaves nothing queued; on shutdown the link is gone and the broker redelivers.
			if len(queued) > 0 {
				w.logger.Warn("worker stopped with queued events", "dropped", len(queued))
			}
			return
		}

		w.logger.Error("worker crashed", "panic", r, "requeued", len(queued))
		if c := w.inflight; c != nil && !c.Settled() {
			w.requeue(c.Event())
		}
		for _, ev := range queued {
			w.requeue(ev)
		}
	}()

	var (
		idle  *time.Timer
		idleC <-chan time.Time
	)
	if w.opts.idleTimeout > 0 {
		idle = time.NewTimer(w.opts.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		if ev, ok := w.box.pop(); ok {
			w.handle(ctx, ev)
			if idle != nil {
				idle.Reset(w.opts.idleTimeout)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.box.signal:
		case <-idleC:
			if w.box.closeIfEmpty() {
				w.logger.Debug("worker idle, stopping")
				return
			}
			idle.Reset(w.opts.idleTimeout)
		}
	}
}

func (w *worker) handle(ctx context.Context, ev core.Event) {
	c := core.NewContext(ctx, ev, w.opts.binder)
	w.inflight = c
	err := w.handler(c)
	w.inflight = nil
	if c.Settled() {
		return
	}

	if err != nil {
		if nerr := ev.Nack(w.opts.requeueOnError); nerr != nil {
			w.logger.Warn("nack failed", "delivery_tag", ev.Delivery.Tag, "error", nerr)
		}
		return
	}
	if aerr := ev.Ack(); aerr != nil {
		w.logger.Warn("ack failed, broker will redeliver", "delivery_tag", ev.Delivery.Tag, "error", aerr)
	}
}

func (w *worker) requeue(ev core.Event) {
	if err := ev.Nack(true); err != nil {
		w.logger.Warn("requeue after crash failed", "delivery_tag", ev.Delivery.Tag, "error", err)
	}
}
