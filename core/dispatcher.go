package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultReconnectInterval is the fixed wait between failed connect attempts.
const DefaultReconnectInterval = 10 * time.Second

// State is the dispatcher's link state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// MalformedPolicy decides how a delivery without a routing key is settled.
type MalformedPolicy string

const (
	// MalformedAck logs the delivery and acks it so the broker discards it.
	MalformedAck MalformedPolicy = "ack"
	// MalformedReject logs the delivery and nacks it without requeue, which
	// routes it to a dead-letter exchange when the queue has one.
	MalformedReject MalformedPolicy = "reject"
	// MalformedIgnore logs the delivery and leaves it unacked until the link drops.
	MalformedIgnore MalformedPolicy = "ignore"
)

// ParseMalformedPolicy parses "ack", "reject" or "ignore". Empty means ack.
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch p := MalformedPolicy(s); p {
	case "":
		return MalformedAck, nil
	case MalformedAck, MalformedReject, MalformedIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("astrate: unknown malformed delivery policy %q", s)
	}
}

var errConsumerClosed = errors.New("astrate: delivery stream closed")

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConfigSource sets where link configuration is resolved from before each attempt.
func WithConfigSource(src ConfigSource) DispatcherOption {
	return func(d *Dispatcher) { d.source = src }
}

// WithLinkConfig uses a fixed link configuration.
func WithLinkConfig(cfg LinkConfig) DispatcherOption {
	return func(d *Dispatcher) { d.source = StaticConfig(cfg) }
}

// WithReconnectInterval sets a constant wait between failed connect attempts.
func WithReconnectInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
			d.backoff = backoff.NewConstantBackOff(interval)
		}
	}
}

// WithBackoff replaces the retry schedule. The reconnect interval is still
// used if b returns backoff.Stop.
func WithBackoff(b backoff.BackOff) DispatcherOption {
	return func(d *Dispatcher) {
		if b != nil {
			d.backoff = b
		}
	}
}

// WithHeaderNames sets the headers the routing key is read from.
func WithHeaderNames(names HeaderNames) DispatcherOption {
	return func(d *Dispatcher) { d.headers = names }
}

// WithMalformedPolicy sets how deliveries without a routing key are settled.
func WithMalformedPolicy(p MalformedPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.malformed = p }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher owns the broker link and fans deliveries out to per-key workers.
//
// Run drives a single control loop: connect attempts, link-loss signals and
// deliveries are handled one at a time in arrival order. Ack and Nack may be
// called from any goroutine.
type Dispatcher struct {
	connector Connector
	directory *Directory
	source    ConfigSource
	headers   HeaderNames
	malformed MalformedPolicy
	interval  time.Duration
	backoff   backoff.BackOff
	logger    *slog.Logger
	metrics   Metrics

	started atomic.Bool

	mu    sync.RWMutex
	link  Link
	state State
}

// NewDispatcher creates a Dispatcher that connects through c and resolves
// workers through dir.
func NewDispatcher(c Connector, dir *Directory, fns ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		connector: c,
		directory: dir,
		source:    StaticConfig{},
		headers:   DefaultHeaderNames(),
		malformed: MalformedAck,
		interval:  DefaultReconnectInterval,
		backoff:   backoff.NewConstantBackOff(DefaultReconnectInterval),
		logger:    slog.New(slog.DiscardHandler),
		metrics:   nopMetrics{},
	}
	for _, fn := range fns {
		fn(d)
	}
	if dir != nil {
		dir.OnSizeChange(d.metrics.WorkersActive)
	}
	return d
}

// Directory returns the worker directory the dispatcher resolves through.
func (d *Dispatcher) Directory() *Directory { return d.directory }

// State reports whether the dispatcher currently holds a live link.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Run connects and consumes until ctx is cancelled, reconnecting on link loss.
// Connect failures are logged and retried, never returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.connector == nil {
		return ErrNoConnector
	}
	if d.directory == nil {
		return ErrNoLauncher
	}
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	now := make(chan time.Time)
	close(now)

	var (
		link       Link
		deliveries <-chan Delivery
		lost       <-chan error
		notices    <-chan ConsumerNotice
		retry      <-chan time.Time = now
	)

	drop := func(cause error) {
		d.linkLost(link, cause)
		link, deliveries, lost, notices = nil, nil, nil, nil
		retry = now
	}

	for {
		select {
		case <-ctx.Done():
			d.shutdown(link)
			return nil

		case <-retry:
			retry = nil
			l, err := d.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				wait := d.nextBackoff()
				d.logger.Error("broker connect failed, retry scheduled", "error", err, "retry_in", wait)
				retry = time.After(wait)
				continue
			}
			link, deliveries, lost, notices = l, l.Deliveries(), l.Lost(), l.Notices()

		case err := <-lost:
			drop(err)

		case dv, ok := <-deliveries:
			if !ok {
				drop(errConsumerClosed)
				continue
			}
			d.dispatch(link, dv)

		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			d.logger.Debug("consumer notice", "kind", n.Kind.String(), "consumer_tag", n.ConsumerTag, "error", n.Err)
		}
	}
}

// Ack acknowledges tag on ch. A nil ch means the current link. It returns
// ErrDisconnected without calling the broker when there is no live link or
// ch has been replaced.
func (d *Dispatcher) Ack(ch Link, tag uint64) error {
	cur, err := d.current(ch)
	if err == nil {
		err = cur.Ack(tag)
	}
	d.metrics.AckResult("ack", err)
	return err
}

// Nack negatively acknowledges tag on ch with the same link checks as Ack.
func (d *Dispatcher) Nack(ch Link, tag uint64, requeue bool) error {
	cur, err := d.current(ch)
	if err == nil {
		err = cur.Nack(tag, requeue)
	}
	d.metrics.AckResult("nack", err)
	return err
}

func (d *Dispatcher) current(ch Link) (Link, error) {
	d.mu.RLock()
	cur := d.link
	d.mu.RUnlock()
	if cur == nil || (ch != nil && ch != cur) {
		return nil, ErrDisconnected
	}
	return cur, nil
}

func (d *Dispatcher) setLink(l Link) {
	state := StateDisconnected
	if l != nil {
		state = StateConnected
	}
	d.mu.Lock()
	d.link = l
	changed := d.state != state
	d.state = state
	d.mu.Unlock()
	if changed {
		d.metrics.StateChanged(state)
	}
}

func (d *Dispatcher) connect(ctx context.Context) (Link, error) {
	cfg, err := d.source.LinkConfig(ctx)
	if err != nil {
		err = &ConnectError{Step: "resolve config", Err: err}
		d.metrics.ConnectAttempt(err)
		return nil, err
	}

	l, err := d.connector.Connect(ctx, cfg)
	d.metrics.ConnectAttempt(err)
	if err != nil {
		return nil, err
	}

	d.setLink(l)
	d.backoff.Reset()
	d.logger.Info("broker link established",
		"exchange", cfg.Exchange,
		"queue", cfg.Queue,
		"routing_key", cfg.RoutingKey,
		"prefetch", cfg.Prefetch,
	)
	return l, nil
}

func (d *Dispatcher) nextBackoff() time.Duration {
	wait := d.backoff.NextBackOff()
	if wait == backoff.Stop || wait < 0 {
		return d.interval
	}
	return wait
}

func (d *Dispatcher) linkLost(l Link, cause error) {
	d.setLink(nil)
	d.metrics.LinkLost()
	d.logger.Warn("broker link lost, reconnecting", "error", cause)
	if l != nil {
		_ = l.Close()
	}
}

func (d *Dispatcher) shutdown(l Link) {
	d.setLink(nil)
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		d.logger.Debug("broker link close", "error", err)
	}
	d.logger.Info("broker link closed")
}

func (d *Dispatcher) dispatch(l Link, dv Delivery) {
	key, err := ExtractRoutingKey(dv, d.headers)
	if err != nil {
		d.settleMalformed(l, dv, err)
		return
	}

	ev := NewEvent(key, dv, l, d)
	if err := d.forward(key, ev); err != nil {
		d.metrics.Delivery(OutcomeLaunchFailed)
		d.logger.Error("worker unavailable, requeueing delivery",
			"realm", key.Realm, "policy", key.Policy, "delivery_tag", dv.Tag, "error", err)
		if err := d.Nack(l, dv.Tag, true); err != nil {
			d.logger.Error("requeue failed", "delivery_tag", dv.Tag, "error", err)
		}
		return
	}
	d.metrics.Delivery(OutcomeDispatched)
}

// forward hands ev to the worker for key. A worker that stopped between
// lookup and hand-off is evicted and replaced once.
func (d *Dispatcher) forward(key RoutingKey, ev Event) error {
	for attempt := 0; ; attempt++ {
		w, created, err := d.directory.ResolveOrCreate(key)
		if err != nil {
			return err
		}
		if created {
			d.logger.Debug("worker launched", "realm", key.Realm, "policy", key.Policy, "worker_id", w.ID())
		}
		err = w.HandleEvent(ev)
		if !errors.Is(err, ErrWorkerStopped) || attempt > 0 {
			return err
		}
		d.directory.Remove(key, w)
	}
}

func (d *Dispatcher) settleMalformed(l Link, dv Delivery, cause error) {
	d.metrics.Delivery(OutcomeMalformed)

	names := make([]string, 0, len(dv.Headers))
	for k := range dv.Headers {
		names = append(names, k)
	}
	sort.Strings(names)

	log := d.logger.With("delivery_tag", dv.Tag, "malformed_policy", string(d.malformed))
	log.Warn("dropping malformed delivery", "error", cause, "headers", names, "message_id", dv.MessageID)

	var err error
	switch d.malformed {
	case MalformedIgnore:
		return
	case MalformedReject:
		err = d.Nack(l, dv.Tag, false)
	default:
		err = d.Ack(l, dv.Tag)
	}
	if err != nil {
		log.Error("settle malformed delivery failed", "error", err)
	}
}
