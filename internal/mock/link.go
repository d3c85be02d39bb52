package mock

import (
	"context"
	"sync"
	"time"

	"github.com/astrate-platform/astrate/core"
)

// Link is a test double for core.Link.
type Link struct {
	deliveries chan core.Delivery
	lost       chan error
	notices    chan core.ConsumerNotice

	mu      sync.Mutex
	acks    []uint64
	nacks   []Nack
	closed  bool
	AckErr  error
	NackErr error
}

// Nack records a call to Link.Nack.
type Nack struct {
	Tag     uint64
	Requeue bool
}

func NewLink() *Link {
	return &Link{
		deliveries: make(chan core.Delivery, 64),
		lost:       make(chan error, 1),
		notices:    make(chan core.ConsumerNotice, 8),
	}
}

func (l *Link) Deliveries() <-chan core.Delivery    { return l.deliveries }
func (l *Link) Lost() <-chan error                  { return l.lost }
func (l *Link) Notices() <-chan core.ConsumerNotice { return l.notices }

func (l *Link) Ack(tag uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return core.ErrDisconnected
	}
	if l.AckErr != nil {
		return &core.BrokerError{Op: "ack", Err: l.AckErr}
	}
	l.acks = append(l.acks, tag)
	return nil
}

func (l *Link) Nack(tag uint64, requeue bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return core.ErrDisconnected
	}
	if l.NackErr != nil {
		return &core.BrokerError{Op: "nack", Err: l.NackErr}
	}
	l.nacks = append(l.nacks, Nack{Tag: tag, Requeue: requeue})
	return nil
}

// Close marks the link closed. Channels stay open so late Deliver calls do not panic.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Deliver pushes d to the dispatcher.
func (l *Link) Deliver(d core.Delivery) { l.deliveries <- d }

// EndDeliveries closes the delivery stream, as a cancelled consumer would.
func (l *Link) EndDeliveries() { close(l.deliveries) }

// Lose signals link loss.
func (l *Link) Lose(err error) {
	select {
	case l.lost <- err:
	default:
	}
}

// Notify pushes a consumer notice.
func (l *Link) Notify(n core.ConsumerNotice) { l.notices <- n }

// Acked returns every acknowledged tag in order.
func (l *Link) Acked() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.acks...)
}

// Nacked returns every negative acknowledgement in order.
func (l *Link) Nacked() []Nack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Nack(nil), l.nacks...)
}

// IsClosed reports whether Close was called.
func (l *Link) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Attempt records one call to Connector.Connect.
type Attempt struct {
	At     time.Time
	Config core.LinkConfig
	Err    error
}

// Connector is a test double for core.Connector. Queued errors are returned
// by successive attempts; once the queue is empty attempts succeed.
type Connector struct {
	mu       sync.Mutex
	failures []error
	attempts []Attempt
	links    []*Link
}

func NewConnector() *Connector { return &Connector{} }

// FailNext queues errors for the next len(errs) attempts.
func (c *Connector) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

func (c *Connector) Connect(_ context.Context, cfg core.LinkConfig) (core.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if len(c.failures) > 0 {
		err, c.failures = c.failures[0], c.failures[1:]
	}
	c.attempts = append(c.attempts, Attempt{At: time.Now(), Config: cfg, Err: err})
	if err != nil {
		return nil, err
	}
	l := NewLink()
	c.links = append(c.links, l)
	return l, nil
}

// Attempts returns every recorded connect attempt.
func (c *Connector) Attempts() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Attempt(nil), c.attempts...)
}

// Links returns every link handed out.
func (c *Connector) Links() []*Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Link(nil), c.links...)
}

// LastLink returns the most recent link, or nil.
func (c *Connector) LastLink() *Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}
