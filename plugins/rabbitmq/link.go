package rabbitmq

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/astrate-platform/astrate/core"
)

// link is one connection plus channel with a single registered consumer.
type link struct {
	conn connection
	ch   channel
	tag  string

	deliveries chan core.Delivery
	lost       chan error
	notices    chan core.ConsumerNotice

	quit     chan struct{}
	quitOnce sync.Once
	closed   atomic.Bool
	once     sync.Once
}

func newLink(conn connection, ch channel, tag string) *link {
	l := &link{
		conn:       conn,
		ch:         ch,
		tag:        tag,
		deliveries: make(chan core.Delivery),
		lost:       make(chan error, 1),
		notices:    make(chan core.ConsumerNotice, 8),
		quit:       make(chan struct{}),
	}
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancels := ch.NotifyCancel(make(chan string, 1))
	go l.watch(connClosed, chClosed, cancels)
	return l
}

func (l *link) Deliveries() <-chan core.Delivery    { return l.deliveries }
func (l *link) Lost() <-chan error                  { return l.lost }
func (l *link) Notices() <-chan core.ConsumerNotice { return l.notices }

func (l *link) Ack(tag uint64) error {
	if l.closed.Load() {
		return core.ErrDisconnected
	}
	if err := l.ch.Ack(tag, false); err != nil {
		return brokerError("ack", err)
	}
	return nil
}

func (l *link) Nack(tag uint64, requeue bool) error {
	if l.closed.Load() {
		return core.ErrDisconnected
	}
	if err := l.ch.Nack(tag, false, requeue); err != nil {
		return brokerError("nack", err)
	}
	return nil
}

// Close cancels the consumer, then closes the channel and the connection.
// Errors from an already closed channel or connection are ignored.
func (l *link) Close() error {
	var first error
	l.once.Do(func() {
		l.stop()

		if err := l.ch.Cancel(l.tag, false); err == nil {
			l.notify(core.NoticeCancelOK, nil)
		}
		if err := l.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			first = fmt.Errorf("astrate/rabbitmq: close channel: %w", err)
		}
		if err := l.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && first == nil {
			first = fmt.Errorf("astrate/rabbitmq: close connection: %w", err)
		}
	})
	return first
}

// start begins forwarding deliveries once the consumer is registered.
func (l *link) start(in <-chan amqp.Delivery) {
	l.notify(core.NoticeRegistered, nil)
	go l.pump(in)
}

func (l *link) stop() {
	l.closed.Store(true)
	l.quitOnce.Do(func() { close(l.quit) })
}

// pump converts amqp deliveries until the consumer's channel closes.
func (l *link) pump(in <-chan amqp.Delivery) {
	defer close(l.deliveries)
	for d := range in {
		select {
		case l.deliveries <- toDelivery(d):
		case <-l.quit:
			return
		}
	}
}

// watch waits for the connection or channel to terminate and reports
// consumer cancellations in the meantime.
func (l *link) watch(connClosed, chClosed <-chan *amqp.Error, cancels <-chan string) {
	defer func() {
		// amqp091 blocks its reader if notification channels are not drained.
		if cancels != nil {
			go func(c <-chan string) {
				for range c {
				}
			}(cancels)
		}
	}()

	for {
		select {
		case <-l.quit:
			return
		case err, ok := <-connClosed:
			l.lose("connection", err, ok)
			return
		case err, ok := <-chClosed:
			l.lose("channel", err, ok)
			return
		case tag, ok := <-cancels:
			if !ok {
				cancels = nil
				continue
			}
			select {
			case l.notices <- core.ConsumerNotice{Kind: core.NoticeCancelled, ConsumerTag: tag, At: time.Now()}:
			default:
			}
		}
	}
}

func (l *link) lose(what string, amqpErr *amqp.Error, ok bool) {
	l.closed.Store(true)
	err := fmt.Errorf("astrate/rabbitmq: %s closed", what)
	if ok && amqpErr != nil {
		err = fmt.Errorf("astrate/rabbitmq: %s closed: %w", what, amqpErr)
	}
	select {
	case l.lost <- err:
	default:
	}
}

func (l *link) notify(kind core.NoticeKind, err error) {
	select {
	case l.notices <- core.ConsumerNotice{Kind: kind, ConsumerTag: l.tag, Err: err, At: time.Now()}:
	default:
	}
}

func brokerError(op string, err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return core.ErrDisconnected
	}
	return &core.BrokerError{Op: op, Err: err}
}
