package nats

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/astrate-platform/astrate/core"
)

// link is one NATS connection with a single JetStream pull consumer.
// Delivery tags are assigned locally and map to the pending message.
type link struct {
	durable   string
	consume   jetstream.ConsumeContext
	closeConn func()

	deliveries chan core.Delivery
	lost       chan error
	notices    chan core.ConsumerNotice
	quit       chan struct{}

	mu      sync.Mutex
	pending map[uint64]jetstream.Msg
	nextTag uint64

	closed   atomic.Bool
	quitOnce sync.Once
	once     sync.Once
}

func newLink(durable string) *link {
	return &link{
		durable:    durable,
		deliveries: make(chan core.Delivery),
		lost:       make(chan error, 1),
		notices:    make(chan core.ConsumerNotice, 8),
		quit:       make(chan struct{}),
		pending:    make(map[uint64]jetstream.Msg),
	}
}

func (l *link) Deliveries() <-chan core.Delivery    { return l.deliveries }
func (l *link) Lost() <-chan error                  { return l.lost }
func (l *link) Notices() <-chan core.ConsumerNotice { return l.notices }

func (l *link) Ack(tag uint64) error {
	msg, err := l.take("ack", tag)
	if err != nil {
		return err
	}
	if err := msg.Ack(); err != nil {
		return brokerError("ack", err)
	}
	return nil
}

// Nack asks for redelivery when requeue is set and terminates the message otherwise.
func (l *link) Nack(tag uint64, requeue bool) error {
	msg, err := l.take("nack", tag)
	if err != nil {
		return err
	}
	if requeue {
		err = msg.Nak()
	} else {
		err = msg.Term()
	}
	if err != nil {
		return brokerError("nack", err)
	}
	return nil
}

// Close stops the consumer and closes the connection.
func (l *link) Close() error {
	l.once.Do(func() {
		l.stop()
		if l.consume != nil {
			l.consume.Stop()
			l.notify(core.NoticeCancelOK, nil)
		}
		if l.closeConn != nil {
			l.closeConn()
		}
	})
	return nil
}

func (l *link) take(op string, tag uint64) (jetstream.Msg, error) {
	if l.closed.Load() {
		return nil, core.ErrDisconnected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, ok := l.pending[tag]
	if !ok {
		return nil, &core.BrokerError{Op: op, Err: fmt.Errorf("unknown delivery tag %d", tag)}
	}
	delete(l.pending, tag)
	return msg, nil
}

// receive returns the JetStream handler feeding Deliveries. It blocks the
// consumer callback until the dispatcher takes the delivery.
func (l *link) receive(stream string) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		if l.closed.Load() {
			return
		}
		l.mu.Lock()
		l.nextTag++
		tag := l.nextTag
		l.pending[tag] = msg
		l.mu.Unlock()

		select {
		case l.deliveries <- toDelivery(tag, stream, l.durable, msg):
		case <-l.quit:
		}
	}
}

func (l *link) consumeError(_ jetstream.ConsumeContext, err error) {
	if errors.Is(err, jetstream.ErrConsumerDeleted) || errors.Is(err, jetstream.ErrConsumerNotFound) {
		l.notify(core.NoticeCancelled, err)
		l.lose(fmt.Errorf("astrate/nats: consumer %s: %w", l.durable, err))
		return
	}
	l.notify(core.NoticeError, err)
}

func (l *link) stop() {
	l.closed.Store(true)
	l.quitOnce.Do(func() { close(l.quit) })
}

func (l *link) lose(err error) {
	l.closed.Store(true)
	select {
	case l.lost <- err:
	default:
	}
}

func (l *link) notify(kind core.NoticeKind, err error) {
	select {
	case l.notices <- core.ConsumerNotice{Kind: kind, ConsumerTag: l.durable, Err: err, At: time.Now()}:
	default:
	}
}

func brokerError(op string, err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) {
		return core.ErrDisconnected
	}
	return &core.BrokerError{Op: op, Err: err}
}
