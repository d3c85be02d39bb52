package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/astrate-platform/astrate/core"
)

// link is one group reader. Tags are assigned locally; at most prefetch
// fetched messages are outstanding at once.
type link struct {
	r     reader
	topic string
	group string

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}

	deliveries chan core.Delivery
	lost       chan error
	notices    chan core.ConsumerNotice

	mu      sync.Mutex
	pending map[uint64]*entry
	parts   map[int][]*entry
	nextTag uint64

	// commitMu orders commits so a partition offset never moves backwards.
	commitMu sync.Mutex

	closed atomic.Bool
	once   sync.Once
}

type settleState int

const (
	outstanding settleState = iota
	settled
	held
)

// entry is a fetched message waiting for its partition's offset to pass it.
type entry struct {
	msg   kafka.Message
	state settleState
}

func newLink(r reader, topic, group string, prefetch int) *link {
	if prefetch <= 0 {
		prefetch = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		r:          r,
		topic:      topic,
		group:      group,
		ctx:        ctx,
		cancel:     cancel,
		slots:      make(chan struct{}, prefetch),
		deliveries: make(chan core.Delivery),
		lost:       make(chan error, 1),
		notices:    make(chan core.ConsumerNotice, 8),
		pending:    make(map[uint64]*entry),
		parts:      make(map[int][]*entry),
	}
}

func (l *link) Deliveries() <-chan core.Delivery    { return l.deliveries }
func (l *link) Lost() <-chan error                  { return l.lost }
func (l *link) Notices() <-chan core.ConsumerNotice { return l.notices }

// Ack settles the delivery. Commits are cumulative per partition, so the
// offset is committed only once every earlier message of the partition is
// settled too; until then the commit is held.
func (l *link) Ack(tag uint64) error {
	return l.settle("ack", tag, settled)
}

// Nack with requeue holds the partition at the delivery's offset and reports
// link loss, so the next reader resumes from the last committed offset and
// the message is fetched again. Without requeue the message is discarded and
// the offset may move past it.
func (l *link) Nack(tag uint64, requeue bool) error {
	if !requeue {
		return l.settle("nack", tag, settled)
	}
	if err := l.settle("nack", tag, held); err != nil {
		return err
	}
	l.fail(fmt.Errorf("astrate/kafka: delivery %d requeued", tag))
	return nil
}

func (l *link) settle(op string, tag uint64, state settleState) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	msg, ok, err := l.take(op, tag, state)
	if err != nil || !ok {
		return err
	}
	if err := l.r.CommitMessages(l.ctx, msg); err != nil {
		if l.closed.Load() {
			return core.ErrDisconnected
		}
		return &core.BrokerError{Op: op, Err: err}
	}
	return nil
}

func (l *link) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		l.cancel()
		if cerr := l.r.Close(); cerr != nil {
			err = fmt.Errorf("astrate/kafka: close reader: %w", cerr)
		}
	})
	return err
}

// take marks the delivery and returns the highest message of its partition
// that can now be committed, if any.
func (l *link) take(op string, tag uint64, state settleState) (kafka.Message, bool, error) {
	if l.closed.Load() {
		return kafka.Message{}, false, core.ErrDisconnected
	}
	l.mu.Lock()
	e, ok := l.pending[tag]
	if !ok {
		l.mu.Unlock()
		return kafka.Message{}, false, &core.BrokerError{Op: op, Err: fmt.Errorf("unknown delivery tag %d", tag)}
	}
	delete(l.pending, tag)
	e.state = state

	var (
		last   kafka.Message
		commit bool
	)
	queue := l.parts[e.msg.Partition]
	for len(queue) > 0 && queue[0].state == settled {
		last, commit = queue[0].msg, true
		queue = queue[1:]
	}
	l.parts[e.msg.Partition] = queue
	l.mu.Unlock()

	<-l.slots
	return last, commit, nil
}

// fail marks the link dead and reports the loss once.
func (l *link) fail(err error) {
	l.closed.Store(true)
	select {
	case l.lost <- err:
	default:
	}
	l.cancel()
}

// fetch reads messages until the link is closed or the reader fails.
func (l *link) fetch() {
	defer close(l.deliveries)
	for {
		select {
		case l.slots <- struct{}{}:
		case <-l.ctx.Done():
			return
		}

		msg, err := l.r.FetchMessage(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("reader closed")
			}
			l.fail(fmt.Errorf("astrate/kafka: fetch: %w", err))
			return
		}

		l.mu.Lock()
		l.nextTag++
		tag := l.nextTag
		e := &entry{msg: msg}
		l.pending[tag] = e
		l.parts[msg.Partition] = append(l.parts[msg.Partition], e)
		l.mu.Unlock()

		select {
		case l.deliveries <- l.toDelivery(tag, msg):
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *link) toDelivery(tag uint64, msg kafka.Message) core.Delivery {
	d := core.Delivery{
		Tag:         tag,
		Body:        msg.Value,
		Exchange:    msg.Topic,
		RoutingKey:  string(msg.Key),
		ConsumerTag: l.group,
		Timestamp:   msg.Time,
		MessageID:   fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
	}
	if len(msg.Headers) > 0 {
		d.Headers = make(map[string]any, len(msg.Headers))
		for _, h := range msg.Headers {
			d.Headers[h.Key] = string(h.Value)
		}
		if ct, ok := d.Headers["content-type"].(string); ok {
			d.ContentType = ct
		}
	}
	return d
}

func (l *link) notify(kind core.NoticeKind, err error) {
	select {
	case l.notices <- core.ConsumerNotice{Kind: kind, ConsumerTag: l.group, Err: err, At: time.Now()}:
	default:
	}
}
