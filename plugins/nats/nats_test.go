package nats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/core"
)

// Fakes embed the jetstream interfaces and override only what the link uses.

type fakeJetStream struct {
	jetstream.JetStream
	stream    *fakeStream
	streamErr error
	streamCfg jetstream.StreamConfig
}

func (js *fakeJetStream) CreateOrUpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js.streamCfg = cfg
	if js.streamErr != nil {
		return nil, js.streamErr
	}
	return js.stream, nil
}

type fakeStream struct {
	jetstream.Stream
	consumer    *fakeConsumer
	consumerErr error
	consumerCfg jetstream.ConsumerConfig
}

func (s *fakeStream) CreateOrUpdateConsumer(_ context.Context, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	s.consumerCfg = cfg
	if s.consumerErr != nil {
		return nil, s.consumerErr
	}
	return s.consumer, nil
}

type fakeConsumer struct {
	jetstream.Consumer
	consumeErr error
	handler    jetstream.MessageHandler
	cc         *fakeConsumeContext
}

func (c *fakeConsumer) Consume(h jetstream.MessageHandler, _ ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	c.handler = h
	return c.cc, nil
}

type fakeConsumeContext struct {
	jetstream.ConsumeContext
	mu      sync.Mutex
	stopped bool
}

func (c *fakeConsumeContext) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
	headers nats.Header
	meta    *jetstream.MsgMetadata
	err     error

	mu     sync.Mutex
	result string
}

func (m *fakeMsg) Subject() string      { return m.subject }
func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.headers }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	if m.meta == nil {
		return nil, jetstream.ErrNotJSMessage
	}
	return m.meta, nil
}

func (m *fakeMsg) settle(result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.result = result
	return nil
}

func (m *fakeMsg) Ack() error  { return m.settle("ack") }
func (m *fakeMsg) Nak() error  { return m.settle("nak") }
func (m *fakeMsg) Term() error { return m.settle("term") }

func (m *fakeMsg) Result() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

type harness struct {
	js       *fakeJetStream
	url      string
	natsOpts nats.Options
	dialErr  error

	mu     sync.Mutex
	closed bool
}

func newHarness(fns ...Option) (*harness, *Connector) {
	h := &harness{js: &fakeJetStream{
		stream: &fakeStream{consumer: &fakeConsumer{cc: &fakeConsumeContext{}}},
	}}
	c := New(fns...)
	c.dial = func(url string, opts ...nats.Option) (jetstream.JetStream, func(), error) {
		h.url = url
		h.natsOpts = nats.GetDefaultOptions()
		for _, fn := range opts {
			if err := fn(&h.natsOpts); err != nil {
				return nil, nil, err
			}
		}
		if h.dialErr != nil {
			return nil, nil, h.dialErr
		}
		return h.js, h.closeConn, nil
	}
	return h, c
}

func (h *harness) closeConn() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *harness) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *harness) deliver(msg jetstream.Msg) {
	go h.js.stream.consumer.handler(msg)
}

var testConfig = core.LinkConfig{
	URL:        "nats://nats:4222",
	Exchange:   "astrate.events",
	Queue:      "astrate.triggers",
	RoutingKey: "triggers.inbound",
	Prefetch:   16,
}

func connect(t *testing.T, c *Connector) core.Link {
	t.Helper()
	l, err := c.Connect(context.Background(), testConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func receive(t *testing.T, l core.Link) core.Delivery {
	t.Helper()
	select {
	case d := <-l.Deliveries():
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return core.Delivery{}
	}
}

func receiveNotice(t *testing.T, l core.Link) core.ConsumerNotice {
	t.Helper()
	select {
	case n := <-l.Notices():
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer notice")
		return core.ConsumerNotice{}
	}
}

func jsMsg(body string) *fakeMsg {
	return &fakeMsg{
		subject: "triggers.inbound",
		data:    []byte(body),
		headers: nats.Header{"realm": {"acme"}, "policy": {"payments.limit"}, "Nats-Msg-Id": {"m-1"}},
		meta:    &jetstream.MsgMetadata{NumDelivered: 1, Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestConnect_Topology(t *testing.T) {
	h, c := newHarness(WithName("trigger-svc"))
	l := connect(t, c)

	assert.Equal(t, testConfig.URL, h.url)
	assert.Equal(t, "trigger-svc", h.natsOpts.Name)
	assert.False(t, h.natsOpts.AllowReconnect)
	assert.NotNil(t, h.natsOpts.ClosedCB)

	assert.Equal(t, "astrate-events", h.js.streamCfg.Name)
	assert.Equal(t, []string{"triggers.inbound"}, h.js.streamCfg.Subjects)

	cc := h.js.stream.consumerCfg
	assert.Equal(t, "astrate-triggers", cc.Durable)
	assert.Equal(t, "triggers.inbound", cc.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, cc.AckPolicy)
	assert.Equal(t, 16, cc.MaxAckPending)

	assert.Equal(t, core.NoticeRegistered, receiveNotice(t, l).Kind)
}

func TestConnect_StepFailure(t *testing.T) {
	boom := errors.New("nats: stream name already in use")

	tests := []struct {
		name  string
		setup func(h *harness)
		step  string
	}{
		{"dial", func(h *harness) { h.dialErr = boom }, "dial"},
		{"stream", func(h *harness) { h.js.streamErr = boom }, "declare stream"},
		{"consumer", func(h *harness) { h.js.stream.consumerErr = boom }, "declare consumer"},
		{"consume", func(h *harness) { h.js.stream.consumer.consumeErr = boom }, "consume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, c := newHarness()
			tt.setup(h)

			l, err := c.Connect(context.Background(), testConfig)
			assert.Nil(t, l)

			var ce *core.ConnectError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.step, ce.Step)
			assert.ErrorIs(t, err, boom)
			if tt.step != "dial" {
				assert.True(t, h.isClosed(), "connection left open")
			}
		})
	}
}

func TestLink_DeliverAndAck(t *testing.T) {
	h, c := newHarness()
	l := connect(t, c)

	msg := jsMsg(`{"amount":12}`)
	h.deliver(msg)
	d := receive(t, l)

	assert.Equal(t, uint64(1), d.Tag)
	assert.Equal(t, `{"amount":12}`, string(d.Body))
	assert.Equal(t, "acme", d.Headers["realm"])
	assert.Equal(t, "payments.limit", d.Headers["policy"])
	assert.Equal(t, "m-1", d.MessageID)
	assert.Equal(t, "astrate-events", d.Exchange)
	assert.Equal(t, "triggers.inbound", d.RoutingKey)
	assert.Equal(t, "astrate-triggers", d.ConsumerTag)
	assert.False(t, d.Redelivered)

	require.NoError(t, l.Ack(d.Tag))
	assert.Equal(t, "ack", msg.Result())

	var be *core.BrokerError
	assert.ErrorAs(t, l.Ack(d.Tag), &be, "tag acked twice")
}

func TestLink_Nack(t *testing.T) {
	h, c := newHarness()
	l := connect(t, c)

	requeued, terminated := jsMsg("{}"), jsMsg("{}")
	h.deliver(requeued)
	first := receive(t, l)
	h.deliver(terminated)
	second := receive(t, l)

	require.NoError(t, l.Nack(first.Tag, true))
	require.NoError(t, l.Nack(second.Tag, false))
	assert.Equal(t, "nak", requeued.Result())
	assert.Equal(t, "term", terminated.Result())
}

func TestLink_AckBrokerError(t *testing.T) {
	h, c := newHarness()
	l := connect(t, c)

	msg := jsMsg("{}")
	msg.err = jetstream.ErrMsgAlreadyAckd
	h.deliver(msg)
	d := receive(t, l)

	var be *core.BrokerError
	require.ErrorAs(t, l.Ack(d.Tag), &be)
	assert.ErrorIs(t, be, jetstream.ErrMsgAlreadyAckd)
}

func TestLink_ConnectionClosed(t *testing.T) {
	h, c := newHarness()
	l := connect(t, c)

	h.natsOpts.ClosedCB(nil)

	select {
	case err := <-l.Lost():
		assert.ErrorContains(t, err, "connection closed")
	case <-time.After(time.Second):
		t.Fatal("link loss not reported")
	}
	assert.ErrorIs(t, l.Ack(1), core.ErrDisconnected)
}

func TestLink_ConsumerDeleted(t *testing.T) {
	_, c := newHarness()
	l := connect(t, c)
	receiveNotice(t, l) // registered

	l.(*link).consumeError(nil, jetstream.ErrConsumerDeleted)

	n := receiveNotice(t, l)
	assert.Equal(t, core.NoticeCancelled, n.Kind)
	assert.ErrorIs(t, n.Err, jetstream.ErrConsumerDeleted)

	select {
	case err := <-l.Lost():
		assert.ErrorIs(t, err, jetstream.ErrConsumerDeleted)
	case <-time.After(time.Second):
		t.Fatal("link loss not reported")
	}
}

func TestLink_ConsumeErrorIsNotice(t *testing.T) {
	_, c := newHarness()
	l := connect(t, c)
	receiveNotice(t, l)

	l.(*link).consumeError(nil, jetstream.ErrNoHeartbeat)

	n := receiveNotice(t, l)
	assert.Equal(t, core.NoticeError, n.Kind)
	select {
	case err := <-l.Lost():
		t.Fatalf("unexpected link loss: %v", err)
	default:
	}
}

func TestLink_Close(t *testing.T) {
	h, c := newHarness()
	l := connect(t, c)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.True(t, h.js.stream.consumer.cc.stopped)
	assert.True(t, h.isClosed())
	assert.ErrorIs(t, l.Ack(1), core.ErrDisconnected)
	assert.ErrorIs(t, l.Nack(1, true), core.ErrDisconnected)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "astrate-events", sanitizeName("astrate.events"))
	assert.Equal(t, "orders--", sanitizeName("orders.>"))
	assert.Equal(t, "plain", sanitizeName("plain"))
}

func TestOptsFromConfig(t *testing.T) {
	o := defaults()
	for _, fn := range optsFromConfig(broker.Config{
		ClientName: "trigger-svc",
		Extra: map[string]any{
			"max_deliver": 5,
			"replicas":    3,
			"storage":     "memory",
			"retention":   "workqueue",
			"max_msgs":    1000,
			"max_age":     "24h",
			"ack_wait":    "45s",
		},
	}) {
		fn(&o)
	}
	assert.Equal(t, jetstream.WorkQueuePolicy, o.stream.Retention)
	assert.Equal(t, int64(1000), o.stream.MaxMsgs)
	assert.Equal(t, 24*time.Hour, o.stream.MaxAge)
	assert.Equal(t, 45*time.Second, o.consumer.AckWait)
	assert.Equal(t, "trigger-svc", o.name)
	assert.Equal(t, 5, o.consumer.MaxDeliver)
	assert.Equal(t, 3, o.stream.Replicas)
	assert.Equal(t, jetstream.MemoryStorage, o.stream.Storage)
}

func TestRegistered(t *testing.T) {
	c, err := broker.Create("nats", broker.Config{})
	require.NoError(t, err)
	assert.IsType(t, &Connector{}, c)
}
