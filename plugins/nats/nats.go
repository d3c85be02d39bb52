package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Connector, error) {
		return New(optsFromConfig(cfg)...), nil
	})
}

// Connector implements core.Connector for NATS JetStream.
//
// The link topology maps onto JetStream as follows:
//   - Exchange is the stream name.
//   - RoutingKey is the subject the stream captures and the consumer filters on.
//   - Queue is the durable consumer name.
//   - Prefetch is the consumer's MaxAckPending.
//
// Client-side reconnects are disabled: a closed connection is a lost link
// and the dispatcher builds a fresh one.
type Connector struct {
	opts options
	dial dialFunc
}

// dialFunc connects to url and returns a JetStream handle plus a function
// closing the underlying connection.
type dialFunc func(url string, opts ...nats.Option) (jetstream.JetStream, func(), error)

func dialJetStream(url string, opts ...nats.Option) (jetstream.JetStream, func(), error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("init jetstream: %w", err)
	}
	return js, nc.Close, nil
}

// New creates a NATS JetStream connector.
func New(fns ...Option) *Connector {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Connector{opts: opts, dial: dialJetStream}
}

// Connect dials cfg.URL, declares the stream and durable consumer and starts consuming.
func (c *Connector) Connect(ctx context.Context, cfg core.LinkConfig) (core.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.ConnectError{Step: "dial", Err: err}
	}

	durable := cfg.ConsumerTag
	if durable == "" {
		durable = sanitizeName(cfg.Queue)
	}
	l := newLink(durable)

	js, closeConn, err := c.dial(cfg.URL,
		nats.Name(c.opts.name),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			err := errors.New("astrate/nats: connection closed")
			if nc != nil && nc.LastError() != nil {
				err = fmt.Errorf("astrate/nats: connection closed: %w", nc.LastError())
			}
			l.lose(err)
		}),
	)
	if err != nil {
		return nil, &core.ConnectError{Step: "dial", Err: err}
	}
	l.closeConn = closeConn

	fail := func(step string, err error) (core.Link, error) {
		l.stop()
		closeConn()
		return nil, &core.ConnectError{Step: step, Err: err}
	}

	streamName := sanitizeName(cfg.Exchange)
	sc := c.opts.stream
	sc.Name = streamName
	sc.Subjects = []string{cfg.RoutingKey}
	stream, err := js.CreateOrUpdateStream(ctx, sc)
	if err != nil {
		return fail("declare stream", err)
	}

	cc := c.opts.consumer
	cc.Durable = durable
	cc.FilterSubject = cfg.RoutingKey
	cc.AckPolicy = jetstream.AckExplicitPolicy
	cc.MaxAckPending = cfg.Prefetch
	cons, err := stream.CreateOrUpdateConsumer(ctx, cc)
	if err != nil {
		return fail("declare consumer", err)
	}

	consumeCtx, err := cons.Consume(l.receive(streamName), jetstream.ConsumeErrHandler(l.consumeError))
	if err != nil {
		return fail("consume", err)
	}
	l.consume = consumeCtx
	l.notify(core.NoticeRegistered, nil)
	return l, nil
}

// sanitizeName converts a subject or queue name into a valid JetStream
// stream or consumer name.
func sanitizeName(s string) string {
	buf := make([]byte, len(s))
	for i := range len(s) {
		c := s[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.ClientName != "" {
		opts = append(opts, WithName(cfg.ClientName))
	}
	if v, ok := cfg.Int("max_deliver"); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.Int("replicas"); ok {
		opts = append(opts, WithReplicas(v))
	}
	if v, ok := cfg.String("storage"); ok && v == "memory" {
		opts = append(opts, WithStorage(jetstream.MemoryStorage))
	}
	if v, ok := cfg.String("retention"); ok {
		switch v {
		case "workqueue":
			opts = append(opts, WithRetention(jetstream.WorkQueuePolicy))
		case "interest":
			opts = append(opts, WithRetention(jetstream.InterestPolicy))
		}
	}
	if v, ok := cfg.Int("max_msgs"); ok {
		opts = append(opts, WithMaxMessages(int64(v)))
	}
	if v, ok := cfg.Int("max_bytes"); ok {
		opts = append(opts, WithMaxBytes(int64(v)))
	}
	if v, ok := cfg.String("max_age"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			opts = append(opts, WithMaxAge(d))
		}
	}
	if v, ok := cfg.String("ack_wait"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			opts = append(opts, WithAckWait(d))
		}
	}
	return opts
}
