package rabbitmq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/core"
)

func init() {
	broker.Register("rabbitmq", func(cfg broker.Config) (core.Connector, error) {
		return New(optsFromConfig(cfg)...), nil
	})
}

// Connector implements core.Connector for RabbitMQ using amqp091-go.
//
// Every Connect dials a fresh connection with a single channel, declares
// the topology and registers one manual-ack consumer. The connection and
// channel are never reused across links.
type Connector struct {
	opts options
	dial dialFunc
}

// New creates a RabbitMQ connector.
func New(fns ...Option) *Connector {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Connector{opts: opts, dial: dialAMQP}
}

// Connect dials cfg.URL and runs the connect sequence:
// channel, qos, exchange, queue, bind, consume. The first failing step
// aborts the sequence and is reported as a *core.ConnectError.
func (c *Connector) Connect(ctx context.Context, cfg core.LinkConfig) (core.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.ConnectError{Step: "dial", Err: err}
	}

	conn, err := c.dial(cfg.URL, amqp.Config{
		Heartbeat:  c.opts.heartbeat,
		Locale:     "en_US",
		Properties: amqp.Table{"connection_name": c.opts.connectionName},
	})
	if err != nil {
		return nil, &core.ConnectError{Step: "dial", Err: err}
	}

	var ch channel
	fail := func(step string, err error) (core.Link, error) {
		if ch != nil {
			_ = ch.Close()
		}
		_ = conn.Close()
		return nil, &core.ConnectError{Step: step, Err: err}
	}

	if ch, err = conn.Channel(); err != nil {
		return fail("open channel", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fail("qos", err)
	}

	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, c.opts.exchangeType, c.opts.durable, false, false, false, nil); err != nil {
			return fail("declare exchange", err)
		}
	}

	q, err := ch.QueueDeclare(
		cfg.Queue,
		c.opts.durable,
		false, // autoDelete
		false, // exclusive
		false, // noWait
		c.opts.queueArgs,
	)
	if err != nil {
		return fail("declare queue", err)
	}

	// The default exchange routes by queue name and cannot be bound.
	if cfg.Exchange != "" {
		if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			return fail("bind queue", err)
		}
	}

	tag := cfg.ConsumerTag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s", c.opts.tagPrefix, uuid.NewString())
	}

	l := newLink(conn, ch, tag)
	deliveries, err := ch.Consume(
		q.Name,
		tag,
		false, // autoAck, manual ack mode
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		l.stop()
		return fail("consume", err)
	}

	l.start(deliveries)
	return l, nil
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.ClientName != "" {
		opts = append(opts, WithConnectionName(cfg.ClientName), WithConsumerTagPrefix(cfg.ClientName))
	}
	if cfg.Heartbeat > 0 {
		opts = append(opts, WithHeartbeat(cfg.Heartbeat))
	}
	if kind, ok := cfg.String("exchange_type"); ok {
		opts = append(opts, WithExchangeType(kind))
	}
	if d, ok := cfg.Bool("durable"); ok {
		opts = append(opts, WithDurable(d))
	}
	if dlx, ok := cfg.String("dead_letter_exchange"); ok {
		opts = append(opts, WithDeadLetterExchange(dlx))
	}
	return opts
}
