package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/core"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (core.Connector, error) {
		return New(optsFromConfig(cfg)...), nil
	})
}

// Connector implements core.Connector for Apache Kafka using segmentio/kafka-go.
//
// Queue names the topic and ConsumerTag the consumer group (Queue when
// empty). Exchange and RoutingKey have no Kafka counterpart and are ignored.
// A partition's offset is committed only up to the last message for which
// every earlier message is settled. Nack with requeue ends the link so the
// reconnected reader fetches the message again from the committed offset.
type Connector struct {
	opts options

	lookup    func(ctx context.Context, d *kafka.Dialer, brokers []string, topic string) error
	newReader func(cfg kafka.ReaderConfig) reader
}

// reader is the part of *kafka.Reader the link uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// New creates a Kafka connector.
func New(fns ...Option) *Connector {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Connector{
		opts:      opts,
		lookup:    lookupTopic,
		newReader: func(cfg kafka.ReaderConfig) reader { return kafka.NewReader(cfg) },
	}
}

// Connect checks that the topic exists and starts a group reader on it.
// cfg.URL is a comma-separated broker list, optionally prefixed with kafka://.
func (c *Connector) Connect(ctx context.Context, cfg core.LinkConfig) (core.Link, error) {
	brokers := parseBrokers(cfg.URL)
	if len(brokers) == 0 {
		return nil, &core.ConnectError{Step: "dial", Err: fmt.Errorf("no broker address in %q", cfg.URL)}
	}
	if err := c.lookup(ctx, c.opts.dialer, brokers, cfg.Queue); err != nil {
		return nil, err
	}

	group := cfg.ConsumerTag
	if group == "" {
		group = cfg.Queue
	}

	r := c.newReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.Queue,
		GroupID:        group,
		Dialer:         c.opts.dialer,
		MinBytes:       c.opts.minBytes,
		MaxBytes:       c.opts.maxBytes,
		MaxWait:        c.opts.maxWait,
		StartOffset:    c.opts.startOffset,
		CommitInterval: 0, // synchronous commits on Ack
	})

	l := newLink(r, cfg.Queue, group, cfg.Prefetch)
	l.notify(core.NoticeRegistered, nil)
	go l.fetch()
	return l, nil
}

// lookupTopic dials the first reachable broker and reads the topic's partitions.
func lookupTopic(ctx context.Context, d *kafka.Dialer, brokers []string, topic string) error {
	var (
		conn *kafka.Conn
		err  error
	)
	for _, addr := range brokers {
		if conn, err = d.DialContext(ctx, "tcp", addr); err == nil {
			break
		}
	}
	if err != nil {
		return &core.ConnectError{Step: "dial", Err: err}
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return &core.ConnectError{Step: "declare topic", Err: err}
	}
	if len(partitions) == 0 {
		return &core.ConnectError{Step: "declare topic", Err: fmt.Errorf("topic %q has no partitions", topic)}
	}
	return nil
}

func parseBrokers(url string) []string {
	url = strings.TrimPrefix(url, "kafka://")
	var brokers []string
	for _, b := range strings.Split(url, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.ClientName != "" {
		opts = append(opts, WithClientID(cfg.ClientName))
	}
	if v, ok := cfg.Int("max_bytes"); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := cfg.Int("min_bytes"); ok {
		opts = append(opts, WithMinBytes(v))
	}
	if v, ok := cfg.String("max_wait"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			opts = append(opts, WithMaxWait(d))
		}
	}
	if v, ok := cfg.String("start_offset"); ok && v == "last" {
		opts = append(opts, WithStartOffset(kafka.LastOffset))
	}
	return opts
}
