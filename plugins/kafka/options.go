package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// Option configures the Kafka connector.
type Option func(*options)

type options struct {
	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	startOffset int64
	dialer      *kafka.Dialer
}

func defaults() options {
	return options{
		minBytes:    1,
		maxBytes:    10e6, // 10 MB
		maxWait:     500 * time.Millisecond,
		startOffset: kafka.FirstOffset,
		dialer: &kafka.Dialer{
			ClientID:  "astrate",
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	}
}

// WithClientID sets the client id reported to the brokers.
func WithClientID(id string) Option {
	return func(o *options) {
		d := *o.dialer
		d.ClientID = id
		o.dialer = &d
	}
}

// WithMinBytes sets the minimum bytes per fetch.
func WithMinBytes(n int) Option {
	return func(o *options) { o.minBytes = n }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets where a new consumer group starts (kafka.FirstOffset or kafka.LastOffset).
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}
