package nats

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Option configures the NATS connector.
type Option func(*options)

// options carries the client name plus stream and consumer templates. Connect
// fills in the names, subjects and ack limits from the link configuration.
type options struct {
	name     string
	stream   jetstream.StreamConfig
	consumer jetstream.ConsumerConfig
}

// By default trigger events are stored on disk without size or age limits
// and redelivered until acked.
func defaults() options {
	return options{
		name: "astrate",
		stream: jetstream.StreamConfig{
			MaxMsgs:   -1,
			MaxBytes:  -1,
			Replicas:  1,
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
		},
		consumer: jetstream.ConsumerConfig{
			AckWait:    30 * time.Second,
			MaxDeliver: -1,
		},
	}
}

// WithName sets the connection name shown in the server's monitoring.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMaxMessages caps the trigger stream's message count; -1 is unlimited.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.stream.MaxMsgs = n }
}

// WithMaxBytes caps the trigger stream's size; -1 is unlimited.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.stream.MaxBytes = n }
}

// WithMaxAge discards trigger events older than d whether or not they were acked.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.stream.MaxAge = d }
}

// WithReplicas sets how many servers hold a copy of the trigger stream.
func WithReplicas(n int) Option {
	return func(o *options) { o.stream.Replicas = n }
}

// WithRetention sets the trigger stream retention. WorkQueuePolicy removes an
// event once acked, which matches a single dispatcher per queue.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.stream.Retention = r }
}

// WithStorage selects file or memory storage for the trigger stream.
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.stream.Storage = s }
}

// WithAckWait sets how long a worker may hold an event before the server
// redelivers it.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.consumer.AckWait = d }
}

// WithMaxDeliver caps delivery attempts per event; -1 is unlimited.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.consumer.MaxDeliver = n }
}
