package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Option configures the RabbitMQ connector.
type Option func(*options)

type options struct {
	// Exchange settings
	exchangeType string

	// Queue settings
	durable   bool
	queueArgs amqp.Table

	// Connection settings
	heartbeat      time.Duration
	connectionName string
	tagPrefix      string
}

func defaults() options {
	return options{
		exchangeType:   amqp.ExchangeDirect,
		durable:        true,
		heartbeat:      10 * time.Second,
		connectionName: "astrate",
		tagPrefix:      "astrate",
	}
}

// WithExchangeType overrides the exchange kind (direct by default).
func WithExchangeType(kind string) Option {
	return func(o *options) { o.exchangeType = kind }
}

// WithDurable controls whether the exchange and queue survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithQueueArgs sets extra queue declaration arguments.
func WithQueueArgs(args amqp.Table) Option {
	return func(o *options) {
		if o.queueArgs == nil {
			o.queueArgs = amqp.Table{}
		}
		for k, v := range args {
			o.queueArgs[k] = v
		}
	}
}

// WithDeadLetterExchange routes rejected deliveries to the named exchange.
func WithDeadLetterExchange(name string) Option {
	return WithQueueArgs(amqp.Table{"x-dead-letter-exchange": name})
}

// WithHeartbeat sets the AMQP heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithConnectionName sets the connection_name client property shown in the management UI.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithConsumerTagPrefix sets the prefix of generated consumer tags.
func WithConsumerTagPrefix(prefix string) Option {
	return func(o *options) { o.tagPrefix = prefix }
}
