package core

import (
	"fmt"
	"time"
)

// Delivery is one inbound message as received from a Link.
type Delivery struct {
	Tag           uint64
	Body          []byte
	Headers       map[string]any
	ContentType   string
	MessageID     string
	CorrelationID string
	Exchange      string
	RoutingKey    string
	ConsumerTag   string
	Redelivered   bool
	Timestamp     time.Time
}

// HeaderStrings flattens the delivery headers to strings. []byte values are
// converted directly, anything else is formatted with %v.
func (d Delivery) HeaderStrings() map[string]string {
	h := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		switch s := v.(type) {
		case string:
			h[k] = s
		case []byte:
			h[k] = string(s)
		case nil:
			h[k] = ""
		default:
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	return h
}

// Acker settles deliveries against the link they arrived on.
type Acker interface {
	Ack(ch Link, tag uint64) error
	Nack(ch Link, tag uint64, requeue bool) error
}

// Event is what a worker receives: the routing key, the delivery with its full
// metadata, and the channel handle the delivery arrived on.
type Event struct {
	Key      RoutingKey
	Delivery Delivery
	Channel  Link

	acker Acker
}

// NewEvent binds a delivery to the link and acker that will settle it.
func NewEvent(key RoutingKey, d Delivery, ch Link, acker Acker) Event {
	return Event{Key: key, Delivery: d, Channel: ch, acker: acker}
}

// Payload returns the raw message body.
func (e Event) Payload() []byte { return e.Delivery.Body }

// Ack acknowledges the event's delivery through the dispatcher.
func (e Event) Ack() error {
	if e.acker == nil {
		return ErrDisconnected
	}
	return e.acker.Ack(e.Channel, e.Delivery.Tag)
}

// Nack negatively acknowledges the event's delivery through the dispatcher.
func (e Event) Nack(requeue bool) error {
	if e.acker == nil {
		return ErrDisconnected
	}
	return e.acker.Nack(e.Channel, e.Delivery.Tag, requeue)
}
