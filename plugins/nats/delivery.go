package nats

import (
	"github.com/nats-io/nats.go/jetstream"

	"github.com/astrate-platform/astrate/core"
)

func toDelivery(tag uint64, stream, consumer string, msg jetstream.Msg) core.Delivery {
	d := core.Delivery{
		Tag:         tag,
		Body:        msg.Data(),
		Exchange:    stream,
		RoutingKey:  msg.Subject(),
		ConsumerTag: consumer,
	}

	if raw := msg.Headers(); len(raw) > 0 {
		d.Headers = make(map[string]any, len(raw))
		for k, v := range raw {
			if len(v) > 0 {
				d.Headers[k] = v[0]
			}
		}
		d.ContentType = raw.Get("Content-Type")
		d.MessageID = raw.Get("Nats-Msg-Id")
		d.CorrelationID = raw.Get("Correlation-Id")
	}

	if meta, err := msg.Metadata(); err == nil {
		d.Redelivered = meta.NumDelivered > 1
		d.Timestamp = meta.Timestamp
	}
	return d
}
