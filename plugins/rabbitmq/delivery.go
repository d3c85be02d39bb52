package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/astrate-platform/astrate/core"
)

func toDelivery(d amqp.Delivery) core.Delivery {
	var headers map[string]any
	if len(d.Headers) > 0 {
		headers = make(map[string]any, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = v
		}
	}
	return core.Delivery{
		Tag:           d.DeliveryTag,
		Body:          d.Body,
		Headers:       headers,
		ContentType:   d.ContentType,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		ConsumerTag:   d.ConsumerTag,
		Redelivered:   d.Redelivered,
		Timestamp:     d.Timestamp,
	}
}
