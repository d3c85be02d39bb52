package middleware

import (
	"time"

	"github.com/astrate-platform/astrate/core"
)

// MetricsCollector is the interface metrics backends implement for handler
// timings.
type MetricsCollector interface {
	// EventHandled records one handler invocation. err is nil on success.
	EventHandled(key core.RoutingKey, duration time.Duration, err error)
}

// Metrics returns middleware that reports handler timings to collector.
func Metrics(collector MetricsCollector) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)
			collector.EventHandled(c.Key(), time.Since(start), err)
			return err
		}
	}
}
