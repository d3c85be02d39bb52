package middleware

import (
	"log/slog"
	"time"

	"github.com/astrate-platform/astrate/core"
)

// Logging returns middleware that logs each handled event with its routing
// key, delivery tag, duration and error.
func Logging(logger *slog.Logger) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) error {
			start := time.Now()
			err := next(c)

			d := c.Event().Delivery
			attrs := []any{
				"realm", c.Key().Realm,
				"policy", c.Key().Policy,
				"delivery_tag", d.Tag,
				"redelivered", d.Redelivered,
				"elapsed", time.Since(start),
			}
			if err != nil {
				logger.ErrorContext(c.Context(), "event handling failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(c.Context(), "event handled", attrs...)
			}
			return err
		}
	}
}
