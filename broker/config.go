package broker

import "time"

// Config holds transport settings that do not change between connect
// attempts. Topology (URL, exchange, queue, prefetch) lives in core.LinkConfig
// and is resolved on every attempt instead.
type Config struct {
	// ClientName is reported to the broker as the connection or client name.
	ClientName string

	// Heartbeat is the transport keepalive interval. Zero keeps the plugin default.
	Heartbeat time.Duration

	// Extra holds plugin-specific configuration, such as "exchange_type" for
	// rabbitmq or "stream_replicas" for nats.
	Extra map[string]any
}

// String returns Extra[key] if it is a non-empty string.
func (c Config) String(key string) (string, bool) {
	v, ok := c.Extra[key].(string)
	return v, ok && v != ""
}

// Int returns Extra[key] if it is an integer.
func (c Config) Int(key string) (int, bool) {
	switch v := c.Extra[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Bool returns Extra[key] if it is a bool.
func (c Config) Bool(key string) (bool, bool) {
	v, ok := c.Extra[key].(bool)
	return v, ok
}
