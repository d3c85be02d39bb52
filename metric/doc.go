// Package metric exposes dispatcher and handler observations as Prometheus
// metrics and serves them over HTTP.
package metric
