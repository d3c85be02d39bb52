// Package worker provides the default per-routing-key worker.
//
// Each worker is a goroutine draining an unbounded mailbox in order. Events
// are handed to a core.HandlerFunc (usually a core.Mux); a nil return acks the
// delivery, an error nacks it, unless the handler settled it itself. A worker
// that panics requeues its unsettled and queued events; one that panics or
// sits idle past its timeout exits and releases its directory entry, so the
// next delivery for the key launches a fresh one.
package worker
