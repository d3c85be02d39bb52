package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned when an operation needs a live broker link and there is none,
	// or when the link it was addressed to has since been replaced.
	ErrDisconnected = errors.New("astrate: broker link is disconnected")

	// ErrMalformedDelivery is returned when a delivery does not carry a usable routing key.
	ErrMalformedDelivery = errors.New("astrate: malformed delivery")

	// ErrWorkerStopped is returned by a worker that no longer accepts events.
	ErrWorkerStopped = errors.New("astrate: worker stopped")

	// ErrAlreadyStarted is returned when Run is called on a running dispatcher.
	ErrAlreadyStarted = errors.New("astrate: dispatcher already started")

	// ErrNoConnector is returned when a dispatcher is created without a connector.
	ErrNoConnector = errors.New("astrate: connector is nil")

	// ErrNoLauncher is returned when a directory is created without a launcher.
	ErrNoLauncher = errors.New("astrate: launcher is nil")

	// ErrNoRoute is returned by Mux when no handler matches the event's routing key.
	ErrNoRoute = errors.New("astrate: no handler registered for routing key")
)

// ConnectError reports which step of the connect sequence failed.
type ConnectError struct {
	Step string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("astrate: connect: %s: %v", e.Step, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// BrokerError wraps an error the broker returned for an in-band call such as ack.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("astrate: broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }
