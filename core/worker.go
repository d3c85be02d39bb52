package core

// Worker owns the processing of every event for one RoutingKey.
type Worker interface {
	// ID uniquely identifies this worker instance.
	ID() string

	// Key returns the routing key the worker serves.
	Key() RoutingKey

	// HandleEvent enqueues ev and returns immediately. It returns
	// ErrWorkerStopped once the worker has terminated.
	HandleEvent(ev Event) error
}

// Launcher starts a worker for a key that has none yet. The worker must call
// release exactly once when it terminates so its directory entry is dropped.
// release must not be called from within Launch itself.
type Launcher interface {
	Launch(key RoutingKey, release func()) (Worker, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(key RoutingKey, release func()) (Worker, error)

func (f LauncherFunc) Launch(key RoutingKey, release func()) (Worker, error) { return f(key, release) }
