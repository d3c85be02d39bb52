package mock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrate-platform/astrate/core"
)

// Worker is a test double for core.Worker that records the events it receives.
type Worker struct {
	id      string
	key     core.RoutingKey
	release func()

	mu      sync.Mutex
	events  []core.Event
	stopped bool
}

func (w *Worker) ID() string           { return w.id }
func (w *Worker) Key() core.RoutingKey { return w.key }

func (w *Worker) HandleEvent(ev core.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return core.ErrWorkerStopped
	}
	w.events = append(w.events, ev)
	return nil
}

// Events returns the events received so far.
func (w *Worker) Events() []core.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]core.Event(nil), w.events...)
}

// Stop terminates the worker without releasing its directory entry, the way
// a worker looks between exiting and deregistering.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// Terminate stops the worker and releases its directory entry.
func (w *Worker) Terminate() {
	w.Stop()
	w.release()
}

// Launcher is a test double for core.Launcher.
type Launcher struct {
	// Delay widens the window between lookup and registration.
	Delay time.Duration
	// Err, when set, is returned by every Launch.
	Err error

	seq      atomic.Int64
	mu       sync.Mutex
	launched []*Worker
}

func NewLauncher() *Launcher { return &Launcher{} }

func (l *Launcher) Launch(key core.RoutingKey, release func()) (core.Worker, error) {
	if l.Delay > 0 {
		time.Sleep(l.Delay)
	}
	if l.Err != nil {
		return nil, l.Err
	}
	w := &Worker{
		id:      fmt.Sprintf("worker-%d", l.seq.Add(1)),
		key:     key,
		release: release,
	}
	l.mu.Lock()
	l.launched = append(l.launched, w)
	l.mu.Unlock()
	return w, nil
}

// Launched returns every worker created, in launch order.
func (l *Launcher) Launched() []*Worker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Worker(nil), l.launched...)
}

// LaunchedFor returns the workers created for key.
func (l *Launcher) LaunchedFor(key core.RoutingKey) []*Worker {
	var out []*Worker
	for _, w := range l.Launched() {
		if w.key == key {
			out = append(out, w)
		}
	}
	return out
}

// Delivery builds a delivery carrying realm and policy headers. Empty values
// are left out.
func Delivery(tag uint64, realm, policy string) core.Delivery {
	h := map[string]any{}
	if realm != "" {
		h["realm"] = realm
	}
	if policy != "" {
		h["policy"] = policy
	}
	return core.Delivery{Tag: tag, Body: []byte(fmt.Sprintf(`{"n":%d}`, tag)), Headers: h}
}
