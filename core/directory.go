package core

import (
	"fmt"
	"sync"
)

// Directory maps each RoutingKey to its single live worker.
//
// Lookup and creation happen under one lock, so concurrent first deliveries
// for the same key launch exactly one worker.
type Directory struct {
	launcher Launcher
	onSize   func(n int)

	mu      sync.Mutex
	workers map[RoutingKey]Worker
}

// NewDirectory creates an empty directory backed by launcher.
func NewDirectory(launcher Launcher) (*Directory, error) {
	if launcher == nil {
		return nil, ErrNoLauncher
	}
	return &Directory{
		launcher: launcher,
		workers:  make(map[RoutingKey]Worker),
	}, nil
}

// OnSizeChange registers fn to be called with the entry count after every
// insert or removal. Must be called before the directory is shared.
func (d *Directory) OnSizeChange(fn func(n int)) { d.onSize = fn }

// ResolveOrCreate returns the worker for key, launching one if none exists.
// created reports whether this call launched it.
func (d *Directory) ResolveOrCreate(key RoutingKey) (w Worker, created bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.workers[key]; ok {
		return w, false, nil
	}

	var launched Worker
	release := func() { d.release(key, &launched) }

	launched, err = d.launcher.Launch(key, release)
	if err != nil {
		return nil, false, fmt.Errorf("astrate: launch worker %s: %w", key, err)
	}
	d.workers[key] = launched
	d.notify()
	return launched, true, nil
}

// Lookup returns the worker registered for key, if any.
func (d *Directory) Lookup(key RoutingKey) (Worker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[key]
	return w, ok
}

// Remove drops the entry for key if it still refers to w.
func (d *Directory) Remove(key RoutingKey, w Worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(key, w)
}

// Len returns the number of registered workers.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Keys returns a snapshot of the registered routing keys.
func (d *Directory) Keys() []RoutingKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]RoutingKey, 0, len(d.workers))
	for k := range d.workers {
		keys = append(keys, k)
	}
	return keys
}

// release is handed to the launcher. It takes the lock, so it cannot observe
// launched before ResolveOrCreate has stored it.
func (d *Directory) release(key RoutingKey, launched *Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if *launched == nil {
		return
	}
	d.removeLocked(key, *launched)
}

func (d *Directory) removeLocked(key RoutingKey, w Worker) bool {
	cur, ok := d.workers[key]
	if !ok || cur != w {
		return false
	}
	delete(d.workers, key)
	d.notify()
	return true
}

func (d *Directory) notify() {
	if d.onSize != nil {
		d.onSize(len(d.workers))
	}
}
