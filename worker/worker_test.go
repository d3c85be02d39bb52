package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrate-platform/astrate/core"
	"github.com/astrate-platform/astrate/internal/mock"
	"github.com/astrate-platform/astrate/worker"
)

type linkAcker struct{}

func (linkAcker) Ack(ch core.Link, tag uint64) error { return ch.Ack(tag) }

func (linkAcker) Nack(ch core.Link, tag uint64, requeue bool) error {
	return ch.Nack(tag, requeue)
}

var acmeP1 = core.RoutingKey{Realm: "acme", Policy: "p1"}

func event(link core.Link, tag uint64) core.Event {
	return core.NewEvent(acmeP1, mock.Delivery(tag, "acme", "p1"), link, linkAcker{})
}

func shutdown(t *testing.T, l *worker.Launcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
}

func TestWorker_AcksOnSuccess(t *testing.T) {
	l := worker.NewLauncher(func(c core.Context) error { return nil })
	defer shutdown(t, l)

	w, err := l.Launch(acmeP1, func() {})
	require.NoError(t, err)
	assert.Equal(t, acmeP1, w.Key())
	assert.NotEmpty(t, w.ID())

	link := mock.NewLink()
	require.NoError(t, w.HandleEvent(event(link, 1)))
	require.NoError(t, w.HandleEvent(event(link, 2)))

	require.Eventually(t, func() bool { return len(link.Acked()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, link.Acked())
}

func TestWorker_NacksOnError(t *testing.T) {
	for _, requeue := range []bool{true, false} {
		l := worker.NewLauncher(func(c core.Context) error {
			return errors.New("evaluation failed")
		}, worker.WithRequeueOnError(requeue))

		w, err := l.Launch(acmeP1, func() {})
		require.NoError(t, err)

		link := mock.NewLink()
		require.NoError(t, w.HandleEvent(event(link, 3)))

		require.Eventually(t, func() bool { return len(link.Nacked()) == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, mock.Nack{Tag: 3, Requeue: requeue}, link.Nacked()[0])
		assert.Empty(t, link.Acked())
		shutdown(t, l)
	}
}

func TestWorker_HandlerSettlesItself(t *testing.T) {
	l := worker.NewLauncher(func(c core.Context) error {
		if err := c.Nack(false); err != nil {
			return err
		}
		return errors.New("rejected after nack")
	})
	defer shutdown(t, l)

	w, err := l.Launch(acmeP1, func() {})
	require.NoError(t, err)

	link := mock.NewLink()
	require.NoError(t, w.HandleEvent(event(link, 4)))

	require.Eventually(t, func() bool { return len(link.Nacked()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, link.Nacked(), 1)
	assert.Empty(t, link.Acked())
}

func TestWorker_ProcessesInOrderOneAtATime(t *testing.T) {
	var (
		mu       sync.Mutex
		seen     []uint64
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	l := worker.NewLauncher(func(c core.Context) error {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen = append(seen, c.Event().Delivery.Tag)
		mu.Unlock()
		return nil
	})
	defer shutdown(t, l)

	w, err := l.Launch(acmeP1, func() {})
	require.NoError(t, err)

	link := mock.NewLink()
	for tag := uint64(1); tag <= 20; tag++ {
		require.NoError(t, w.HandleEvent(event(link, tag)))
	}

	require.Eventually(t, func() bool { return len(link.Acked()) == 20 }, 2*time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for i, tag := range seen {
		assert.Equal(t, uint64(i+1), tag)
	}
	assert.False(t, overlap.Load())
}

func TestWorker_IdleTimeoutReleases(t *testing.T) {
	l := worker.NewLauncher(func(c core.Context) error { return nil }, worker.WithIdleTimeout(30*time.Millisecond))
	defer shutdown(t, l)

	var released atomic.Int32
	w, err := l.Launch(acmeP1, func() { released.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, w.HandleEvent(event(mock.NewLink(), 1)), core.ErrWorkerStopped)
}

func TestWorker_PanicReleases(t *testing.T) {
	l := worker.NewLauncher(func(c core.Context) error { panic("policy exploded") })
	defer shutdown(t, l)

	var released atomic.Int32
	w, err := l.Launch(acmeP1, func() { released.Add(1) })
	require.NoError(t, err)

	link := mock.NewLink()
	require.NoError(t, w.HandleEvent(event(link, 1)))

	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, link.Acked())
	assert.Equal(t, []mock.Nack{{Tag: 1, Requeue: true}}, link.Nacked())
	assert.ErrorIs(t, w.HandleEvent(event(link, 2)), core.ErrWorkerStopped)
}

func TestWorker_PanicRequeuesQueuedEvents(t *testing.T) {
	gate := make(chan struct{})
	l := worker.NewLauncher(func(c core.Context) error {
		<-gate
		panic("policy exploded")
	})
	defer shutdown(t, l)

	var released atomic.Int32
	w, err := l.Launch(acmeP1, func() { released.Add(1) })
	require.NoError(t, err)

	link := mock.NewLink()
	for tag := uint64(1); tag <= 3; tag++ {
		require.NoError(t, w.HandleEvent(event(link, tag)))
	}
	close(gate)

	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, link.Acked())
	assert.Equal(t, []mock.Nack{
		{Tag: 1, Requeue: true},
		{Tag: 2, Requeue: true},
		{Tag: 3, Requeue: true},
	}, link.Nacked())
}

func TestWorker_PanicAfterSettleIsNotRequeued(t *testing.T) {
	l := worker.NewLauncher(func(c core.Context) error {
		if err := c.Ack(); err != nil {
			return err
		}
		panic("policy exploded")
	})
	defer shutdown(t, l)

	var released atomic.Int32
	w, err := l.Launch(acmeP1, func() { released.Add(1) })
	require.NoError(t, err)

	link := mock.NewLink()
	require.NoError(t, w.HandleEvent(event(link, 4)))

	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{4}, link.Acked())
	assert.Empty(t, link.Nacked())
}

func TestLauncher_ShutdownStopsWorkers(t *testing.T) {
	l := worker.NewLauncher(func(c core.Context) error { return nil })

	var released atomic.Int32
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := l.Launch(core.RoutingKey{Realm: "acme", Policy: p}, func() { released.Add(1) })
		require.NoError(t, err)
	}

	shutdown(t, l)
	assert.Equal(t, int32(3), released.Load())

	_, err := l.Launch(acmeP1, func() {})
	assert.ErrorIs(t, err, worker.ErrLauncherClosed)
}

func TestLauncher_WithDispatcher(t *testing.T) {
	mux := core.NewMux()
	var handled atomic.Int32
	mux.Handle("acme/*", func(c core.Context) error {
		var body struct{ N int }
		if err := c.Bind(&body); err != nil {
			return err
		}
		handled.Add(1)
		return nil
	})

	l := worker.NewLauncher(mux.Serve)
	defer shutdown(t, l)
	dir, err := core.NewDirectory(l)
	require.NoError(t, err)

	conn := mock.NewConnector()
	d := core.NewDispatcher(conn, dir, core.WithReconnectInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool { return d.State() == core.StateConnected }, time.Second, time.Millisecond)
	link := conn.LastLink()

	link.Deliver(mock.Delivery(1, "acme", "p1"))
	link.Deliver(mock.Delivery(2, "acme", "p2"))
	link.Deliver(mock.Delivery(3, "globex", "p1"))

	require.Eventually(t, func() bool {
		return len(link.Acked()) == 2 && len(link.Nacked()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.ElementsMatch(t, []uint64{1, 2}, link.Acked())
	assert.Equal(t, mock.Nack{Tag: 3, Requeue: true}, link.Nacked()[0])
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, 3, dir.Len())
}
