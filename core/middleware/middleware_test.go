package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrate-platform/astrate/core"
	"github.com/astrate-platform/astrate/core/middleware"
	"github.com/astrate-platform/astrate/internal/mock"
)

func testContext(t *testing.T) core.Context {
	t.Helper()
	d := mock.Delivery(42, "acme", "p1")
	key, err := core.ExtractRoutingKey(d, core.DefaultHeaderNames())
	require.NoError(t, err)
	return core.NewContext(context.Background(), core.NewEvent(key, d, mock.NewLink(), nil), core.JSONBinder{})
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Logging(bufferLogger(&buf))(func(c core.Context) error {
		return nil
	})

	require.NoError(t, handler(testContext(t)))
	assert.Contains(t, buf.String(), "event handled")
	assert.Contains(t, buf.String(), "realm=acme")
	assert.Contains(t, buf.String(), "delivery_tag=42")
}

func TestLogging_Error(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Logging(bufferLogger(&buf))(func(c core.Context) error {
		return errors.New("boom")
	})

	assert.Error(t, handler(testContext(t)))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Recovery(bufferLogger(&buf))(func(c core.Context) error {
		panic("test panic")
	})

	err := handler(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic recovered")
	assert.Contains(t, buf.String(), "handler panic recovered")
}

func TestRecovery_NoPanic(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Recovery(bufferLogger(&buf))(func(c core.Context) error {
		return nil
	})

	assert.NoError(t, handler(testContext(t)))
	assert.Empty(t, buf.String())
}

type recordedCall struct {
	key core.RoutingKey
	err error
}

type fakeCollector struct{ calls []recordedCall }

func (f *fakeCollector) EventHandled(key core.RoutingKey, _ time.Duration, err error) {
	f.calls = append(f.calls, recordedCall{key: key, err: err})
}

func TestMetrics(t *testing.T) {
	collector := &fakeCollector{}
	boom := errors.New("boom")
	handler := middleware.Metrics(collector)(func(c core.Context) error {
		return boom
	})

	assert.ErrorIs(t, handler(testContext(t)), boom)
	require.Len(t, collector.calls, 1)
	assert.Equal(t, core.RoutingKey{Realm: "acme", Policy: "p1"}, collector.calls[0].key)
	assert.ErrorIs(t, collector.calls[0].err, boom)
}
