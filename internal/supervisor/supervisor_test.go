package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	listenErr   error
	listening   chan struct{}
	stop        chan struct{}
	listens     atomic.Int32
	shutdowns   atomic.Int32
	shutdownErr error
}

func newFakeListener() *fakeListener {
	return &fakeListener{listening: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeListener) Listen(string) error {
	f.listens.Add(1)
	select {
	case f.listening <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return nil
}

func (f *fakeListener) ShutdownWithContext(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return f.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	l := newFakeListener()
	var hooked atomic.Bool
	svc := NewHTTPService(l, ":0", time.Second, func(context.Context) { hooked.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-l.listening
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, int32(1), l.shutdowns.Load())
	assert.True(t, hooked.Load())
}

func TestHTTPServiceListenFailure(t *testing.T) {
	l := newFakeListener()
	l.listenErr = errors.New("address already in use")
	svc := NewHTTPService(l, ":0", 0, nil)

	err := svc.Serve(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.Zero(t, l.shutdowns.Load())
}

type countingService struct {
	runs atomic.Int32
}

func (c *countingService) Serve(ctx context.Context) error {
	c.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (c *countingService) String() string { return "counting" }

func TestTreeRunsAndStopsServices(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := NewTree(logger, TreeConfig{ShutdownTimeout: time.Second})

	bg := &countingService{}
	l := newFakeListener()
	tree.AddBackgroundService(bg)
	tree.AddAPIService(NewHTTPService(l, ":0", time.Second, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	<-l.listening
	assert.Eventually(t, func() bool { return bg.runs.Load() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, int32(1), l.shutdowns.Load())

	unstopped, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, unstopped)
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(nil, TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.config)
}
