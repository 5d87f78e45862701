package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittorpc/pkg/registry"
	"github.com/marmos91/dittorpc/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stopLog records the order in which adapters are stopped.
type stopLog struct {
	mu    sync.Mutex
	order []string
}

func (l *stopLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *stopLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type fakeAdapter struct {
	protocol string
	port     int
	log      *stopLog

	// serveErr, when set, is returned by Serve right away.
	serveErr error
	// stopErr is returned by Stop.
	stopErr error

	reg      *registry.Registry
	ready    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	stops    atomic.Int32
}

func newFake(protocol string, port int, log *stopLog) *fakeAdapter {
	return &fakeAdapter{
		protocol: protocol,
		port:     port,
		log:      log,
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	close(f.ready)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stop:
		return nil
	}
}

func (f *fakeAdapter) SetRegistry(reg *registry.Registry) { f.reg = reg }

func (f *fakeAdapter) Stop(context.Context) error {
	f.stops.Add(1)
	if f.log != nil {
		f.log.add(f.protocol)
	}
	f.stopOnce.Do(func() { close(f.stop) })
	return f.stopErr
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func (f *fakeAdapter) Ready() <-chan struct{} { return f.ready }

func serveAsync(ctx context.Context, s *Server) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func waitReady(t *testing.T, f *fakeAdapter) {
	t.Helper()
	select {
	case <-f.ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s adapter never started", f.protocol)
	}
}

func TestNew_NilRegistryPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil, time.Second) })
}

func TestAddAdapter_InjectsRegistry(t *testing.T) {
	reg := registry.New(registry.Config{}, nil)
	s := New(reg, 0)

	a := newFake("RPC", 2049, nil)
	require.NoError(t, s.AddAdapter(a))

	assert.Same(t, reg, a.reg)
	assert.Same(t, reg, s.Registry())
	assert.Len(t, s.Adapters(), 1)
}

func TestAddAdapter_Conflicts(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), 0)
	require.NoError(t, s.AddAdapter(newFake("RPC", 2049, nil)))

	err := s.AddAdapter(newFake("RPC", 3049, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = s.AddAdapter(newFake("DEBUG", 2049, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 2049")
}

func TestAddAdapter_EphemeralPortsNeverConflict(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), 0)
	require.NoError(t, s.AddAdapter(newFake("A", 0, nil)))
	require.NoError(t, s.AddAdapter(newFake("B", 0, nil)))
}

func TestAddAdapter_NilPanics(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), 0)
	assert.Panics(t, func() { _ = s.AddAdapter(nil) })
}

func TestAdapters_ReturnsCopy(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), 0)
	require.NoError(t, s.AddAdapter(newFake("RPC", 1, nil)))

	snapshot := s.Adapters()
	snapshot[0] = nil

	assert.NotNil(t, s.Adapters()[0])
}

func TestServe_NoAdapters(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), 0)

	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapters registered")
}

func TestServe_CancelStopsAdaptersInReverseOrder(t *testing.T) {
	log := &stopLog{}
	s := New(registry.New(registry.Config{}, nil), time.Second)

	first := newFake("FIRST", 1, log)
	second := newFake("SECOND", 2, log)
	require.NoError(t, s.AddAdapter(first))
	require.NoError(t, s.AddAdapter(second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, s)

	waitReady(t, first)
	waitReady(t, second)
	cancel()

	err := waitServe(t, errCh)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"SECOND", "FIRST"}, log.get())
}

func TestServe_ShutsDownRegistryAfterAdapters(t *testing.T) {
	reg := registry.New(registry.Config{}, nil)
	s := New(reg, time.Second)
	a := newFake("RPC", 1, nil)
	require.NoError(t, s.AddAdapter(a))

	var destroyed atomic.Int32
	leftover := transport.New(5, nil, transport.OpsFunc(func(*transport.Transport) {
		destroyed.Add(1)
	}))
	require.Nil(t, reg.Insert(leftover))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, s)
	waitReady(t, a)
	cancel()
	waitServe(t, errCh)

	assert.Equal(t, int32(1), destroyed.Load())
	assert.Equal(t, 0, reg.Len())
	_, found := reg.Lookup(5)
	assert.False(t, found)
}

func TestServe_AdapterFailureStopsOthers(t *testing.T) {
	log := &stopLog{}
	s := New(registry.New(registry.Config{}, nil), time.Second)

	healthy := newFake("HEALTHY", 1, log)
	broken := newFake("BROKEN", 2, log)
	broken.serveErr = errors.New("bind: address already in use")

	require.NoError(t, s.AddAdapter(healthy))
	require.NoError(t, s.AddAdapter(broken))

	err := waitServe(t, serveAsync(context.Background(), s))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKEN adapter error")
	assert.Contains(t, err.Error(), "address already in use")
	assert.Equal(t, int32(1), healthy.stops.Load())
}

func TestServe_CombinesStopErrors(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), time.Second)

	a := newFake("RPC", 1, nil)
	a.stopErr = errors.New("2 connections force-closed")
	require.NoError(t, s.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, s)
	waitReady(t, a)
	cancel()

	err := waitServe(t, errCh)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "force-closed")
}

func TestServe_ReturnsWhenAllAdaptersExit(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), time.Second)
	a := newFake("RPC", 1, nil)
	require.NoError(t, s.AddAdapter(a))

	errCh := serveAsync(context.Background(), s)
	waitReady(t, a)
	require.NoError(t, a.Stop(context.Background()))

	assert.NoError(t, waitServe(t, errCh))
}

func TestServe_SecondCallPanics(t *testing.T) {
	s := New(registry.New(registry.Config{}, nil), time.Second)
	a := newFake("RPC", 1, nil)
	require.NoError(t, s.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, s)
	waitReady(t, a)

	assert.Panics(t, func() { _ = s.Serve(ctx) })
	assert.Panics(t, func() { _ = s.AddAdapter(newFake("OTHER", 2, nil)) })

	cancel()
	waitServe(t, errCh)
}
