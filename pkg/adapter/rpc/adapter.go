// Package rpc implements the connection dispatcher of the RPC service.
//
// The dispatcher accepts TCP connections, wraps each one in a
// transport.Transport keyed by its socket descriptor and registers it in the
// shared transport registry for as long as it is being served. An idle sweep
// walks the registry and closes connections that went quiet, and shutdown
// drains or force-closes whatever is left.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/ratelimiter"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/registry"
	"github.com/marmos91/dittorpc/pkg/transport"
	"go.uber.org/multierr"
)

// Adapter implements adapter.Adapter for the RPC dispatcher.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (pending reads on every connection are interrupted)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown is guarded by sync.Once so
// Stop() may be called any number of times.
type Adapter struct {
	config   RPCConfig
	handler  Handler
	metrics  metrics.AdapterMetrics
	registry *registry.Registry
	limiter  *ratelimiter.Limiter

	// fdOf resolves the registry key of an accepted connection
	fdOf func(net.Conn) (int, bool)

	// nextSynthetic numbers connections that expose no socket descriptor.
	// Their keys are negative and never collide with real descriptors.
	nextSynthetic atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	stopped  bool

	ready   chan struct{}
	drained chan struct{}
	serving atomic.Bool

	// activeConns tracks serving goroutines for graceful shutdown
	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore limits concurrent connections; nil when unlimited
	connSemaphore chan struct{}

	shutdownOnce   sync.Once
	shutdown       chan struct{}
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// New creates a stopped adapter.
//
// Zero values in config are replaced with defaults. A nil handler selects
// the discard handler and nil metrics disable metrics.
//
// Panics if config validation fails.
func New(config RPCConfig, handler Handler, m metrics.AdapterMetrics) *Adapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid RPC config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("RPC connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("RPC connection limit: unlimited")
	}

	if handler == nil {
		handler = NewDiscardHandler(DiscardOptions{})
	}
	if m == nil {
		m = metrics.NewNoopAdapterMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:         config,
		handler:        handler,
		metrics:        m,
		limiter:        ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		fdOf:           socketFD,
		ready:          make(chan struct{}),
		drained:        make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetRegistry injects the shared transport registry.
func (a *Adapter) SetRegistry(reg *registry.Registry) {
	a.registry = reg
	logger.Debug("RPC transport registry configured (%d partitions)", reg.Partitions())
}

// Registry returns the transport registry connections are recorded in.
func (a *Adapter) Registry() *registry.Registry {
	return a.registry
}

// Serve listens on the configured address and serves connections until ctx
// is cancelled or Stop is called, then drains active connections.
//
// Serve should only be called once per Adapter.
func (a *Adapter) Serve(ctx context.Context) error {
	if a.registry == nil {
		a.SetRegistry(registry.New(registry.Config{}, nil))
	}

	addr := net.JoinHostPort(a.config.Address, strconv.Itoa(a.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create RPC listener on %s: %w", addr, err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.listener = listener
	a.serving.Store(true)
	a.mu.Unlock()

	defer close(a.drained)
	close(a.ready)

	logger.Info("RPC server listening on %s (handler %s)", listener.Addr(), a.handler.Name())
	logger.Debug("RPC config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v reap_interval=%v",
		a.config.MaxConnections, a.config.ReadTimeout, a.config.WriteTimeout,
		a.config.IdleTimeout, a.config.ReapInterval)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("RPC shutdown signal received: %v", ctx.Err())
		case <-a.shutdown:
		}
		a.initiateShutdown()
	}()

	go a.reapLoop(a.shutdownCtx)
	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics(a.shutdownCtx)
	}

	for {
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			a.releaseSlot()

			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				if errors.Is(err, net.ErrClosed) {
					return a.gracefulShutdown()
				}
				logger.Debug("Error accepting RPC connection: %v", err)
				continue
			}
		}

		if !a.handleConn(conn) {
			a.releaseSlot()
		}
	}
}

// handleConn registers an accepted connection and starts serving it.
// It returns false when the connection was refused and closed.
func (a *Adapter) handleConn(conn net.Conn) bool {
	if !a.limiter.Allow() {
		logger.Debug("RPC connection from %s rejected: accept rate exceeded", conn.RemoteAddr())
		_ = conn.Close()
		a.metrics.RecordConnectionRejected("rate_limited")
		return false
	}

	fd, ok := a.fdOf(conn)
	if !ok {
		fd = int(-a.nextSynthetic.Add(1))
	}

	c := &connection{adapter: a, conn: conn}
	t := transport.New(fd, conn.RemoteAddr(), c)
	c.transport = t

	if existing := a.registry.Insert(t); existing != nil {
		// The previous owner of the descriptor has not unregistered yet.
		logger.Warn("RPC connection from %s dropped: fd=%d still registered to %s",
			conn.RemoteAddr(), fd, existing.RemoteAddr())
		t.Destroy()
		a.metrics.RecordConnectionRejected("collision")
		return false
	}
	t.Trace("accept")

	a.activeConns.Add(1)
	current := a.connCount.Add(1)
	a.metrics.RecordConnectionAccepted()
	a.metrics.SetActiveConnections(current)

	logger.Debug("RPC connection accepted from %s fd=%d (active: %d)", conn.RemoteAddr(), fd, current)

	go func() {
		defer func() {
			a.metrics.RecordConnectionClosed()
			current := a.connCount.Add(-1)
			a.metrics.SetActiveConnections(current)
			a.releaseSlot()

			logger.Debug("RPC connection closed from %s (active: %d)", conn.RemoteAddr(), current)
			a.activeConns.Done()
		}()

		c.serve(a.shutdownCtx)
	}()
	return true
}

func (a *Adapter) releaseSlot() {
	if a.connSemaphore != nil {
		<-a.connSemaphore
	}
}

// initiateShutdown closes the listener and cancels every connection's
// context. It is safe to call multiple times.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("RPC shutdown initiated")

		a.mu.Lock()
		a.stopped = true
		listener := a.listener
		a.mu.Unlock()

		close(a.shutdown)

		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing RPC listener: %v", err)
			}
		}

		a.cancelRequests()
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout and
// force-closes the rest.
func (a *Adapter) gracefulShutdown() error {
	if a.config.DumpOnShutdown {
		a.registry.Dump("rpc shutdown")
	}

	activeCount := a.connCount.Load()
	logger.Info("RPC graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, a.config.ShutdownTimeout)

	if a.waitConnections(a.config.ShutdownTimeout) {
		logger.Info("RPC graceful shutdown complete: all connections closed")
		return nil
	}

	remaining := a.connCount.Load()
	logger.Warn("RPC shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
		remaining, a.config.ShutdownTimeout)

	err := fmt.Errorf("RPC shutdown timeout: %d connections force-closed", remaining)
	err = multierr.Append(err, a.forceCloseConnections())

	if !a.waitConnections(a.config.ShutdownTimeout) {
		err = multierr.Append(err, fmt.Errorf("RPC shutdown: %d connections did not exit after force close", a.connCount.Load()))
	}
	return err
}

// waitConnections reports whether every serving goroutine finished within d.
func (a *Adapter) waitConnections(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// forceCloseConnections closes the socket of every connection this adapter
// still has registered. The serving goroutines then fail their pending I/O
// and unregister themselves.
func (a *Adapter) forceCloseConnections() error {
	logger.Info("Force-closing active RPC connections")

	closedCount := 0
	var closeErr error
	res, err := a.registry.ForEach(func(t *transport.Transport) registry.Action {
		c := a.owned(t)
		if c == nil {
			return registry.Continue
		}
		if cerr := c.Close(); cerr != nil {
			if !errors.Is(cerr, net.ErrClosed) {
				closeErr = multierr.Append(closeErr, fmt.Errorf("close fd=%d: %w", t.FD(), cerr))
			}
			return registry.Continue
		}
		closedCount++
		a.metrics.RecordConnectionForceClosed()
		logger.Debug("Force-closed RPC connection fd=%d", t.FD())
		return registry.Continue
	})
	if err != nil {
		logger.Warn("RPC force close scan incomplete: %v (visited %d)", err, res.Visited)
		closeErr = multierr.Append(closeErr, err)
	}

	if closedCount == 0 {
		logger.Debug("No RPC connections to force-close")
	} else {
		logger.Info("Force-closed %d RPC connection(s)", closedCount)
	}
	return closeErr
}

// Stop initiates shutdown and waits for Serve to finish draining, or for
// ctx to expire, in which case remaining connections are force-closed.
//
// Stop is safe to call multiple times and concurrently with Serve().
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	if !a.serving.Load() {
		return nil
	}

	select {
	case <-a.drained:
		return nil
	case <-ctx.Done():
		logger.Warn("RPC shutdown context expired with %d connection(s) active: %v",
			a.connCount.Load(), ctx.Err())
		return multierr.Append(ctx.Err(), a.forceCloseConnections())
	}
}

// owned returns the connection behind t if this adapter accepted it.
func (a *Adapter) owned(t *transport.Transport) *connection {
	c, ok := t.Ops().(*connection)
	if !ok || c.adapter != a {
		return nil
	}
	return c
}

// logMetrics periodically logs the connection count until ctx is cancelled.
func (a *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("RPC metrics: active_connections=%d registered_transports=%d",
				a.connCount.Load(), a.registry.Len())
		}
	}
}

// Ready is closed once Serve is listening.
func (a *Adapter) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the listening address, or nil before Serve.
func (a *Adapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// GetActiveConnections returns the number of connections being served.
func (a *Adapter) GetActiveConnections() int32 {
	return a.connCount.Load()
}

// Port returns the configured TCP port.
func (a *Adapter) Port() int {
	return a.config.Port
}

// Protocol returns "RPC".
func (a *Adapter) Protocol() string {
	return "RPC"
}
