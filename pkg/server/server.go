package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/adapter"
	"github.com/marmos91/dittorpc/pkg/registry"
	"go.uber.org/multierr"
)

// DefaultStopTimeout bounds the Stop call of every adapter when none is
// configured.
const DefaultStopTimeout = 30 * time.Second

// Server manages the lifecycle of multiple protocol adapters that share a
// single transport registry.
//
// Lifecycle:
//  1. Creation: New() with the shared registry
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation or an adapter failure stops every
//     adapter in reverse order, then shuts the registry down
//
// Thread safety:
// Server is safe for concurrent use. Serve() may only be called once.
//
// Example usage:
//
//	srv := server.New(reg, cfg.Server.ShutdownTimeout)
//	srv.AddAdapter(rpc.New(rpcConfig, handler, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	// registry is shared by every adapter and shut down after they stop
	registry *registry.Registry

	// stopTimeout bounds each adapter's Stop call
	stopTimeout time.Duration

	// mu protects adapters and served
	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   bool
}

// New creates a Server around the shared transport registry.
//
// A non-positive stopTimeout selects DefaultStopTimeout.
//
// Panics if reg is nil (programmer error).
func New(reg *registry.Registry, stopTimeout time.Duration) *Server {
	if reg == nil {
		panic("transport registry cannot be nil")
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Server{
		registry:    reg,
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// Registry returns the registry shared by all adapters.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// AddAdapter injects the shared registry into a and schedules it to be
// started by Serve.
//
// Returns an error if another adapter already serves the same protocol or
// port. Ephemeral ports (0) never conflict.
//
// Panics if a is nil or Serve() has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetRegistry(s.registry)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled, an adapter fails, or every adapter has returned on its own.
//
// Shutdown behavior:
//   - All adapters receive Stop() calls in reverse registration order, each
//     bounded by the stop timeout
//   - Serve() waits for every adapter goroutine to return
//   - The registry is shut down last, releasing any transport an adapter
//     left behind
//
// Returns:
//   - context.Canceled (possibly combined with stop errors) on cancellation
//   - the first adapter failure, combined with stop errors
//   - nil when every adapter returned cleanly
//
// Panics if called more than once.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting DittoRPC server with %d adapter(s)", len(adapters))

	// Buffered so that failing adapters never block on a server that has
	// stopped listening.
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	startTime := time.Now()

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped gracefully", protocol)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(adp)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	go s.logStartup(ctx, allDone, adapters, startTime)

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = multierr.Append(ctx.Err(), s.stopAllAdapters(adapters))

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = multierr.Append(
			fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err),
			s.stopAllAdapters(adapters),
		)

	case <-allDone:
		// Every adapter returned without being asked to. A failure may
		// have raced with the last goroutine exiting.
		select {
		case adapterErr := <-errChan:
			shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
		default:
		}
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	<-allDone

	// Adapters unregister their own connections; whatever is left is
	// released here.
	if n := s.registry.Len(); n > 0 {
		logger.Info("Releasing %d transport(s) left in the registry", n)
	}
	s.registry.Shutdown()

	logger.Info("DittoRPC server stopped")
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// readyAdapter is implemented by adapters that report when they listen.
type readyAdapter interface {
	Ready() <-chan struct{}
}

// logStartup logs once every adapter that reports readiness is listening.
func (s *Server) logStartup(ctx context.Context, done <-chan struct{}, adapters []adapter.Adapter, start time.Time) {
	for _, a := range adapters {
		ra, ok := a.(readyAdapter)
		if !ok {
			continue
		}
		select {
		case <-ra.Ready():
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
	logger.Info("All adapters started successfully in %v", time.Since(start))
}

// stopAllAdapters stops every adapter in reverse registration order and
// returns their combined errors.
//
// Each Stop call gets its own stop timeout, so that one slow adapter
// does not eat into the budget of the others.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) error {
	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	var errs error
	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
		err := adp.Stop(ctx)
		cancel()

		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
			errs = multierr.Append(errs, fmt.Errorf("stop %s adapter: %w", protocol, err))
			continue
		}
		logger.Debug("%s adapter stopped", protocol)
	}
	return errs
}

// Adapters returns a snapshot of currently registered adapters.
//
// The returned slice is a copy and safe to iterate over without holding locks.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
