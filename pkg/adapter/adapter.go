package adapter

import (
	"context"

	"github.com/marmos91/dittorpc/pkg/registry"
)

// Adapter is a network front end managed by the Server.
//
// Each adapter accepts connections for one protocol and registers every
// connection in the shared transport registry, so that diagnostics, idle
// sweeps and shutdown see all transports regardless of how they arrived.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Registry injection: SetRegistry() provides the shared transport registry
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetRegistry() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active connections to finish (with timeout)
	//   - Release every transport it registered
	//   - Return context.Canceled or nil
	//
	// If Serve returns before context cancellation, the Server treats it as
	// a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// SetRegistry injects the transport registry shared by all adapters.
	//
	// Called exactly once by the Server before Serve().
	SetRegistry(reg *registry.Registry)

	// Stop initiates graceful shutdown.
	//
	// Implementations must be idempotent, safe to call concurrently with
	// Serve(), and respect the context deadline, force-closing whatever is
	// left when it expires.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the configured listening port.
	//
	// Returns 0 when the adapter uses an ephemeral port.
	Port() int
}
