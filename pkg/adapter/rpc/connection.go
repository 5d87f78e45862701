package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/transport"
)

// connection is one accepted client. It is the transport's Ops: releasing
// the transport closes the socket.
type connection struct {
	adapter   *Adapter
	conn      net.Conn
	transport *transport.Transport
}

// Destroy closes the socket once the last transport reference is gone.
func (c *connection) Destroy(t *transport.Transport) {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("Error closing RPC connection fd=%d: %v", t.FD(), err)
	}
	logger.Debug("RPC transport fd=%d released", t.FD())
}

// Close closes the socket without releasing the transport, so that the
// serving goroutine unblocks and runs its own cleanup.
func (c *connection) Close() error {
	return c.conn.Close()
}

// serve runs the handler for this connection. On return the transport is
// unregistered before it is destroyed, so its descriptor cannot be reused
// while still present in the registry.
func (c *connection) serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	defer func() {
		// Panic recovery - prevents a single connection from crashing the server
		if r := recover(); r != nil {
			logger.Error("Panic in RPC connection handler from %s: %v", clientAddr, r)
		}
		c.adapter.registry.Remove(c.transport)
		c.transport.Destroy()
	}()

	// Cancellation interrupts a blocked read.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	wrapped := &activityConn{
		Conn:         c.conn,
		ctx:          ctx,
		t:            c.transport,
		readTimeout:  c.adapter.config.ReadTimeout,
		writeTimeout: c.adapter.config.WriteTimeout,
		metrics:      c.adapter.metrics,
	}

	err := c.adapter.handler.ServeTransport(ctx, c.transport, wrapped)

	var netErr net.Error
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		logger.Debug("RPC connection from %s closed by client", clientAddr)
	case ctx.Err() != nil:
		logger.Debug("RPC connection from %s cancelled: %v", clientAddr, ctx.Err())
	case errors.Is(err, net.ErrClosed):
		logger.Debug("RPC connection from %s closed by server", clientAddr)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("RPC connection from %s timed out: %v", clientAddr, err)
	default:
		logger.Debug("Error serving RPC connection from %s: %v", clientAddr, err)
	}
}

// activityConn applies per-operation deadlines and records activity on the
// transport for every successful read or write.
type activityConn struct {
	net.Conn

	ctx          context.Context
	t            *transport.Transport
	readTimeout  time.Duration
	writeTimeout time.Duration
	metrics      metrics.AdapterMetrics
}

func (c *activityConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	// A cancellation that landed before the deadline above was set would
	// otherwise be overwritten.
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := c.Conn.Read(p)
	if n > 0 {
		c.t.Touch()
		c.metrics.RecordBytesTransferred("read", int64(n))
	}
	return n, err
}

func (c *activityConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}

	n, err := c.Conn.Write(p)
	if n > 0 {
		c.t.Touch()
		c.metrics.RecordBytesTransferred("write", int64(n))
	}
	return n, err
}

// socketFD returns the operating system descriptor behind conn.
func socketFD(conn net.Conn) (int, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}

	fd := -1
	if err := raw.Control(func(d uintptr) { fd = int(d) }); err != nil {
		return 0, false
	}
	return fd, fd >= 0
}
