package rpc

import (
	"context"
	"net"

	"github.com/marmos91/dittorpc/pkg/transport"
)

// Handler types accepted in HandlerConfig.Type.
const (
	HandlerDiscard = "discard"
	HandlerEcho    = "echo"
)

const defaultBufferSize = 64 * 1024

// Handler serves the byte stream of one registered connection.
//
// ServeTransport returns when the client goes away, an I/O error occurs or
// ctx is cancelled. The returned error only feeds logging. Cancelling ctx
// interrupts a pending read on conn.
type Handler interface {
	Name() string
	ServeTransport(ctx context.Context, t *transport.Transport, conn net.Conn) error
}

// DiscardOptions configures the discard handler.
type DiscardOptions struct {
	// BufferSize is the read buffer size in bytes.
	BufferSize int `mapstructure:"buffer_size"`
}

// EchoOptions configures the echo handler.
type EchoOptions struct {
	// BufferSize is the read buffer size in bytes, and so the largest
	// chunk echoed by a single write.
	BufferSize int `mapstructure:"buffer_size"`
}

type discardHandler struct {
	bufferSize int
}

// NewDiscardHandler returns a handler that reads and drops everything the
// client sends.
func NewDiscardHandler(opts DiscardOptions) Handler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &discardHandler{bufferSize: opts.BufferSize}
}

func (h *discardHandler) Name() string {
	return HandlerDiscard
}

func (h *discardHandler) ServeTransport(ctx context.Context, _ *transport.Transport, conn net.Conn) error {
	buf := make([]byte, h.bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := conn.Read(buf); err != nil {
			return err
		}
	}
}

type echoHandler struct {
	bufferSize int
}

// NewEchoHandler returns a handler that writes back everything the client
// sends.
func NewEchoHandler(opts EchoOptions) Handler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &echoHandler{bufferSize: opts.BufferSize}
}

func (h *echoHandler) Name() string {
	return HandlerEcho
}

func (h *echoHandler) ServeTransport(ctx context.Context, t *transport.Transport, conn net.Conn) error {
	buf := make([]byte, h.bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return werr
			}
			t.Trace("echo")
		}
		if err != nil {
			return err
		}
	}
}
