// Package transport defines the connection handle tracked by the transport
// registry.
//
// A Transport is shared among the registry (non-owning membership), the
// dispatcher that accepted it (the creator reference) and any in-flight work
// that took a reference with Ref. Its resources are released by Ops.Destroy
// exactly once, when the last reference is dropped.
package transport

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
)

// Ops is the per-type terminal cleanup of a transport.
//
// Destroy releases the socket and any memory owned by the handle. It is
// invoked once, when the reference count drops to zero.
type Ops interface {
	Destroy(t *Transport)
}

// OpsFunc adapts a plain function to Ops.
type OpsFunc func(t *Transport)

func (f OpsFunc) Destroy(t *Transport) { f(t) }

// Transport is one network connection endpoint, keyed by its socket descriptor.
//
// Locking:
// mu guards remote and linked. The registry flips linked only while holding
// both mu and the owning partition's write lock, so a reader holding either
// one sees a stable value.
type Transport struct {
	fd      int
	ops     Ops
	created time.Time

	refs      atomic.Int32
	destroyed atomic.Bool
	released  atomic.Bool

	// lastActive is the unix-nano timestamp of the last Touch
	lastActive atomic.Int64

	mu     sync.Mutex
	remote net.Addr
	linked bool
}

// New creates an unlinked transport holding the creator's reference.
//
// Panics if ops is nil: every transport must be destroyable by Shutdown.
func New(fd int, remote net.Addr, ops Ops) *Transport {
	if ops == nil {
		panic("transport ops cannot be nil")
	}

	now := time.Now()
	t := &Transport{
		fd:      fd,
		ops:     ops,
		created: now,
		remote:  remote,
	}
	t.refs.Store(1)
	t.lastActive.Store(now.UnixNano())
	return t
}

// FD returns the socket descriptor. It never changes after construction.
func (t *Transport) FD() int {
	return t.fd
}

// Ops returns the cleanup operations the transport was created with.
func (t *Transport) Ops() Ops {
	return t.ops
}

// Created returns the construction time.
func (t *Transport) Created() time.Time {
	return t.created
}

func (t *Transport) Lock() {
	t.mu.Lock()
}

func (t *Transport) Unlock() {
	t.mu.Unlock()
}

// RemoteAddr returns the peer address, or nil when unknown.
func (t *Transport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// SetRemoteAddr updates the peer address.
func (t *Transport) SetRemoteAddr(addr net.Addr) {
	t.mu.Lock()
	t.remote = addr
	t.mu.Unlock()
}

// Port returns the peer port, or -1 when the address carries none.
func (t *Transport) Port() int {
	return portOf(t.RemoteAddr())
}

// IsLinked reports whether the transport is currently registered.
func (t *Transport) IsLinked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.linked
}

// Linked is IsLinked for callers already holding the transport lock.
func (t *Transport) Linked() bool {
	return t.linked
}

// SetLinked records registry membership. The caller must hold the transport
// lock and the write lock of the partition the transport maps to.
func (t *Transport) SetLinked(linked bool) {
	t.linked = linked
}

// Ref takes an additional reference and returns the new count.
func (t *Transport) Ref() int32 {
	return t.refs.Add(1)
}

// Unref drops a reference. When the count reaches zero the transport's Ops
// are invoked to release it.
func (t *Transport) Unref() int32 {
	n := t.refs.Add(-1)
	if n == 0 {
		t.release()
	}
	if n < 0 {
		logger.Error("transport fd=%d reference count underflow (%d)", t.fd, n)
	}
	return n
}

// Refs returns the current reference count. Diagnostic only.
func (t *Transport) Refs() int32 {
	return t.refs.Load()
}

// Destroy is the terminal operation on a transport: it marks it destroyed
// and drops the creator's reference. Further calls are no-ops, so both the
// dispatcher and a registry shutdown may call it.
func (t *Transport) Destroy() {
	if !t.destroyed.CompareAndSwap(false, true) {
		return
	}
	t.Unref()
}

// IsDestroyed reports whether Destroy has been called.
func (t *Transport) IsDestroyed() bool {
	return t.destroyed.Load()
}

func (t *Transport) release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	t.ops.Destroy(t)
}

// Touch records activity on the connection.
func (t *Transport) Touch() {
	t.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last recorded activity.
func (t *Transport) LastActive() time.Time {
	return time.Unix(0, t.lastActive.Load())
}

// IdleFor returns how long the transport has been idle as of now.
func (t *Transport) IdleFor(now time.Time) time.Duration {
	return now.Sub(t.LastActive())
}

// Trace logs the transport's identity along with the calling function and
// line. It has no effect on the transport.
func (t *Transport) Trace(tag string) {
	if !logger.IsDebug() {
		return
	}

	fn, line := "unknown", 0
	if pc, _, l, ok := runtime.Caller(1); ok {
		line = l
		if f := runtime.FuncForPC(pc); f != nil {
			fn = f.Name()
			if i := strings.LastIndexByte(fn, '/'); i >= 0 {
				fn = fn[i+1:]
			}
		}
	}

	logger.Debug("%s() transport %p refs %d fd %d port %d @ %s:%d",
		fn, t, t.Refs(), t.fd, t.Port(), tag, line)
}

func (t *Transport) String() string {
	remote := "-"
	if addr := t.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return fmt.Sprintf("transport(fd=%d remote=%s refs=%d)", t.fd, remote, t.Refs())
}

func portOf(addr net.Addr) int {
	switch a := addr.(type) {
	case nil:
		return -1
	case *net.TCPAddr:
		if a == nil {
			return -1
		}
		return a.Port
	case *net.UDPAddr:
		if a == nil {
			return -1
		}
		return a.Port
	}

	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return -1
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return -1
	}
	return p
}
