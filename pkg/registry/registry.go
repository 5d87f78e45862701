// Package registry tracks every live transport of the service, keyed by its
// socket descriptor.
//
// Transports are spread over a fixed number of partitions, each with its own
// reader/writer lock, a B-tree index ordered by descriptor and a generation
// counter that changes on every structural modification. Lookups only
// contend within one partition, and a scan can detect that the partition
// changed while it was not holding the lock (see ForEach).
//
// Lock order:
// a transport's own lock is always taken before a partition lock. No
// transport lock is ever acquired while a partition lock is held.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/transport"
)

// entry is one B-tree item. Lookups build an entry with only fd set.
type entry struct {
	fd int
	t  *transport.Transport
}

func entryLess(a, b entry) bool {
	return a.fd < b.fd
}

type partition struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]

	// gen changes on every insert or delete, under mu held for writing
	gen uint64
}

// first returns the lowest entry. Caller holds mu.
func (p *partition) first() (entry, bool) {
	return p.tree.Min()
}

// after returns the lowest entry strictly greater than fd. Caller holds mu.
func (p *partition) after(fd int) (e entry, ok bool) {
	p.tree.AscendGreaterOrEqual(entry{fd: fd}, func(item entry) bool {
		if item.fd == fd {
			return true
		}
		e, ok = item, true
		return false
	})
	return e, ok
}

type table struct {
	parts []*partition
}

// Registry is the partitioned index of live transports.
//
// The registry never owns a transport: membership does not hold a reference,
// and the registry only destroys transports during Shutdown.
type Registry struct {
	config  Config
	metrics metrics.RegistryMetrics

	initMu sync.Mutex
	table  atomic.Pointer[table]

	count atomic.Int64
}

// New creates a registry. Partitions are allocated lazily on first use or by
// an explicit Init.
//
// A nil metrics collector disables metrics.
func New(cfg Config, m metrics.RegistryMetrics) *Registry {
	cfg.ApplyDefaults()
	if m == nil {
		m = metrics.NewNoopRegistryMetrics()
	}
	return &Registry{
		config:  cfg,
		metrics: m,
	}
}

// Config returns the effective configuration, defaults applied.
func (r *Registry) Config() Config {
	return r.config
}

// Partitions returns the number of partitions.
func (r *Registry) Partitions() int {
	return r.config.Partitions
}

// Init allocates the partition table. It is idempotent and safe to call
// concurrently; every other operation calls it implicitly.
func (r *Registry) Init() {
	r.partitions()
}

func (r *Registry) partitions() []*partition {
	if t := r.table.Load(); t != nil {
		return t.parts
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if t := r.table.Load(); t != nil {
		return t.parts
	}

	t := &table{parts: make([]*partition, r.config.Partitions)}
	for i := range t.parts {
		t.parts[i] = &partition{tree: btree.NewG[entry](r.config.Degree, entryLess)}
	}
	r.table.Store(t)

	logger.Debug("Transport registry initialized: %d partitions, restart budget %d",
		r.config.Partitions, r.config.RestartBudget)
	return t.parts
}

// PartitionOf maps a descriptor to its partition index. The mapping is
// stable for the life of the registry and total over all int values.
func (r *Registry) PartitionOf(fd int) int {
	return int(uint64(fd) % uint64(r.config.Partitions))
}

// Lookup returns the transport registered under fd.
//
// The result is not referenced: a caller that keeps it beyond its own
// synchronization with the transport's owner must take a reference.
func (r *Registry) Lookup(fd int) (*transport.Transport, bool) {
	p := r.partitions()[r.PartitionOf(fd)]

	p.mu.RLock()
	e, ok := p.tree.Get(entry{fd: fd})
	p.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return e.t, true
}

// Insert registers t under its descriptor, taking and releasing t's lock.
//
// Returns nil on success. If another transport is already registered under
// the same descriptor, that transport is returned and t is left unlinked;
// the caller decides what to do with the duplicate.
func (r *Registry) Insert(t *transport.Transport) *transport.Transport {
	t.Lock()
	defer t.Unlock()
	return r.InsertLocked(t)
}

// InsertLocked is Insert for callers already holding t's lock. The lock is
// still held on return.
//
// Inserting a transport that is already linked is a no-op.
func (r *Registry) InsertLocked(t *transport.Transport) *transport.Transport {
	if t.Linked() {
		return nil
	}

	idx := r.PartitionOf(t.FD())
	p := r.partitions()[idx]

	p.mu.Lock()
	if existing, found := p.tree.Get(entry{fd: t.FD()}); found {
		p.mu.Unlock()

		logger.Warn("Transport fd=%d already registered (existing refs %d, new refs %d)",
			t.FD(), existing.t.Refs(), t.Refs())
		r.metrics.RecordCollision(idx)
		return existing.t
	}

	p.tree.ReplaceOrInsert(entry{fd: t.FD(), t: t})
	p.gen++
	t.SetLinked(true)
	p.mu.Unlock()

	r.metrics.RecordInsert(idx)
	r.metrics.SetRegistered(r.count.Add(1))
	return nil
}

// Remove unregisters t, taking and releasing t's lock. Removing an unlinked
// transport is a no-op.
func (r *Registry) Remove(t *transport.Transport) {
	t.Lock()
	defer t.Unlock()
	r.RemoveLocked(t)
}

// RemoveLocked is Remove for callers already holding t's lock. The lock is
// still held on return.
func (r *Registry) RemoveLocked(t *transport.Transport) {
	if !t.Linked() {
		return
	}

	// A linked transport with no table is being drained by Shutdown, which
	// unlinks it.
	tbl := r.table.Load()
	if tbl == nil {
		return
	}
	r.unlink(tbl, t)
}

// unlink removes t from tbl. Caller holds t's lock and has checked that t
// is linked.
func (r *Registry) unlink(tbl *table, t *transport.Transport) {
	idx := r.PartitionOf(t.FD())
	p := tbl.parts[idx]

	p.mu.Lock()
	e, found := p.tree.Get(entry{fd: t.FD()})
	deleted := found && e.t == t
	if deleted {
		p.tree.Delete(e)
		p.gen++
	}
	// Not found means Shutdown is draining the table t was linked in.
	// Unlinking it here hands its release back to the caller.
	t.SetLinked(false)
	p.mu.Unlock()

	if deleted {
		r.metrics.RecordRemove(idx)
		r.metrics.SetRegistered(r.count.Add(-1))
	}
}

// Len returns the number of registered transports.
func (r *Registry) Len() int {
	tbl := r.table.Load()
	if tbl == nil {
		return 0
	}

	n := 0
	for _, p := range tbl.parts {
		p.mu.RLock()
		n += p.tree.Len()
		p.mu.RUnlock()
	}
	return n
}

// PartitionLen returns the number of transports in partition i, or 0 when
// i is out of range.
func (r *Registry) PartitionLen(i int) int {
	tbl := r.table.Load()
	if tbl == nil || i < 0 || i >= len(tbl.parts) {
		return 0
	}

	p := tbl.parts[i]
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tree.Len()
}

// Snapshot returns the transports of every partition in partition and
// descriptor order. The transports are not referenced.
func (r *Registry) Snapshot() []*transport.Transport {
	tbl := r.table.Load()
	if tbl == nil {
		return nil
	}

	var out []*transport.Transport
	for _, p := range tbl.parts {
		p.mu.RLock()
		p.tree.Ascend(func(e entry) bool {
			out = append(out, e.t)
			return true
		})
		p.mu.RUnlock()
	}
	return out
}

// Dump logs the content of every partition, tagged with tag. It does
// nothing before the registry is initialized.
func (r *Registry) Dump(tag string) {
	tbl := r.table.Load()
	if tbl == nil {
		return
	}

	for i, p := range tbl.parts {
		p.mu.RLock()
		entries := make([]entry, 0, p.tree.Len())
		p.tree.Ascend(func(e entry) bool {
			entries = append(entries, e)
			return true
		})
		p.mu.RUnlock()

		// Transport locks are taken after the partition lock is released.
		logger.Info("transports at %s: partition %d size %d", tag, i, len(entries))
		for _, e := range entries {
			remote := "-"
			if addr := e.t.RemoteAddr(); addr != nil {
				remote = addr.String()
			}
			logger.Info("transports at %s: %p fd %d remote %s refs %d",
				tag, e.t, e.fd, remote, e.t.Refs())
		}
	}
}

// Shutdown unlinks and destroys every registered transport, then retires the
// partition table. The next operation re-initializes an empty registry.
//
// Transports inserted while Shutdown runs land in the next table. Late
// Remove calls on transports it already unlinked are harmless.
func (r *Registry) Shutdown() {
	r.initMu.Lock()
	tbl := r.table.Swap(nil)
	r.initMu.Unlock()

	if tbl == nil {
		return
	}

	destroyed := 0
	for idx, p := range tbl.parts {
		p.mu.Lock()
		drained := make([]*transport.Transport, 0, p.tree.Len())
		p.tree.Ascend(func(e entry) bool {
			drained = append(drained, e.t)
			return true
		})
		p.tree.Clear(false)
		p.gen++
		p.mu.Unlock()

		for range drained {
			r.metrics.RecordRemove(idx)
		}
		if len(drained) > 0 {
			r.metrics.SetRegistered(r.count.Add(-int64(len(drained))))
		}

		for _, t := range drained {
			t.Lock()
			linked := t.Linked()
			t.SetLinked(false)
			t.Unlock()

			// A transport removed concurrently belongs to whoever removed it.
			if linked {
				t.Destroy()
				destroyed++
			}
		}
	}

	logger.Debug("Transport registry shut down: %d transports destroyed", destroyed)
}
