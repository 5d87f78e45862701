package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/transport"
)

// Action tells ForEach how to proceed after visiting a transport.
type Action int

const (
	// Continue moves on to the next transport of the partition.
	Continue Action = iota

	// RemoveAndRestart removes the visited transport from the registry and
	// restarts the partition from its first entry.
	RemoveAndRestart
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case RemoveAndRestart:
		return "remove-and-restart"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// EachFunc visits one transport. It runs with no registry lock held, so it
// may block and may call Insert, Remove or Lookup. It must not hold the
// visited transport's lock when it returns RemoveAndRestart.
type EachFunc func(t *transport.Transport) Action

// ErrScanIncomplete is returned by ForEach when at least one partition
// exceeded its restart budget.
var ErrScanIncomplete = errors.New("transport scan incomplete")

// ScanResult summarizes one ForEach call.
type ScanResult struct {
	// Visited counts visitor invocations, including repeat visits after a
	// restart.
	Visited int

	// Restarts counts restarts over all partitions.
	Restarts int

	// Incomplete lists the partitions abandoned after exceeding the restart
	// budget, in ascending order.
	Incomplete []int
}

// Complete reports whether every partition was scanned to the end.
func (s ScanResult) Complete() bool {
	return len(s.Incomplete) == 0
}

// ForEach calls fn for every registered transport, one partition at a time
// and in ascending descriptor order within a partition.
//
// No lock is held while fn runs. When the partition changes in the
// meantime the scan resumes after the last visited descriptor if it is
// still registered, and restarts the partition otherwise. A partition that
// restarts more than the configured budget is abandoned; the scan still
// covers the remaining partitions and the returned error wraps
// ErrScanIncomplete.
//
// A transport inserted or removed concurrently may or may not be visited.
// A transport present for the whole scan of a completed partition is
// visited at least once.
func (r *Registry) ForEach(fn EachFunc) (ScanResult, error) {
	start := time.Now()
	parts := r.partitions()

	var res ScanResult
	for i, p := range parts {
		visited, restarts, complete := r.scanPartition(p, fn)
		res.Visited += visited
		res.Restarts += restarts

		if !complete {
			logger.Warn("Transport scan abandoned partition %d after %d restarts", i, restarts)
			res.Incomplete = append(res.Incomplete, i)
		}
	}

	r.metrics.ObserveScan(time.Since(start), res.Visited, res.Restarts, len(res.Incomplete))

	if !res.Complete() {
		return res, fmt.Errorf("%w: partitions %v", ErrScanIncomplete, res.Incomplete)
	}
	return res, nil
}

// scanPartition walks p until a pass completes or the restart budget is
// exhausted.
func (r *Registry) scanPartition(p *partition, fn EachFunc) (visited, restarts int, complete bool) {
	for {
		if r.scanPass(p, fn, &visited) {
			return visited, restarts, true
		}

		restarts++
		if restarts > r.config.RestartBudget {
			return visited, restarts, false
		}
	}
}

// scanPass walks p once from its first entry. It returns false when the
// walk has to start over.
func (r *Registry) scanPass(p *partition, fn EachFunc, visited *int) bool {
	p.mu.RLock()
	gen := p.gen
	cur, ok := p.first()

	for ok {
		fd := cur.fd
		p.mu.RUnlock()

		*visited++
		if fn(cur.t) == RemoveAndRestart {
			r.Remove(cur.t)
			return false
		}

		p.mu.RLock()
		if p.gen != gen {
			// The partition changed while unlocked. The cursor is only
			// meaningful if its descriptor is still there.
			if !p.tree.Has(entry{fd: fd}) {
				p.mu.RUnlock()
				return false
			}
			gen = p.gen
		}
		cur, ok = p.after(fd)
	}

	p.mu.RUnlock()
	return true
}
