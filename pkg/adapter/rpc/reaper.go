package rpc

import (
	"context"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/registry"
	"github.com/marmos91/dittorpc/pkg/transport"
)

// reapLoop runs the idle sweep every ReapInterval until ctx is cancelled.
func (a *Adapter) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.reapIdle(now)
		}
	}
}

// reapIdle unregisters and destroys every connection of this adapter that
// has been idle for at least IdleTimeout as of now. It returns the number
// of connections reaped.
//
// Each reaped transport is removed by the scan itself and destroyed once
// the scan is over, holding a reference in between. A partition that keeps
// changing may be left incomplete; its idle connections are picked up by
// the next sweep.
func (a *Adapter) reapIdle(now time.Time) int {
	var reaped []*transport.Transport

	res, err := a.registry.ForEach(func(t *transport.Transport) registry.Action {
		if a.owned(t) == nil || t.IdleFor(now) < a.config.IdleTimeout {
			return registry.Continue
		}
		t.Ref()
		reaped = append(reaped, t)
		return registry.RemoveAndRestart
	})
	if err != nil {
		logger.Debug("RPC idle sweep incomplete, retrying next sweep: %v (visited %d, restarts %d)",
			err, res.Visited, res.Restarts)
	}

	for _, t := range reaped {
		logger.Debug("RPC connection fd=%d idle for %v, closing", t.FD(), t.IdleFor(now))
		t.Destroy()
		t.Unref()
	}

	if len(reaped) > 0 {
		a.metrics.RecordConnectionsReaped(len(reaped))
		logger.Info("RPC idle sweep closed %d connection(s)", len(reaped))
	}
	return len(reaped)
}
