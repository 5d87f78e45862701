//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/registry"
)

// watchDumpSignal logs the registry content on every SIGUSR1 until the
// returned function is called.
func watchDumpSignal(reg *registry.Registry) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				logger.Info("Registry holds %d transport(s)", reg.Len())
				reg.Dump("SIGUSR1")
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
