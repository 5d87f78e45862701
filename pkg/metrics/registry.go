// Package metrics provides Prometheus metrics collection for DittoRPC
// components.
//
// All metrics are optional - if the global registry is not initialized,
// components fall back to no-op implementations. This lets DittoRPC run
// with or without metrics collection.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	registryMetrics := prometheus.NewRegistryMetrics()
//	adapterMetrics := prometheus.NewAdapterMetrics()
//
//	// Or use nil for no-op behavior
//	reg := registry.New(cfg, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry, written once by InitRegistry
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry and registers the
// Go runtime and process collectors on it.
//
// It must be called before creating any metrics instances. Subsequent calls
// are ignored.
//
// Thread safety:
// sync.Once provides the memory barrier that makes the registry visible to
// every later GetRegistry call.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true once InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
