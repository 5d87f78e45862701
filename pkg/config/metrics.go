package config

import (
	"github.com/marmos91/dittorpc/pkg/metrics"
	promMetrics "github.com/marmos91/dittorpc/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// RegistryMetrics is the collector for the transport registry (never nil)
	RegistryMetrics metrics.RegistryMetrics

	// AdapterMetrics is the collector for the RPC adapter (never nil)
	AdapterMetrics metrics.AdapterMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled, it returns a nil server and no-op collectors.
//
// Collectors register on the global Prometheus registry, so this must be
// called at most once per process with metrics enabled.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			RegistryMetrics: metrics.NewNoopRegistryMetrics(),
			AdapterMetrics:  metrics.NewNoopAdapterMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:          server,
		RegistryMetrics: promMetrics.NewRegistryMetrics(),
		AdapterMetrics:  promMetrics.NewAdapterMetrics(),
	}
}
