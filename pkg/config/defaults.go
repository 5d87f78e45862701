package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittorpc/pkg/adapter/rpc"
)

// DefaultRPCPort is the port the RPC adapter listens on when none is set.
const DefaultRPCPort = 2049

// DefaultMetricsPort is the port of the metrics endpoint when none is set.
const DefaultMetricsPort = 9090

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	cfg.Registry.ApplyDefaults()
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// A config that never mentions the RPC adapter (port still 0) gets it
	// enabled, so that an empty config passes validation. An explicit
	// "enabled: false" next to a port keeps it disabled.
	if !cfg.RPC.Enabled && cfg.RPC.Port == 0 {
		cfg.RPC.Enabled = true
	}

	applyRPCDefaults(&cfg.RPC)
}

// applyRPCDefaults sets RPC adapter defaults.
func applyRPCDefaults(cfg *rpc.RPCConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultRPCPort
	}

	// MaxConnections defaults to 0 (unlimited)
	// AcceptRate defaults to 0 (unlimited)

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.AcceptRate > 0 && cfg.AcceptBurst == 0 {
		cfg.AcceptBurst = 1
	}

	if cfg.Handler.Type == "" {
		cfg.Handler.Type = rpc.HandlerDiscard
	}
	if cfg.Handler.Discard == nil {
		cfg.Handler.Discard = make(map[string]any)
	}
	if cfg.Handler.Echo == nil {
		cfg.Handler.Echo = make(map[string]any)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			RPC: rpc.RPCConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
