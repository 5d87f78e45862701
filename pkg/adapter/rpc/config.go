package rpc

import (
	"fmt"
	"time"
)

// RPCConfig holds configuration parameters for the RPC dispatcher.
//
// Default values (applied by New if zero):
//   - Port: 0 (ephemeral; pkg/config sets 2049 for the server)
//   - MaxConnections: 0 (unlimited)
//   - ReadTimeout: 5m
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - ReapInterval: 30s
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
//   - AcceptRate: 0 (unlimited)
//   - Handler.Type: discard
type RPCConfig struct {
	// Enabled controls whether the RPC adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the interface to bind. Empty means all interfaces.
	Address string `mapstructure:"address" yaml:"address"`

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits concurrent connections. When reached, the
	// accept loop blocks until a connection closes. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// ReadTimeout bounds every read from a client.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0" yaml:"read_timeout"`

	// WriteTimeout bounds every write to a client.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout"`

	// IdleTimeout is how long a connection may go without traffic before
	// the idle sweep closes it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`

	// ReapInterval is the period of the idle sweep.
	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"min=0" yaml:"reap_interval"`

	// ShutdownTimeout is how long shutdown waits for connections to finish
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// MetricsLogInterval is the period of the connection count log line.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`

	// AcceptRate is the sustained number of connections admitted per
	// second. Connections over the limit are closed right after accept.
	// 0 means unlimited.
	AcceptRate float64 `mapstructure:"accept_rate" validate:"min=0" yaml:"accept_rate"`

	// AcceptBurst is the number of connections admitted at once above
	// AcceptRate.
	AcceptBurst int `mapstructure:"accept_burst" validate:"min=0" yaml:"accept_burst"`

	// DumpOnShutdown logs the registry content when shutdown starts.
	DumpOnShutdown bool `mapstructure:"dump_on_shutdown" yaml:"dump_on_shutdown"`

	// Handler selects what is done with the bytes of each connection.
	Handler HandlerConfig `mapstructure:"handler" yaml:"handler"`
}

// HandlerConfig selects a connection handler.
//
// Only the section matching Type is used.
type HandlerConfig struct {
	// Type is the handler implementation: discard or echo.
	Type string `mapstructure:"type" validate:"omitempty,oneof=discard echo" yaml:"type"`

	// Discard holds the discard handler options.
	Discard map[string]any `mapstructure:"discard" yaml:"discard,omitempty"`

	// Echo holds the echo handler options.
	Echo map[string]any `mapstructure:"echo" yaml:"echo,omitempty"`
}

func (c *RPCConfig) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
	if c.Handler.Type == "" {
		c.Handler.Type = HandlerDiscard
	}
}

func (c *RPCConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("invalid read/write timeout %v/%v: must be >= 0", c.ReadTimeout, c.WriteTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be > 0", c.IdleTimeout)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("invalid ReapInterval %v: must be > 0", c.ReapInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return fmt.Errorf("invalid accept rate %v burst %d: must be >= 0", c.AcceptRate, c.AcceptBurst)
	}
	return nil
}
