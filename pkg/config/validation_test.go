package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidRPCPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.RPC.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port > 65535")
	}
	if !strings.Contains(err.Error(), "Port") {
		t.Errorf("Expected error to name the port field, got: %v", err)
	}
}

func TestValidate_NegativeMaxConnections(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.RPC.MaxConnections = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative max_connections")
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.RPC.ReadTimeout = -time.Second

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative read_timeout")
	}
}

func TestValidate_InvalidShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for zero shutdown timeout")
	}
	if !strings.Contains(err.Error(), "ShutdownTimeout") {
		t.Errorf("Expected error to name ShutdownTimeout, got: %v", err)
	}
}

func TestValidate_UnknownHandler(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.RPC.Handler.Type = "teapot"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown handler type")
	}
}

func TestValidate_RegistryDegree(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Registry.Degree = 1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for btree degree below 2")
	}
}

func TestValidate_NegativeRestartBudget(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Registry.RestartBudget = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative restart budget")
	}
}

func TestValidate_NoAdaptersEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.RPC.Enabled = false

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no adapters are enabled")
	}
	if !strings.Contains(err.Error(), "at least one adapter") {
		t.Errorf("Expected 'at least one adapter' error, got: %v", err)
	}
}

func TestValidate_ReapIntervalExceedsIdleTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.RPC.IdleTimeout = time.Second
	cfg.Adapters.RPC.ReapInterval = time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for reap_interval > idle_timeout")
	}
	if !strings.Contains(err.Error(), "reap_interval") {
		t.Errorf("Expected reap_interval error, got: %v", err)
	}
}

func TestValidate_MetricsPortConflict(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Adapters.RPC.Port

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for metrics port clashing with the RPC port")
	}

	cfg.Server.Metrics.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("Disabled metrics should not conflict, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"} {
		t.Run(level, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Logging.Level = level

			if err := Validate(cfg); err != nil {
				t.Errorf("Expected level %q to validate, got: %v", level, err)
			}
		})
	}
}
