package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

adapters:
  rpc:
    enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.RPC.Port != DefaultRPCPort {
		t.Errorf("Expected default RPC port %d, got %d", DefaultRPCPort, cfg.Adapters.RPC.Port)
	}
	if cfg.Registry.Partitions != 7 {
		t.Errorf("Expected default 7 partitions, got %d", cfg.Registry.Partitions)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit, missing path keeps the user's own config out of the test
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if !cfg.Adapters.RPC.Enabled {
		t.Error("Expected RPC adapter enabled by default")
	}
	if cfg.Adapters.RPC.Handler.Type != "discard" {
		t.Errorf("Expected default handler 'discard', got %q", cfg.Adapters.RPC.Handler.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
adapters:
  rpc:
    enabled: true
    handler:
      type: "teapot"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown handler type")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[registry]
partitions = 13
restart_budget = 2

[adapters.rpc]
enabled = true
port = 12049
idle_timeout = "2m"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Registry.Partitions != 13 || cfg.Registry.RestartBudget != 2 {
		t.Errorf("Expected registry 13/2, got %d/%d", cfg.Registry.Partitions, cfg.Registry.RestartBudget)
	}
	if cfg.Adapters.RPC.Port != 12049 {
		t.Errorf("Expected port 12049, got %d", cfg.Adapters.RPC.Port)
	}
	if cfg.Adapters.RPC.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected idle_timeout 2m, got %v", cfg.Adapters.RPC.IdleTimeout)
	}
}

func TestLoad_HandlerOptions(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
adapters:
  rpc:
    handler:
      type: echo
      echo:
        buffer_size: 4096
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	h, err := CreateHandler(&cfg.Adapters.RPC.Handler)
	if err != nil {
		t.Fatalf("CreateHandler failed: %v", err)
	}
	if h.Name() != "echo" {
		t.Errorf("Expected echo handler, got %q", h.Name())
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Server.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Expected default metrics port %d, got %d", DefaultMetricsPort, cfg.Server.Metrics.Port)
	}
	if !cfg.Adapters.RPC.Enabled {
		t.Error("Expected RPC adapter enabled by default")
	}
	if cfg.Adapters.RPC.Port != DefaultRPCPort {
		t.Errorf("Expected default RPC port %d, got %d", DefaultRPCPort, cfg.Adapters.RPC.Port)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "dittorpc" {
		t.Errorf("Expected directory name 'dittorpc', got %q", filepath.Base(dir))
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if got, want := GetConfigDir(), filepath.Join(xdg, "dittorpc"); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if ConfigExists() {
		t.Error("Expected no config in a fresh XDG directory")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTORPC_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTORPC_ADAPTERS_RPC_PORT", "5049")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

adapters:
  rpc:
    enabled: true
    port: 2049
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.RPC.Port != 5049 {
		t.Errorf("Expected port 5049 from env var, got %d", cfg.Adapters.RPC.Port)
	}
}
