package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// useTempHome points the default config location at a fresh directory.
func useTempHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	tmpDir := useTempHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	if want := filepath.Join(tmpDir, ".config", "dittorpc", "config.yaml"); configPath != want {
		t.Errorf("Expected config at %s, got %s", want, configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	for _, section := range []string{
		"# DittoRPC Configuration File",
		"logging:",
		"server:",
		"registry:",
		"adapters:",
		"rpc:",
	} {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useTempHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	useTempHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("# Modified"), 0644); err != nil {
		t.Fatalf("Failed to modify config: %v", err)
	}

	newPath, err := InitConfig(true)
	if err != nil {
		t.Fatalf("Force InitConfig failed: %v", err)
	}
	if newPath != configPath {
		t.Errorf("Expected same path, got different: %s vs %s", configPath, newPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(content), "# DittoRPC Configuration File") {
		t.Error("Config file was not properly overwritten")
	}
}

func TestInitConfigToPath_CreatesDirectories(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "custom", "dittorpc.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created at %s: %v", configPath, err)
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatalf("Failed to create existing file: %v", err)
	}

	err := InitConfigToPath(configPath, false)
	if err == nil {
		t.Fatal("Expected error when file already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}

	content, _ := os.ReadFile(configPath)
	if string(content) != "existing" {
		t.Error("Existing file was modified without force")
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	out, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{
		"# Logging configuration",
		"# Transport registry layout",
		"level: INFO",
		"port: 2049",
		"partitions: 7",
		"restart_budget: 5",
		"idle_timeout: 5m0s",
		"type: discard",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Generated YAML missing %q", want)
		}
	}
}

func TestGeneratedConfigDecodesWithYAML(t *testing.T) {
	out, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	if cfg.Adapters.RPC.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected shutdown_timeout 30s, got %v", cfg.Adapters.RPC.ShutdownTimeout)
	}
	if cfg.Registry.Degree != 16 {
		t.Errorf("Expected btree_degree 16, got %d", cfg.Registry.Degree)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	useTempHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected INFO log level in generated config, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.RPC.Port != DefaultRPCPort {
		t.Errorf("Expected port %d in generated config, got %d", DefaultRPCPort, cfg.Adapters.RPC.Port)
	}
	if cfg.Adapters.RPC.ReapInterval != 30*time.Second {
		t.Errorf("Expected reap_interval 30s in generated config, got %v", cfg.Adapters.RPC.ReapInterval)
	}
	if cfg.Registry.Partitions != 7 {
		t.Errorf("Expected 7 partitions in generated config, got %d", cfg.Registry.Partitions)
	}
}
