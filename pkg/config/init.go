package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoRPC Configuration File
#
# Every value below is the built-in default. Any of them can be overridden
# with an environment variable: DITTORPC_<SECTION>_<KEY>, for example
# DITTORPC_LOGGING_LEVEL=DEBUG or DITTORPC_ADAPTERS_RPC_PORT=12049.

`

// InitConfig writes a commented default configuration file to the default
// location and returns its path.
//
// Without force, an existing file is left untouched and an error is returned.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration file to path,
// creating parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above every
// key. Durations are written in their string form so the file stays
// readable and loads back through viper.
func generateYAMLWithComments(cfg *Config) (string, error) {
	rpcCfg := cfg.Adapters.RPC

	doc := mapping(
		section("logging", "Logging configuration", mapping(
			field("level", cfg.Logging.Level, "Minimum level: DEBUG, INFO, WARN, ERROR"),
			field("format", cfg.Logging.Format, "Output format: text or json"),
			field("output", cfg.Logging.Output, "Destination: stdout, stderr or a file path"),
		)),
		section("server", "Server-wide settings", mapping(
			field("shutdown_timeout", duration(cfg.Server.ShutdownTimeout), "Maximum time to wait for adapters to stop"),
			section("metrics", "Prometheus endpoint", mapping(
				field("enabled", cfg.Server.Metrics.Enabled, "Expose /metrics over HTTP"),
				field("port", cfg.Server.Metrics.Port, "HTTP port of the metrics endpoint"),
			)),
		)),
		section("registry", "Transport registry layout", mapping(
			field("partitions", cfg.Registry.Partitions, "Number of independently locked partitions"),
			field("restart_budget", cfg.Registry.RestartBudget, "Restarts allowed per partition scan before it is reported incomplete"),
			field("btree_degree", cfg.Registry.Degree, "B-tree degree of each partition index"),
		)),
		section("adapters", "Protocol adapters", mapping(
			section("rpc", "RPC connection dispatcher", mapping(
				field("enabled", rpcCfg.Enabled, "Start the RPC adapter"),
				field("address", rpcCfg.Address, "Interface to bind, empty for all interfaces"),
				field("port", rpcCfg.Port, "TCP port to listen on"),
				field("max_connections", rpcCfg.MaxConnections, "Concurrent connection limit, 0 for unlimited"),
				field("read_timeout", duration(rpcCfg.ReadTimeout), "Deadline for every read from a client"),
				field("write_timeout", duration(rpcCfg.WriteTimeout), "Deadline for every write to a client"),
				field("idle_timeout", duration(rpcCfg.IdleTimeout), "Connections idle this long are closed"),
				field("reap_interval", duration(rpcCfg.ReapInterval), "Period of the idle connection sweep"),
				field("shutdown_timeout", duration(rpcCfg.ShutdownTimeout), "Time to drain connections before force-closing them"),
				field("metrics_log_interval", duration(rpcCfg.MetricsLogInterval), "Period of the connection count log line"),
				field("accept_rate", rpcCfg.AcceptRate, "Connections admitted per second, 0 for unlimited"),
				field("accept_burst", rpcCfg.AcceptBurst, "Connections admitted at once above accept_rate"),
				field("dump_on_shutdown", rpcCfg.DumpOnShutdown, "Log every registered transport when shutdown starts"),
				section("handler", "What is done with the bytes of each connection", mapping(
					field("type", rpcCfg.Handler.Type, "Handler: discard or echo"),
					field("discard", rpcCfg.Handler.Discard, "Discard handler options (buffer_size)"),
					field("echo", rpcCfg.Handler.Echo, "Echo handler options (buffer_size)"),
				)),
			)),
		)),
	)

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// pair is a key node and its value node.
type pair [2]*yaml.Node

func mapping(pairs ...pair) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range pairs {
		n.Content = append(n.Content, p[0], p[1])
	}
	return n
}

func section(key, comment string, value *yaml.Node) pair {
	return pair{
		{Kind: yaml.ScalarNode, Value: key, HeadComment: comment},
		value,
	}
}

func field(key string, value any, comment string) pair {
	var v yaml.Node
	if err := v.Encode(value); err != nil {
		// Only reachable with values yaml cannot represent, which the
		// callers above never pass.
		panic(fmt.Sprintf("config: encoding %s: %v", key, err))
	}
	return pair{
		{Kind: yaml.ScalarNode, Value: key, HeadComment: comment},
		&v,
	}
}

func duration(d time.Duration) string {
	return d.String()
}
