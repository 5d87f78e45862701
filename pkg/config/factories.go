package config

import (
	"fmt"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/adapter"
	"github.com/marmos91/dittorpc/pkg/adapter/rpc"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/registry"
	"github.com/mitchellh/mapstructure"
)

// CreateHandler creates the connection handler selected by cfg.Type.
//
// The type-specific options map is decoded into the handler's options
// struct, so that unknown keys are reported instead of silently ignored.
//
// Supported types:
//   - "discard": reads and drops every byte
//   - "echo": writes back every byte read
func CreateHandler(cfg *rpc.HandlerConfig) (rpc.Handler, error) {
	switch cfg.Type {
	case rpc.HandlerDiscard, "":
		var opts rpc.DiscardOptions
		if err := decodeOptions(cfg.Discard, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode discard handler config: %w", err)
		}
		return rpc.NewDiscardHandler(opts), nil
	case rpc.HandlerEcho:
		var opts rpc.EchoOptions
		if err := decodeOptions(cfg.Echo, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode echo handler config: %w", err)
		}
		return rpc.NewEchoHandler(opts), nil
	default:
		return nil, fmt.Errorf("unknown handler type: %q", cfg.Type)
	}
}

// decodeOptions decodes a free-form options map into out. Values coming
// from environment variables arrive as strings, hence the weak typing.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// CreateRegistry creates the transport registry shared by all adapters.
//
// The registry allocates its partitions lazily, on first use.
func CreateRegistry(cfg *Config, m metrics.RegistryMetrics) *registry.Registry {
	reg := registry.New(cfg.Registry, m)
	rc := reg.Config()
	logger.Debug("Transport registry: %d partitions, restart budget %d, btree degree %d",
		rc.Partitions, rc.RestartBudget, rc.Degree)
	return reg
}

// CreateAdapters creates all enabled protocol adapters from the configuration
// and attaches them to reg.
//
// Parameters:
//   - cfg: The complete DittoRPC configuration
//   - reg: Registry the adapters register their connections in
//   - adapterMetrics: Optional adapter metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, reg *registry.Registry, adapterMetrics metrics.AdapterMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.RPC.Enabled {
		handler, err := CreateHandler(&cfg.Adapters.RPC.Handler)
		if err != nil {
			return nil, fmt.Errorf("adapters.rpc: %w", err)
		}

		rpcAdapter := rpc.New(cfg.Adapters.RPC, handler, adapterMetrics)
		rpcAdapter.SetRegistry(reg)
		adapters = append(adapters, rpcAdapter)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
