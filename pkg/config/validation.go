package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	rpcCfg := &cfg.Adapters.RPC

	if !rpcCfg.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if rpcCfg.IdleTimeout > 0 && rpcCfg.ReapInterval > rpcCfg.IdleTimeout {
		return fmt.Errorf("adapters.rpc: reap_interval (%v) must not exceed idle_timeout (%v)",
			rpcCfg.ReapInterval, rpcCfg.IdleTimeout)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == rpcCfg.Port {
		return fmt.Errorf("server.metrics: port %d is already used by adapters.rpc", rpcCfg.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
