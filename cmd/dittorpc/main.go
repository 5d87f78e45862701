package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/server"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

const usage = `Usage: dittorpc [flags] [init]

Commands:
  init    Write a default configuration file and exit

Flags:
`

func main() {
	flags := pflag.NewFlagSet("dittorpc", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Path to config file (default $XDG_CONFIG_HOME/dittorpc/config.yaml)")
	logLevel := flags.String("log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
	force := flags.Bool("force", false, "With init, overwrite an existing config file")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	switch flags.Arg(0) {
	case "":
	case "init":
		if err := runInit(*configPath, *force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	default:
		flags.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *logLevel); err != nil {
		logger.Error("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// runInit writes the default configuration file.
func runInit(configPath string, force bool) error {
	if configPath != "" {
		if err := config.InitConfigToPath(configPath, force); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", configPath)
		return nil
	}

	path, err := config.InitConfig(force)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(logLevel)
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	reg := config.CreateRegistry(cfg, metricsResult.RegistryMetrics)

	adapters, err := config.CreateAdapters(cfg, reg, metricsResult.AdapterMetrics)
	if err != nil {
		return err
	}

	srv := server.New(reg, cfg.Server.ShutdownTimeout)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	metricsDone := make(chan error, 1)
	if metricsResult.Server != nil {
		go func() { metricsDone <- metricsResult.Server.Start(ctx) }()
	} else {
		close(metricsDone)
	}

	stopDump := watchDumpSignal(reg)
	defer stopDump()

	logger.Info("DittoRPC is running. Press Ctrl+C to stop.")

	serveErr := srv.Serve(ctx)

	// The server may also return on an adapter failure, with ctx still live.
	stop()
	if metricsResult.Server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsResult.Server.Stop(stopCtx)
		cancel()
	}
	if err := <-metricsDone; err != nil {
		logger.Warn("Metrics server: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("server error: %w", serveErr)
	}
	// Cancellation is the normal way out. Stop errors may ride along with it.
	for _, err := range multierr.Errors(serveErr) {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("Shutdown: %v", err)
		}
	}

	logger.Info("DittoRPC stopped")
	return nil
}
