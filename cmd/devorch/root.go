package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jg-phare/devorch/pkg/config"
	"github.com/jg-phare/devorch/pkg/logging"
	"github.com/jg-phare/devorch/pkg/mcp"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "devorch",
	Short: "Tool-provider orchestrator",
	Long: `devorch launches tool providers (filesystem, terminal, web) as child
processes, talks to them over newline-delimited JSON on stdio, and exposes
their tools to the command line and to an HTTP API.

Configuration is read from --config, ./devorch.yaml, or
$XDG_CONFIG_HOME/devorch/config.yaml, with DEVORCH_* environment overrides.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./devorch.yaml or the user config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json (overrides config)")

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// env is what every subcommand needs: the loaded config, the loader it came
// from (for watching), and a logger.
type env struct {
	cfg    *config.Config
	loader *config.Loader
	logger zerolog.Logger
}

func setup() (*env, error) {
	loader, err := config.NewLoader(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: os.Stderr})
	if err != nil {
		return nil, err
	}
	if f := loader.File(); f != "" {
		logger.Debug().Str("file", f).Msg("loaded config")
	}
	return &env{cfg: cfg, loader: loader, logger: logger}, nil
}

func (e *env) registry() *mcp.Registry {
	return mcp.NewRegistry(registryOptions(e.cfg), e.logger)
}

func registryOptions(cfg *config.Config) mcp.Options {
	return mcp.Options{
		StartupTimeout: cfg.Timeouts.Startup,
		CallTimeout:    cfg.Timeouts.Call,
		ShutdownGrace:  cfg.Timeouts.ShutdownGrace,
		ClientInfo:     mcp.ServerInfo{Name: "devorch", Version: version},
	}
}

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
