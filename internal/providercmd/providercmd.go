// Package providercmd is the shared entry point of the bundled tool-provider
// executables. Each provider is a cobra command that serves a fixed tool set
// over stdin/stdout and logs to stderr.
package providercmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jg-phare/devorch/pkg/config"
	"github.com/jg-phare/devorch/pkg/logging"
	"github.com/jg-phare/devorch/pkg/mcp"
	"github.com/jg-phare/devorch/pkg/provider"
	"github.com/jg-phare/devorch/pkg/tools"
)

// Version is reported in the initialize handshake.
var Version = "0.1.0"

var envReplacer = strings.NewReplacer("-", "_")

// Spec describes one provider executable.
type Spec struct {
	Name  string // e.g. "filesystem-server"
	Short string
	// DirFlag names the directory flag ("root" or "cwd") that relative
	// paths resolve against. It defaults to the working directory.
	DirFlag  string
	DirUsage string
	Tools    func(dir string) []tools.Tool
}

// Command builds the cobra command for s. Flags may also be set through
// DEVORCH_<FLAG> environment variables, e.g. DEVORCH_LOG_LEVEL=debug.
func Command(s Spec, stdin io.Reader, stdout io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           s.Name,
		Short:         s.Short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{
				Level:  v.GetString("log-level"),
				Format: v.GetString("log-format"),
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			dir, err := filepath.Abs(v.GetString(s.DirFlag))
			if err != nil {
				return err
			}
			if fi, err := os.Stat(dir); err != nil {
				return err
			} else if !fi.IsDir() {
				return fmt.Errorf("%s: not a directory", dir)
			}

			reg := tools.NewRegistry(tools.WithDisabled(v.GetStringSlice("disable")...))
			reg.Register(s.Tools(dir)...)

			logger.Info().Str(s.DirFlag, dir).Strs("tools", reg.Names()).Msg("provider starting")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := provider.New(mcp.ServerInfo{Name: s.Name, Version: Version}, reg, logger)
			err = srv.Serve(ctx, stdin, stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	f := cmd.Flags()
	f.String(s.DirFlag, ".", s.DirUsage)
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", logging.FormatConsole, "log format: console or json")
	f.StringSlice("disable", nil, "tool names to hide from tools/list and refuse in tools/call")
	v.BindPFlags(f)
	return cmd
}

// Main runs s against the process's stdio and exits.
func Main(s Spec) {
	cmd := Command(s, os.Stdin, os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", s.Name, err)
		os.Exit(1)
	}
}
