package main

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jg-phare/devorch/pkg/projectctx"
)

var contextCmd = &cobra.Command{
	Use:   "context [path]",
	Short: "Print a project context snapshot as JSON",
	Long: `Start the providers, collect the file structure, package manifest and
version-control status of a project directory, and print the snapshot.

The manifest and version-control status are optional: when they cannot be
read the snapshot carries an empty manifest or "no repository detected".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runContext,
}

func runContext(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	e, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reg := e.registry()
	defer reg.Cleanup()
	if err := startServers(ctx, e, reg); err != nil {
		return err
	}

	snap, err := projectctx.New(reg, projectctx.Options{}, e.logger).GetProjectContext(ctx, abs)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), snap)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
