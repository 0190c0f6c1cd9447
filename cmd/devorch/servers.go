package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jg-phare/devorch/pkg/mcp"
)

var serversJSON bool

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Start every configured provider and report its status",
	Long: `Start all configured tool providers, wait for each to finish its
handshake, print one row per server, and shut them down again.

Exits with status 1 if any server failed to start.`,
	Args: cobra.NoArgs,
	RunE: runServers,
}

func init() {
	serversCmd.Flags().BoolVar(&serversJSON, "json", false, "print status as JSON")
}

func runServers(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reg := e.registry()
	defer reg.Cleanup()

	res, err := reg.Initialize(ctx, e.cfg.Servers)
	if err != nil {
		return err
	}

	statuses := reg.Status()
	if serversJSON {
		if err := writeJSON(cmd.OutOrStdout(), statuses); err != nil {
			return err
		}
	} else {
		printStatusTable(cmd.OutOrStdout(), statuses)
	}

	if n := len(res.Failed); n > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d servers failed to start", n, len(e.cfg.Servers))}
	}
	return nil
}

func stateColor(s mcp.ConnectionState) *color.Color {
	switch s {
	case mcp.StateReady:
		return color.New(color.FgGreen)
	case mcp.StateStarting:
		return color.New(color.FgYellow)
	case mcp.StateFailed:
		return color.New(color.FgRed)
	}
	return color.New(color.FgHiBlack)
}

func printStatusTable(w io.Writer, statuses []mcp.ServerStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tTOOLS\tERROR")
	for _, s := range statuses {
		pid := "-"
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.Name, stateColor(s.State).Sprint(s.State), pid, len(s.Tools), firstLine(s.Error))
	}
	tw.Flush()
}

// firstLine keeps table rows single-line when an error carries a stderr tail.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}

// startServers initializes the configured servers and logs any that failed.
func startServers(ctx context.Context, e *env, reg *mcp.Registry) error {
	res, err := reg.Initialize(ctx, e.cfg.Servers)
	if err != nil {
		return err
	}
	for _, f := range res.Failed {
		e.logger.Warn().Str("server", f.Name).Str("error", f.Message()).Msg("server unavailable")
	}
	return nil
}
