package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/devorch/pkg/mcp"
	"github.com/jg-phare/devorch/pkg/types"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-args]",
	Short: "Invoke one tool on one provider",
	Long: `Start the named provider, invoke a single tool with the given JSON
object as arguments, print the text content of the result, and stop.

Exit status is 1 when the call could not be made (unknown or failed server,
timeout, protocol error) and 2 when the tool ran but reported an error.`,
	Example: `  devorch call filesystem list_directory '{"path": ".", "recursive": true}'
  devorch call terminal run_command '{"command": "go version"}' --timeout 1m`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "call timeout (default from config)")
}

func runCall(cmd *cobra.Command, args []string) error {
	server, tool := args[0], args[1]
	var toolArgs map[string]any
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	e, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reg := e.registry()
	defer reg.Cleanup()

	// Only the target server is started; an unknown name falls through to
	// CallTool, which reports it as not found.
	var descs []types.ServerDescriptor
	for _, d := range e.cfg.Servers {
		if d.Name == server {
			descs = append(descs, d)
		}
	}
	if _, err := reg.Initialize(ctx, descs); err != nil {
		return err
	}

	var opts []mcp.CallOption
	if callTimeout > 0 {
		opts = append(opts, mcp.WithTimeout(callTimeout))
	}
	result, err := reg.CallTool(ctx, server, tool, toolArgs, opts...)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	return printResult(cmd.OutOrStdout(), os.Stderr, result)
}

// printResult writes a result's text to out, or to errOut with exit status
// 2 when the tool reported an error.
func printResult(out, errOut io.Writer, result *mcp.ToolResult) error {
	text := result.Text()
	if result.IsError {
		fmt.Fprintln(errOut, text)
		return &exitError{code: 2, err: fmt.Errorf("tool reported an error")}
	}
	fmt.Fprintln(out, text)
	return nil
}
