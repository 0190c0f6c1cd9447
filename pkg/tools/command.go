package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	commandDefaultTimeout = 30 * time.Second
	commandMaxTimeout     = 600 * time.Second
	installTimeout        = 60 * time.Second
	commandMaxOutput      = 30000 // characters per stream
)

// CommandResult is the JSON payload run_command returns. A non-zero exit
// code is reported here, not as a tool error.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// RunCommandTool executes shell commands.
type RunCommandTool struct {
	CWD   string // working directory when the call gives none
	Shell string // defaults to "sh"
}

func (r *RunCommandTool) Name() string { return "run_command" }

func (r *RunCommandTool) Description() string {
	return "Execute a shell command. Returns JSON with stdout, stderr, and exitCode."
}

func (r *RunCommandTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Command to execute",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in milliseconds (default 30000, max 600000)",
			},
		},
		"required": []string{"command"},
	}
}

func (r *RunCommandTool) SideEffect() SideEffectType { return SideEffectMutating }

func (r *RunCommandTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	command, ok := stringArg(input, "command")
	if !ok {
		return errorOutput("command is required"), nil
	}

	timeout := commandDefaultTimeout
	if ms, ok := intArg(input, "timeout"); ok {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > commandMaxTimeout {
			timeout = commandMaxTimeout
		}
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	res, err := runProcess(ctx, r.dir(input), timeout, shell, "-c", command)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	return commandOutput(res)
}

func (r *RunCommandTool) dir(input map[string]any) string {
	if cwd, ok := stringArg(input, "cwd"); ok {
		return resolvePath(r.CWD, cwd)
	}
	return r.CWD
}

// InstallDependenciesTool runs npm install in a project directory.
type InstallDependenciesTool struct {
	Runner *RunCommandTool
	// Command overrides the installer executable; defaults to "npm".
	Command string
}

func (i *InstallDependenciesTool) Name() string { return "install_dependencies" }

func (i *InstallDependenciesTool) Description() string {
	return "Install project dependencies with npm, or a single package when package is given."
}

func (i *InstallDependenciesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cwd": map[string]any{
				"type":        "string",
				"description": "Project directory",
			},
			"package": map[string]any{
				"type":        "string",
				"description": "Package to install",
			},
		},
		"required": []string{"cwd"},
	}
}

func (i *InstallDependenciesTool) SideEffect() SideEffectType { return SideEffectMutating }

func (i *InstallDependenciesTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	installer := i.Command
	if installer == "" {
		installer = "npm"
	}
	args := []string{"install"}
	if pkg, ok := stringArg(input, "package"); ok {
		if strings.HasPrefix(pkg, "-") {
			return errorOutput("invalid package name %q", pkg), nil
		}
		args = append(args, pkg)
	}

	runner := i.Runner
	if runner == nil {
		runner = &RunCommandTool{}
	}
	res, err := runProcess(ctx, runner.dir(input), installTimeout, installer, args...)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if res.ExitCode != 0 {
		return errorOutput("%s %s exited with code %d: %s", installer, strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr)), nil
	}
	return ToolOutput{Content: "Dependencies installed: " + res.Stdout}, nil
}

// runProcess runs name with args and captures both streams. Errors cover
// failures to run at all; a non-zero exit is part of the result.
func runProcess(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return CommandResult{}, fmt.Errorf("command timed out after %dms", timeout.Milliseconds())
	case ctxErr != nil:
		return CommandResult{}, ctxErr
	}
	res := CommandResult{
		Stdout: truncateOutput(stdout.String()),
		Stderr: truncateOutput(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return CommandResult{}, err
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

func commandOutput(res CommandResult) (ToolOutput, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return ToolOutput{}, err
	}
	return ToolOutput{Content: string(data)}, nil
}

func truncateOutput(s string) string {
	if len(s) <= commandMaxOutput {
		return s
	}
	return s[:commandMaxOutput] + fmt.Sprintf("\n... (truncated, %d total characters)", len(s))
}
