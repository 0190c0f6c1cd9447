// Package tools implements the operations the filesystem, terminal, and web
// providers expose. Tools report their own failures as ToolOutput with
// IsError set; a returned error is reserved for failures of the tool host.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
)

// SideEffectType classifies a tool's impact on system state.
type SideEffectType int

const (
	SideEffectNone     SideEffectType = iota // read_file, list_directory
	SideEffectMutating                       // write_file, create_directory, run_command
	SideEffectNetwork                        // fetch_page, web_search, download_asset
)

func (s SideEffectType) String() string {
	switch s {
	case SideEffectNone:
		return "none"
	case SideEffectMutating:
		return "mutating"
	case SideEffectNetwork:
		return "network"
	}
	return fmt.Sprintf("SideEffectType(%d)", int(s))
}

// ToolOutput is the result of a tool execution.
type ToolOutput struct {
	Content string // text content for the result
	IsError bool   // when true, content is an error message
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // JSON Schema object for tools/list
	SideEffect() SideEffectType
	Execute(ctx context.Context, input map[string]any) (ToolOutput, error)
}

// errorOutput formats a tool-reported failure the way providers present them.
func errorOutput(format string, args ...any) ToolOutput {
	return ToolOutput{Content: "Error: " + fmt.Sprintf(format, args...), IsError: true}
}

// stringArg returns a required string argument.
func stringArg(input map[string]any, key string) (string, bool) {
	s, ok := input[key].(string)
	return s, ok && s != ""
}

// intArg returns a positive numeric argument. JSON numbers decode as float64.
func intArg(input map[string]any, key string) (int, bool) {
	switch v := input[key].(type) {
	case float64:
		if v > 0 {
			return int(v), true
		}
	case int:
		if v > 0 {
			return v, true
		}
	}
	return 0, false
}

// resolvePath anchors a relative path at root. An empty root leaves it
// relative to the provider's working directory.
func resolvePath(root, p string) string {
	if filepath.IsAbs(p) || root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
