package tools

import (
	"context"
	"fmt"
	"os"
)

// CreateDirectoryTool creates a directory and any missing parents.
type CreateDirectoryTool struct {
	Root string
}

func (c *CreateDirectoryTool) Name() string { return "create_directory" }

func (c *CreateDirectoryTool) Description() string {
	return "Create a directory, including missing parents. Succeeds if it already exists."
}

func (c *CreateDirectoryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path to create",
			},
		},
		"required": []string{"path"},
	}
}

func (c *CreateDirectoryTool) SideEffect() SideEffectType { return SideEffectMutating }

func (c *CreateDirectoryTool) Execute(_ context.Context, input map[string]any) (ToolOutput, error) {
	p, ok := stringArg(input, "path")
	if !ok {
		return errorOutput("path is required"), nil
	}
	if err := os.MkdirAll(resolvePath(c.Root, p), 0o755); err != nil {
		return errorOutput("%s", err), nil
	}
	return ToolOutput{Content: fmt.Sprintf("Directory created: %s", p)}, nil
}
