package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

const listMaxEntries = 20000

// DefaultExcludes are skipped by list_directory unless the caller passes its
// own exclude list.
var DefaultExcludes = []string{"**/node_modules", "**/.git"}

// ListDirectoryTool lists a directory, optionally recursively. The result is
// a JSON array of paths joined onto the requested directory.
type ListDirectoryTool struct {
	Root string
}

func (l *ListDirectoryTool) Name() string { return "list_directory" }

func (l *ListDirectoryTool) Description() string {
	return "List contents of a directory. Returns a JSON array of paths. Excluded glob patterns are matched against paths relative to the listed directory."
}

func (l *ListDirectoryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path",
			},
			"recursive": map[string]any{
				"type":        "boolean",
				"description": "List recursively",
			},
			"exclude": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Glob patterns to skip (default: **/node_modules, **/.git)",
			},
		},
		"required": []string{"path"},
	}
}

func (l *ListDirectoryTool) SideEffect() SideEffectType { return SideEffectNone }

var errListLimit = errors.New("listing limit reached")

func (l *ListDirectoryTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	p, ok := stringArg(input, "path")
	if !ok {
		return errorOutput("path is required"), nil
	}
	recursive, _ := input["recursive"].(bool)

	excludes := DefaultExcludes
	switch raw := input["exclude"].(type) {
	case []any:
		excludes = make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return errorOutput("invalid exclude pattern %v", v), nil
			}
			excludes = append(excludes, s)
		}
	case []string:
		excludes = raw
	}
	for _, pat := range excludes {
		if !doublestar.ValidatePattern(pat) {
			return errorOutput("invalid exclude pattern %q", pat), nil
		}
	}

	dir := resolvePath(l.Root, p)
	info, err := os.Stat(dir)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if !info.IsDir() {
		return errorOutput("%s is not a directory", p), nil
	}

	entries := []string{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(dir, path)
		if excluded(excludes, filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= listMaxEntries {
			return errListLimit
		}
		entries = append(entries, filepath.Join(p, rel))
		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && !errors.Is(err, errListLimit) {
		return errorOutput("%s", err), nil
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ToolOutput{}, err
	}
	return ToolOutput{Content: string(data)}, nil
}

func excluded(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
