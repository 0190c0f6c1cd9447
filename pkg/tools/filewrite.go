package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	writeLockTimeout = 5 * time.Second
	writeLockRetry   = 50 * time.Millisecond
)

// WriteFileTool creates or overwrites files. Writers to the same path are
// serialized across processes with an advisory lock kept outside the
// project tree.
type WriteFileTool struct {
	Root    string
	LockDir string // defaults to os.TempDir()
}

func (f *WriteFileTool) Name() string { return "write_file" }

func (f *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed. Overwrites any existing file."
}

func (f *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (f *WriteFileTool) SideEffect() SideEffectType { return SideEffectMutating }

func (f *WriteFileTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	p, ok := stringArg(input, "path")
	if !ok {
		return errorOutput("path is required"), nil
	}
	content, ok := input["content"].(string)
	if !ok {
		return errorOutput("content is required"), nil
	}
	path := resolvePath(f.Root, p)

	unlock, err := f.lock(ctx, path)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorOutput("creating directories: %s", err), nil
	}

	// Write to a sibling temp file and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errorOutput("writing file: %s", err), nil
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errorOutput("writing file: %s", err), nil
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return errorOutput("%s", err), nil
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errorOutput("%s", err), nil
	}

	return ToolOutput{Content: fmt.Sprintf("File written: %s", p)}, nil
}

func (f *WriteFileTool) lock(ctx context.Context, path string) (func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := f.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	sum := sha256.Sum256([]byte(abs))
	fl := flock.New(filepath.Join(dir, "devorch-"+hex.EncodeToString(sum[:8])+".lock"))

	ctx, cancel := context.WithTimeout(ctx, writeLockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, writeLockRetry)
	if err != nil || !locked {
		return nil, fmt.Errorf("another writer holds %s", path)
	}
	return func() { _ = fl.Unlock() }, nil
}
