package projectctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/devorch/pkg/mcp"
)

type callKey struct{ server, tool string }

type cannedCall struct {
	result *mcp.ToolResult
	err    error
	delay  time.Duration
}

// fakeCaller answers CallTool from a fixed table and records what it saw.
type fakeCaller struct {
	mu    sync.Mutex
	calls map[callKey]cannedCall
	seen  map[callKey]map[string]any
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{calls: make(map[callKey]cannedCall), seen: make(map[callKey]map[string]any)}
}

func (f *fakeCaller) on(server, tool string, c cannedCall) *fakeCaller {
	f.calls[callKey{server, tool}] = c
	return f
}

func (f *fakeCaller) CallTool(ctx context.Context, server, tool string, args map[string]any, _ ...mcp.CallOption) (*mcp.ToolResult, error) {
	k := callKey{server, tool}
	f.mu.Lock()
	f.seen[k] = args
	c, ok := f.calls[k]
	f.mu.Unlock()
	if !ok {
		return nil, &mcp.ServerError{Server: server, Err: mcp.ErrServerNotFound}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.result, c.err
}

func text(s string) *mcp.ToolResult {
	return &mcp.ToolResult{Content: []mcp.ContentBlock{mcp.TextBlock(s)}}
}

func toolError(s string) *mcp.ToolResult {
	return &mcp.ToolResult{Content: []mcp.ContentBlock{mcp.TextBlock(s)}, IsError: true}
}

func healthyCaller() *fakeCaller {
	return newFakeCaller().
		on("filesystem", "list_directory", cannedCall{result: text(`["package.json","src","src/index.ts"]`)}).
		on("filesystem", "read_file", cannedCall{result: text(`{"name":"demo","version":"1.0.0"}`)}).
		on("terminal", "run_command", cannedCall{result: text(`{"stdout":" M src/index.ts\n","stderr":"","exitCode":0}`)})
}

func newTestAggregator(c ToolCaller) *Aggregator {
	a := New(c, Options{}, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a
}

func TestGetProjectContext_AllCallsSucceed(t *testing.T) {
	caller := healthyCaller()
	snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
	require.NoError(t, err)

	assert.Equal(t, "/proj", snap.Path)
	assert.Equal(t, []string{"package.json", "src", "src/index.ts"}, snap.FileStructure)
	assert.Equal(t, "demo", snap.PackageManifest["name"])
	assert.Equal(t, " M src/index.ts\n", snap.VersionControlStatus)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), snap.Timestamp)

	assert.Equal(t, map[string]any{"path": "/proj", "recursive": true}, caller.seen[callKey{"filesystem", "list_directory"}])
	assert.Equal(t, map[string]any{"path": "/proj/package.json"}, caller.seen[callKey{"filesystem", "read_file"}])
	assert.Equal(t, map[string]any{"command": "git status --porcelain", "cwd": "/proj"}, caller.seen[callKey{"terminal", "run_command"}])
}

func TestGetProjectContext_ManifestFallback(t *testing.T) {
	tests := map[string]cannedCall{
		"missing file":     {result: toolError("Error: ENOENT: no such file")},
		"invalid json":     {result: text(`{"name":`)},
		"not an object":    {result: text(`["a"]`)},
		"transport failed": {err: &mcp.ToolInvocationError{Server: "filesystem", Tool: "read_file", Err: mcp.ErrTimeout}},
	}
	for name, manifest := range tests {
		t.Run(name, func(t *testing.T) {
			caller := healthyCaller().on("filesystem", "read_file", manifest)
			snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
			require.NoError(t, err)
			require.NotNil(t, snap.PackageManifest)
			assert.Empty(t, snap.PackageManifest)
			assert.Len(t, snap.FileStructure, 3)
		})
	}
}

func TestGetProjectContext_VersionControlFallback(t *testing.T) {
	tests := map[string]cannedCall{
		"not a repository": {result: text(`{"stdout":"","stderr":"fatal: not a git repository","exitCode":128}`)},
		"domain error":     {result: toolError("Error: spawn git ENOENT")},
		"server missing":   {err: &mcp.ServerError{Server: "terminal", Err: mcp.ErrServerNotConnected}},
		"garbled output":   {result: text("not json")},
	}
	for name, status := range tests {
		t.Run(name, func(t *testing.T) {
			caller := healthyCaller().on("terminal", "run_command", status)
			snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
			require.NoError(t, err)
			assert.Equal(t, NoRepository, snap.VersionControlStatus)
			assert.Equal(t, "demo", snap.PackageManifest["name"])
		})
	}
}

func TestGetProjectContext_CleanRepositoryIsNotSentinel(t *testing.T) {
	caller := healthyCaller().on("terminal", "run_command", cannedCall{result: text(`{"stdout":"","stderr":"","exitCode":0}`)})
	snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
	require.NoError(t, err)
	assert.Equal(t, "", snap.VersionControlStatus)
}

func TestGetProjectContext_ListingFailureAborts(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		cause := &mcp.ToolInvocationError{Server: "filesystem", Tool: "list_directory", Err: mcp.ErrChannelClosed}
		caller := healthyCaller().on("filesystem", "list_directory", cannedCall{err: cause})
		snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
		require.Error(t, err)
		assert.Nil(t, snap)
		assert.True(t, errors.Is(err, mcp.ErrChannelClosed))
	})

	t.Run("domain", func(t *testing.T) {
		caller := healthyCaller().on("filesystem", "list_directory", cannedCall{result: toolError("Error: EACCES")})
		snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
		require.Error(t, err)
		assert.Nil(t, snap)
		assert.True(t, IsDomainError(err))
		assert.Contains(t, err.Error(), "EACCES")
	})

	t.Run("server not configured", func(t *testing.T) {
		caller := newFakeCaller()
		_, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
		assert.True(t, errors.Is(err, mcp.ErrServerNotFound))
	})
}

func TestGetProjectContext_CallsRunConcurrently(t *testing.T) {
	delay := 200 * time.Millisecond
	caller := newFakeCaller().
		on("filesystem", "list_directory", cannedCall{result: text(`[]`), delay: delay}).
		on("filesystem", "read_file", cannedCall{result: text(`{}`), delay: delay}).
		on("terminal", "run_command", cannedCall{result: text(`{"stdout":"","exitCode":0}`), delay: delay})

	start := time.Now()
	snap, err := newTestAggregator(caller).GetProjectContext(context.Background(), "/proj")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*delay)
	assert.Equal(t, []string{}, snap.FileStructure)
}

func TestGetProjectContext_CustomOptions(t *testing.T) {
	caller := newFakeCaller().
		on("fs", "list_directory", cannedCall{result: text(`["go.mod"]`)}).
		on("fs", "read_file", cannedCall{result: text(`{"module":"x"}`)}).
		on("sh", "run_command", cannedCall{result: text(`{"stdout":"clean","exitCode":0}`)})

	a := New(caller, Options{FilesystemServer: "fs", TerminalServer: "sh", ManifestName: "manifest.json", StatusCommand: "hg status"}, zerolog.Nop())
	snap, err := a.GetProjectContext(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Equal(t, "clean", snap.VersionControlStatus)
	assert.Equal(t, map[string]any{"path": "/repo/manifest.json"}, caller.seen[callKey{"fs", "read_file"}])
	assert.Equal(t, "hg status", caller.seen[callKey{"sh", "run_command"}]["command"])
}

func TestParseListing(t *testing.T) {
	assert.Equal(t, []string{"a", "b/c"}, parseListing(`["a","b/c"]`))
	assert.Equal(t, []string{"a", "b"}, parseListing("a\n\n b \n"))
	assert.Equal(t, []string{}, parseListing(""))
	assert.Equal(t, []string{}, parseListing("null"))
}
