package providercmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/devorch/pkg/tools"
)

var fsSpec = Spec{
	Name:    "filesystem-server",
	DirFlag: "root",
	Tools:   tools.FilesystemTools,
}

func execute(t *testing.T, s Spec, input string, args ...string) ([]map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := Command(s, strings.NewReader(input), &out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()

	var frames []map[string]any
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		frames = append(frames, m)
	}
	return frames, err
}

func TestServesToolsOverStdio(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o644))

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":"1","method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"t","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":"2","method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":"3","method":"tools/call","params":{"name":"read_file","arguments":{"path":"hello.txt"}}}`,
	}, "\n") + "\n"

	frames, err := execute(t, fsSpec, input, "--root", root, "--disable", "write_file", "--log-level", "error")
	require.NoError(t, err)
	require.Len(t, frames, 3)

	byID := map[string]map[string]any{}
	for _, f := range frames {
		byID[f["id"].(string)] = f["result"].(map[string]any)
	}

	info := byID["1"]["serverInfo"].(map[string]any)
	assert.Equal(t, "filesystem-server", info["name"])
	assert.Equal(t, Version, info["version"])

	var names []string
	for _, tool := range byID["2"]["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"read_file", "list_directory", "create_directory"}, names)

	content := byID["3"]["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "hi", content[0].(map[string]any)["text"])
}

func TestRejectsMissingDirectory(t *testing.T) {
	_, err := execute(t, fsSpec, "", "--root", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestRejectsFileAsDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := execute(t, fsSpec, "", "--root", file)
	require.ErrorContains(t, err, "not a directory")
}

func TestEnvironmentOverridesFlagDefaults(t *testing.T) {
	t.Setenv("DEVORCH_LOG_LEVEL", "loud")
	_, err := execute(t, fsSpec, "", "--root", t.TempDir())
	require.Error(t, err)
}

func TestEOFExitsCleanly(t *testing.T) {
	frames, err := execute(t, Spec{Name: "terminal-server", DirFlag: "cwd", Tools: tools.TerminalTools}, "", "--cwd", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, frames)
}
