package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/devorch/pkg/types"
)

// isolate points the user config at an empty directory and moves into a
// scratch working directory.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	l, err := NewLoader("")
	require.NoError(t, err)
	assert.Empty(t, l.File())

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, []string{"filesystem", "terminal", "web"}, serverNames(cfg))
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Startup)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Call)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.ShutdownGrace)
	assert.Equal(t, ":3001", cfg.Serve.Addr)
}

func serverNames(cfg *Config) []string {
	var names []string
	for _, s := range cfg.Servers {
		names = append(names, s.Name)
	}
	return names
}

func TestLoad_ProjectFile(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, ProjectFile), `
servers:
  - name: fs
    command: /usr/local/bin/filesystem-server
    args: ["--root", "/srv/project"]
    env:
      NODE_ENV: test
timeouts:
  call: 1m
log:
  level: debug
`)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, types.ServerDescriptor{
		Name:    "fs",
		Command: "/usr/local/bin/filesystem-server",
		Args:    []string{"--root", "/srv/project"},
		Env:     map[string]string{"NODE_ENV": "test"},
	}, cfg.Servers[0])
	assert.Equal(t, time.Minute, cfg.Timeouts.Call)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Startup, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_UserFile(t *testing.T) {
	isolate(t)
	writeConfig(t, UserConfigPath(), "serve:\n  addr: 127.0.0.1:9000\n")

	l, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, UserConfigPath(), l.File())
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DEVORCH_LOG_LEVEL", "warn")
	t.Setenv("DEVORCH_TIMEOUTS_STARTUP", "3s")
	t.Setenv("DEVORCH_SERVE_ADDR", ":8080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Startup)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(dir, "custom.yaml")
	writeConfig(t, path, "log:\n  format: json\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)

	writeConfig(t, path, "servers: [unclosed\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"defaults are valid": {mutate: func(*Config) {}},
		"empty name": {
			mutate:  func(c *Config) { c.Servers[0].Name = "" },
			wantErr: "name is required",
		},
		"empty command": {
			mutate:  func(c *Config) { c.Servers[1].Command = " " },
			wantErr: "command is required",
		},
		"duplicate": {
			mutate:  func(c *Config) { c.Servers[2].Name = "filesystem" },
			wantErr: `duplicate server name "filesystem"`,
		},
		"zero call timeout": {
			mutate:  func(c *Config) { c.Timeouts.Call = 0 },
			wantErr: "timeouts.call",
		},
		"no servers is fine": {mutate: func(c *Config) { c.Servers = nil }},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, ProjectFile), `
servers:
  - name: a
    command: x
  - name: a
    command: y
`)
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "devorch.yaml")

	require.NoError(t, WriteDefault(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "startup: 10s")
	assert.Contains(t, string(data), "command: filesystem-server")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Error(t, WriteDefault(path), "existing files are not overwritten")
}

func TestWatch(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ProjectFile)
	writeConfig(t, path, "log:\n  level: info\n")

	l, err := NewLoader("")
	require.NoError(t, err)
	_, err = l.Load()
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []*Config
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, zerolog.Nop(), func(c *Config) {
			mu.Lock()
			seen = append(seen, c)
			mu.Unlock()
		})
	}()

	latest := func() *Config {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return nil
		}
		return seen[len(seen)-1]
	}

	// The watcher may not be registered yet; keep rewriting until a change lands.
	require.Eventually(t, func() bool {
		writeConfig(t, path, "log:\n  level: debug\n")
		c := latest()
		return c != nil && c.Log.Level == "debug"
	}, 5*time.Second, 300*time.Millisecond)

	// An invalid edit is skipped; the last good config stands.
	writeConfig(t, path, "servers:\n  - name: \"\"\n    command: x\n")
	time.Sleep(3 * watchDebounce)
	assert.Equal(t, "debug", latest().Log.Level)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_NoFile(t *testing.T) {
	isolate(t)
	l, err := NewLoader("")
	require.NoError(t, err)
	assert.ErrorIs(t, l.Watch(context.Background(), zerolog.Nop(), func(*Config) {}), ErrNoConfigFile)
}
