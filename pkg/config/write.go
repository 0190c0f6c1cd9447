package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultHeader = `# devorch configuration.
# Environment variables prefixed DEVORCH_ override these values,
# e.g. DEVORCH_LOG_LEVEL=debug or DEVORCH_TIMEOUTS_CALL=1m.
`

// WriteDefault writes the built-in configuration as YAML to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	var buf bytes.Buffer
	buf.WriteString(defaultHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
