// Package config loads devorch configuration from YAML, environment
// variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jg-phare/devorch/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. DEVORCH_LOG_LEVEL.
const EnvPrefix = "DEVORCH"

// ProjectFile is looked up in the working directory before the user config.
const ProjectFile = "devorch.yaml"

// Config holds all configuration for devorch.
type Config struct {
	Servers  []types.ServerDescriptor `mapstructure:"servers" yaml:"servers"`
	Timeouts TimeoutsConfig           `mapstructure:"timeouts" yaml:"timeouts"`
	Log      LogConfig                `mapstructure:"log" yaml:"log"`
	Serve    ServeConfig              `mapstructure:"serve" yaml:"serve"`
}

// TimeoutsConfig holds registry timeouts.
type TimeoutsConfig struct {
	Startup       time.Duration `mapstructure:"startup"`
	Call          time.Duration `mapstructure:"call"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// MarshalYAML writes durations in their human form ("10s") rather than
// as nanosecond counts.
func (t TimeoutsConfig) MarshalYAML() (any, error) {
	return struct {
		Startup       string `yaml:"startup"`
		Call          string `yaml:"call"`
		ShutdownGrace string `yaml:"shutdown_grace"`
	}{t.Startup.String(), t.Call.String(), t.ShutdownGrace.String()}, nil
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServeConfig holds settings for `devorch serve`.
type ServeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultServers launches the three bundled providers from PATH.
func DefaultServers() []types.ServerDescriptor {
	return []types.ServerDescriptor{
		{Name: "filesystem", Command: "filesystem-server"},
		{Name: "terminal", Command: "terminal-server"},
		{Name: "web", Command: "web-server"},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Servers: DefaultServers(),
		Timeouts: TimeoutsConfig{
			Startup:       10 * time.Second,
			Call:          30 * time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		Log:   LogConfig{Level: "info", Format: "console"},
		Serve: ServeConfig{Addr: ":3001"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("servers", d.Servers)
	v.SetDefault("timeouts.startup", d.Timeouts.Startup)
	v.SetDefault("timeouts.call", d.Timeouts.Call)
	v.SetDefault("timeouts.shutdown_grace", d.Timeouts.ShutdownGrace)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("serve.addr", d.Serve.Addr)
}

// Validate rejects configurations the registry could not start.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("servers[%d]: %w", i, err))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate server name %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	if c.Timeouts.Startup <= 0 {
		errs = append(errs, errors.New("timeouts.startup must be positive"))
	}
	if c.Timeouts.Call <= 0 {
		errs = append(errs, errors.New("timeouts.call must be positive"))
	}
	if c.Timeouts.ShutdownGrace < 0 {
		errs = append(errs, errors.New("timeouts.shutdown_grace must not be negative"))
	}
	return errors.Join(errs...)
}

// Loader reads one configuration source. It is not safe for concurrent use.
type Loader struct {
	v    *viper.Viper
	file string
}

// NewLoader prepares a loader for path. An empty path searches for
// devorch.yaml in the working directory, then the user config file; finding
// neither leaves only defaults and environment overrides.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, file: path}, nil
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string { return l.file }

// Load reads the config file (if any) and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{}
	if l.file != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", l.file, err)
		}
	}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if l.file != "" {
		servers, err := readServers(l.file)
		if err != nil {
			return nil, err
		}
		if servers != nil {
			cfg.Servers = *servers
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// readServers decodes the servers list straight from YAML. Viper folds
// keys to lower case, which would corrupt descriptor env var names.
func readServers(path string) (*[]types.ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	var doc struct {
		Servers *[]types.ServerDescriptor `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing servers in %s: %w", path, err)
	}
	return doc.Servers, nil
}

// Load is shorthand for NewLoader(path) followed by Load.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// UserConfigPath returns the XDG location of the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devorch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "devorch")
	}
	return filepath.Join(home, ".config", "devorch")
}

func findConfigFile() string {
	for _, candidate := range []string{ProjectFile, UserConfigPath()} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
