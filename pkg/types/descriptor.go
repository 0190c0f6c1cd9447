package types

import (
	"fmt"
	"strings"
)

// ServerDescriptor is the static launch configuration for one tool provider.
// It is treated as immutable once handed to the registry.
type ServerDescriptor struct {
	Name    string            `json:"name" yaml:"name" mapstructure:"name"`
	Command string            `json:"command" yaml:"command" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
}

// Validate reports whether the descriptor can be launched.
func (d ServerDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("server descriptor: name is required")
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("server %q: command is required", d.Name)
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate a descriptor the registry holds.
func (d ServerDescriptor) Clone() ServerDescriptor {
	c := d
	if d.Args != nil {
		c.Args = append([]string(nil), d.Args...)
	}
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	return c
}
