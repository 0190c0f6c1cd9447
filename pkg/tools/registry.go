package tools

import (
	"sort"
)

// Registry holds the tools one provider serves and resolves them by name.
type Registry struct {
	tools    map[string]Tool
	disabled map[string]bool // explicitly disallowed
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDisabled marks tool names as disabled. Disabled tools are neither
// listed nor callable.
func WithDisabled(names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.disabled[n] = true
		}
	}
}

// NewRegistry creates a new tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		disabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools to the registry, replacing any with the same name.
func (r *Registry) Register(tools ...Tool) {
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// Get retrieves an enabled tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r.disabled[name] {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// IsDisabled returns true if the tool is explicitly disallowed.
func (r *Registry) IsDisabled(name string) bool {
	return r.disabled[name]
}

// Names returns all enabled tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if !r.disabled[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Tools returns the enabled tools sorted by name.
func (r *Registry) Tools() []Tool {
	names := r.Names()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// FilesystemTools returns the tools served by the filesystem provider.
// Relative paths resolve against root.
func FilesystemTools(root string) []Tool {
	return []Tool{
		&ReadFileTool{Root: root},
		&WriteFileTool{Root: root},
		&ListDirectoryTool{Root: root},
		&CreateDirectoryTool{Root: root},
	}
}

// TerminalTools returns the tools served by the terminal provider.
func TerminalTools(cwd string) []Tool {
	run := &RunCommandTool{CWD: cwd}
	return []Tool{
		run,
		&InstallDependenciesTool{Runner: run},
	}
}

// WebTools returns the tools served by the web provider.
func WebTools(root string) []Tool {
	return []Tool{
		&WebSearchTool{},
		&FetchPageTool{},
		&DownloadAssetTool{Root: root},
	}
}
