package mcp

// ServerStatus is an external view of a server handle.
type ServerStatus struct {
	Name       string          `json:"name"`
	State      ConnectionState `json:"state"`
	PID        int             `json:"pid,omitempty"`
	ServerInfo *ServerInfo     `json:"serverInfo,omitempty"`
	Error      string          `json:"error,omitempty"`
	Tools      []ToolInfo      `json:"tools,omitempty"`
}

// FailedServer names a server that did not reach Ready and why.
type FailedServer struct {
	Name  string `json:"name"`
	Error error  `json:"-"`
}

// Message returns the failure text, or "" when none was recorded.
func (f FailedServer) Message() string {
	if f.Error == nil {
		return ""
	}
	return f.Error.Error()
}

// StartupResult partitions the servers passed to Initialize.
type StartupResult struct {
	Ready  []string       `json:"ready"`
	Failed []FailedServer `json:"failed"`
}

// ReconcileResult reports what changed after a Reconcile call.
type ReconcileResult struct {
	Added     []string          `json:"added,omitempty"`
	Removed   []string          `json:"removed,omitempty"`
	Restarted []string          `json:"restarted,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
