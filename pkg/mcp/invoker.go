package mcp

import (
	"context"
	"fmt"
	"time"
)

// CallOption adjusts a single CallTool invocation.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the registry's default call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// CallTool invokes a tool on a named server and returns its result.
//
// Lookup failures return a *ServerError wrapping ErrServerNotFound or
// ErrServerNotConnected. Transport failures (timeout, closed channel, an
// error response, a malformed result) return a *ToolInvocationError. A result
// with IsError set is a successful call and is returned as-is.
func (r *Registry) CallTool(ctx context.Context, server, tool string, args map[string]any, opts ...CallOption) (*ToolResult, error) {
	o := callOptions{timeout: r.opts.CallTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.RLock()
	_, known := r.configured[server]
	h := r.handles[server]
	shutting := r.shuttingDown
	r.mu.RUnlock()

	switch {
	case !known:
		return nil, &ServerError{Server: server, Err: ErrServerNotFound}
	case shutting:
		return nil, &ServerError{Server: server, Err: ErrServerNotConnected, Reason: "registry shut down"}
	case h == nil:
		return nil, &ServerError{Server: server, Err: ErrServerNotConnected, Reason: string(StateExited)}
	}

	ch, state := h.readyChannel()
	if ch == nil {
		reason := string(state)
		if state == StateFailed {
			reason = fmt.Sprintf("%s: %v", state, h.err())
		}
		return nil, &ServerError{Server: server, Err: ErrServerNotConnected, Reason: reason}
	}

	if args == nil {
		args = map[string]any{}
	}

	logger := r.logger.With().Str("server", server).Str("tool", tool).Logger()
	start := time.Now()

	resp, err := ch.Send(ctx, MethodToolsCall, ToolCallParams{Name: tool, Arguments: args}, o.timeout)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("tool call failed")
		return nil, &ToolInvocationError{Server: server, Tool: tool, Err: err}
	}
	if resp.Error != nil {
		logger.Warn().Err(resp.Error).Msg("tool call returned error response")
		return nil, &ToolInvocationError{Server: server, Tool: tool, Err: resp.Error}
	}

	result, err := decodeToolResult(resp.Result)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed tool result")
		return nil, &ToolInvocationError{Server: server, Tool: tool, Err: err}
	}

	logger.Debug().Dur("elapsed", time.Since(start)).Bool("isError", result.IsError).Msg("tool call completed")
	return result, nil
}
