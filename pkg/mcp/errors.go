package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrServerNotFound means the server name was never configured.
	ErrServerNotFound = errors.New("server not found")
	// ErrServerNotConnected means the server is known but not ready.
	ErrServerNotConnected = errors.New("server not connected")
	// ErrTimeout means a request got no response within its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrChannelClosed means the transport channel closed with the request pending.
	ErrChannelClosed = errors.New("channel closed")
	// ErrProtocol marks malformed or unmatched frames.
	ErrProtocol = errors.New("protocol error")
)

// SpawnError reports that a provider process could not be started.
type SpawnError struct {
	Server  string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn server %q (%s): %v", e.Server, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ServerError names the server behind a lookup failure so operators can
// tell which provider is missing.
type ServerError struct {
	Server string
	Err    error // ErrServerNotFound or ErrServerNotConnected
	Reason string
}

func (e *ServerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %q (%s)", e.Err, e.Server, e.Reason)
	}
	return fmt.Sprintf("%s: %q", e.Err, e.Server)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ToolInvocationError wraps a transport-level failure of one tool call.
type ToolInvocationError struct {
	Server string
	Tool   string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("call %s/%s: %v", e.Server, e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// ProtocolError describes a frame that violated the wire contract.
type ProtocolError struct {
	Reason string
	Frame  []byte
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func newProtocolError(frame []byte, format string, args ...any) *ProtocolError {
	const maxFrame = 512
	f := frame
	if len(f) > maxFrame {
		f = f[:maxFrame]
	}
	return &ProtocolError{
		Reason: fmt.Sprintf(format, args...),
		Frame:  append([]byte(nil), f...),
	}
}
