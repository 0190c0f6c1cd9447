package mcp

import (
	"encoding/json"
	"strings"
)

// ConnectionState is the lifecycle state of a server handle.
type ConnectionState string

const (
	StateStarting ConnectionState = "starting"
	StateReady    ConnectionState = "ready"
	StateFailed   ConnectionState = "failed"
	StateExited   ConnectionState = "exited"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = "2024-11-05"

// Method constants.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// ServerInfo identifies a provider or the orchestrator in the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is sent by the orchestrator to begin the handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ServerInfo     `json:"clientInfo"`
}

// InitializeResult is returned by the provider from the handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ToolInfo describes a tool a provider declares in tools/list.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolsListResult is the response from tools/list.
type ToolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolCallParams is the request body for tools/call.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentKind tags a ContentBlock variant.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentResource ContentKind = "resource"
)

// ContentBlock is a single item of a tool result. Which fields are set
// depends on Type:
//
//	text:     Text
//	image:    Data (base64) and MimeType
//	resource: URI, optionally Text or MimeType
type ContentBlock struct {
	Type     ContentKind `json:"type"`
	Text     string      `json:"text,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	Data     string      `json:"data,omitempty"`
	URI      string      `json:"uri,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// ToolResult is the outcome of a successful tools/call round trip. IsError
// marks a failure reported by the tool itself, not by the transport.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text concatenates the text blocks of the result, separated by newlines.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, b := range r.Content {
		if b.Type == ContentText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeToolResult validates a tools/call result payload against the
// content-block shape. Anything else is a protocol violation.
func decodeToolResult(raw json.RawMessage) (*ToolResult, error) {
	var shape struct {
		Content json.RawMessage `json:"content"`
		IsError *bool           `json:"isError"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, newProtocolError(raw, "tool result is not an object: %v", err)
	}
	if len(shape.Content) == 0 || shape.Content[0] != '[' {
		return nil, newProtocolError(raw, "tool result content must be an array of content blocks")
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(shape.Content, &blocks); err != nil {
		return nil, newProtocolError(raw, "malformed content blocks: %v", err)
	}
	for i, b := range blocks {
		switch b.Type {
		case ContentText:
		case ContentImage:
			if b.Data == "" {
				return nil, newProtocolError(raw, "content[%d]: image block without data", i)
			}
		case ContentResource:
			if b.URI == "" {
				return nil, newProtocolError(raw, "content[%d]: resource block without uri", i)
			}
		default:
			return nil, newProtocolError(raw, "content[%d]: unknown block type %q", i, b.Type)
		}
	}

	result := &ToolResult{Content: blocks}
	if shape.IsError != nil {
		result.IsError = *shape.IsError
	}
	return result, nil
}
