// Package provider hosts a set of tools behind the newline-delimited
// JSON-RPC protocol the orchestrator speaks over a child's stdin/stdout.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jg-phare/devorch/pkg/mcp"
	"github.com/jg-phare/devorch/pkg/tools"
)

// maxRequestSize bounds one request line (10 MB).
const maxRequestSize = 10 * 1024 * 1024

// JSON-RPC error codes used in error responses.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Server answers initialize, tools/list and tools/call for one tool
// registry. Requests are handled concurrently; each response is written as
// a single line.
type Server struct {
	info       mcp.ServerInfo
	tools      *tools.Registry
	logger     zerolog.Logger
	maxRequest int

	writeMu sync.Mutex
	out     io.Writer
}

// New creates a Server that identifies itself as info.
func New(info mcp.ServerInfo, registry *tools.Registry, logger zerolog.Logger) *Server {
	return &Server{
		info:       info,
		tools:      registry,
		logger:     logger.With().Str("component", "provider").Str("provider", info.Name).Logger(),
		maxRequest: maxRequestSize,
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id"`
	Result  any                `json:"result,omitempty"`
	Error   *mcp.ResponseError `json:"error,omitempty"`
}

// toolAnnotations are hints derived from a tool's side effect.
type toolAnnotations struct {
	ReadOnlyHint    bool `json:"readOnlyHint"`
	DestructiveHint bool `json:"destructiveHint"`
	OpenWorldHint   bool `json:"openWorldHint"`
}

type toolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema map[string]any  `json:"inputSchema"`
	Annotations toolAnnotations `json:"annotations"`
}

// inbound is one request line, or a marker for a line that exceeded the
// size limit and was discarded.
type inbound struct {
	line      []byte
	oversized bool
}

// Serve reads requests from r until EOF or ctx is done, writing responses
// to w. On EOF it waits for in-flight calls to finish before returning.
// Oversized lines are answered with an invalid-request error and skipped.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = w
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan inbound)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			line, oversized, err := readLine(br, s.maxRequest)
			if len(line) > 0 || oversized {
				select {
				case lines <- inbound{line: line, oversized: oversized}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info().Int("tools", len(s.tools.Names())).Msg("serving")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-lines:
			if !ok {
				wg.Wait()
				select {
				case err := <-readErr:
					return fmt.Errorf("reading requests: %w", err)
				default:
				}
				s.logger.Info().Msg("input closed")
				return nil
			}
			if in.oversized {
				s.logger.Warn().Int("limit", s.maxRequest).Msg("dropping oversized request")
				s.writeError(json.RawMessage("null"), codeInvalidRequest,
					fmt.Sprintf("request exceeds %d bytes", s.maxRequest))
				continue
			}
			s.dispatch(ctx, in.line, &wg)
		}
	}
}

// readLine reads one newline-terminated line without its line ending. A
// line longer than limit is consumed in full and reported as oversized
// with no content.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var buf []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(buf, "\r\n"), oversized, err
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte, wg *sync.WaitGroup) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn().Err(err).Msg("dropping unparseable request")
		s.writeError(json.RawMessage("null"), codeParseError, "parse error: "+err.Error())
		return
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		s.handleNotification(req)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.handle(ctx, req)
	}()
}

func (s *Server) handleNotification(req request) {
	switch req.Method {
	case mcp.MethodInitialized:
		s.logger.Debug().Msg("client initialized")
	case "":
		s.logger.Warn().Msg("dropping request without method or id")
	default:
		s.logger.Debug().Str("method", req.Method).Msg("ignoring notification")
	}
}

func (s *Server) handle(ctx context.Context, req request) {
	switch req.Method {
	case mcp.MethodInitialize:
		s.writeResult(req.ID, s.initialize(req.Params))
	case mcp.MethodToolsList:
		s.writeResult(req.ID, map[string]any{"tools": s.describeTools()})
	case mcp.MethodToolsCall:
		var params mcp.ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			s.writeError(req.ID, codeInvalidParams, "tools/call requires a tool name")
			return
		}
		s.writeResult(req.ID, s.callTool(ctx, params))
	case "":
		s.writeError(req.ID, codeInvalidRequest, "request has no method")
	default:
		s.writeError(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) initialize(raw json.RawMessage) mcp.InitializeResult {
	var params mcp.InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed initialize params")
		}
	}
	version := params.ProtocolVersion
	if version == "" {
		version = mcp.ProtocolVersion
	}
	s.logger.Info().
		Str("client", params.ClientInfo.Name).
		Str("protocol_version", version).
		Msg("initialize")
	return mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      s.info,
	}
}

func (s *Server) describeTools() []toolDescription {
	list := s.tools.Tools()
	out := make([]toolDescription, 0, len(list))
	for _, t := range list {
		effect := t.SideEffect()
		out = append(out, toolDescription{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
			Annotations: toolAnnotations{
				ReadOnlyHint:    effect == tools.SideEffectNone,
				DestructiveHint: effect == tools.SideEffectMutating,
				OpenWorldHint:   effect == tools.SideEffectNetwork,
			},
		})
	}
	return out
}

// callTool never fails at the protocol level: unknown tools, host errors
// and panics all come back as isError results.
func (s *Server) callTool(ctx context.Context, params mcp.ToolCallParams) (result mcp.ToolResult) {
	log := s.logger.With().Str("tool", params.Name).Logger()
	tool, ok := s.tools.Get(params.Name)
	if !ok {
		log.Warn().Msg("unknown tool")
		return errorResult("unknown tool: " + params.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("tool panicked")
			result = errorResult(fmt.Sprintf("tool %s panicked: %v", params.Name, p))
		}
	}()

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	out, err := tool.Execute(ctx, args)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("tool failed")
		return errorResult(err.Error())
	}
	log.Debug().Bool("is_error", out.IsError).Dur("elapsed", time.Since(start)).Msg("tool call")
	return mcp.ToolResult{
		Content: []mcp.ContentBlock{mcp.TextBlock(out.Content)},
		IsError: out.IsError,
	}
}

func errorResult(msg string) mcp.ToolResult {
	return mcp.ToolResult{
		Content: []mcp.ContentBlock{mcp.TextBlock("Error: " + msg)},
		IsError: true,
	}
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, msg string) {
	s.write(response{JSONRPC: "2.0", ID: id, Error: &mcp.ResponseError{Code: code, Message: msg}})
}

func (s *Server) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal response")
		data, _ = json.Marshal(response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &mcp.ResponseError{Code: codeInvalidRequest, Message: "unencodable response: " + err.Error()},
		})
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

// ServeStdio serves on the process's standard streams. Logging must go to
// stderr; stdout carries only protocol frames.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}
