package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jg-phare/devorch/pkg/types"
)

// ServerHandle binds one provider's process, channel, and lifecycle state.
// Only the Registry mutates it.
type ServerHandle struct {
	Name       string
	Descriptor types.ServerDescriptor

	mu      sync.Mutex
	state   ConnectionState
	process *Process
	channel *Channel
	info    *ServerInfo
	tools   []ToolInfo
	lastErr error
	closing bool // teardown was requested by the registry
	logger  zerolog.Logger
}

func newServerHandle(desc types.ServerDescriptor, logger zerolog.Logger) *ServerHandle {
	return &ServerHandle{
		Name:       desc.Name,
		Descriptor: desc.Clone(),
		state:      StateStarting,
		logger:     logger.With().Str("server", desc.Name).Logger(),
	}
}

// spawnProcess is Spawn, replaceable in tests.
var spawnProcess = Spawn

// errStartupAborted is returned when teardown was requested while the
// handle was still starting.
var errStartupAborted = fmt.Errorf("%w: shutdown requested during startup", ErrServerNotConnected)

// start spawns the process, opens the channel, and runs the handshake. If
// teardown begins before the handle is Ready, start releases what it
// created itself.
func (h *ServerHandle) start(ctx context.Context, opts Options) error {
	proc, err := spawnProcess(h.Descriptor, h.logger)
	if err != nil {
		h.fail(err)
		return err
	}
	ch := NewChannel(h.Name, proc.Stdin(), proc.Stdout(), ChannelOptions{DefaultTimeout: opts.CallTimeout}, h.logger)

	h.mu.Lock()
	if h.closing {
		h.state = StateExited
		h.mu.Unlock()
		h.abort(ch, proc, opts)
		return errStartupAborted
	}
	h.process = proc
	h.channel = ch
	h.mu.Unlock()

	if err := h.handshake(ctx, ch, opts); err != nil {
		_ = ch.Close()
		_ = proc.Terminate(opts.ShutdownGrace)
		if tail := proc.StderrTail(); tail != "" {
			err = fmt.Errorf("%w (stderr: %s)", err, tail)
		}
		h.fail(err)
		return err
	}

	h.mu.Lock()
	if h.closing {
		h.state = StateExited
		h.mu.Unlock()
		h.abort(ch, proc, opts)
		return errStartupAborted
	}
	h.state = StateReady
	h.lastErr = nil
	h.mu.Unlock()
	return nil
}

// abort releases a channel and process that never reached Ready.
func (h *ServerHandle) abort(ch *Channel, proc *Process, opts Options) {
	_ = ch.Close()
	if err := proc.Terminate(opts.ShutdownGrace); err != nil {
		h.logger.Warn().Err(err).Msg("terminate aborted provider")
	}
}

// handshake runs initialize, the initialized notification, and tools/list.
// Only the first two are required; tools/list is introspection.
func (h *ServerHandle) handshake(ctx context.Context, ch *Channel, opts Options) error {
	resp, err := ch.Send(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      opts.ClientInfo,
	}, 0)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %w", resp.Error)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(resp.Result, &initResult); err != nil {
		return fmt.Errorf("parse initialize result: %w", newProtocolError(resp.Result, "%v", err))
	}

	if err := ch.Notify(MethodInitialized, nil); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}

	tools, err := listTools(ctx, ch)
	if err != nil {
		h.logger.Warn().Err(err).Msg("tools/list failed; continuing without tool introspection")
	}

	h.mu.Lock()
	h.info = &initResult.ServerInfo
	h.tools = tools
	h.mu.Unlock()
	return nil
}

func listTools(ctx context.Context, ch *Channel) ([]ToolInfo, error) {
	resp, err := ch.Send(ctx, MethodToolsList, nil, 0)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var result ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, newProtocolError(resp.Result, "malformed tools/list result: %v", err)
	}
	return result.Tools, nil
}

// readyChannel returns the channel if the handle can serve calls.
func (h *ServerHandle) readyChannel() (*Channel, ConnectionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady || h.closing {
		return nil, h.state
	}
	if h.channel.Closed() {
		// The read loop saw EOF before the exit watcher reaped the process.
		return nil, StateExited
	}
	return h.channel, h.state
}

func (h *ServerHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateFailed
	h.lastErr = err
}

// markExited records an unexpected exit and fails everything in flight.
func (h *ServerHandle) markExited(cause error) bool {
	h.mu.Lock()
	if h.closing || h.state == StateExited {
		h.mu.Unlock()
		return false
	}
	h.state = StateExited
	h.lastErr = cause
	ch := h.channel
	h.mu.Unlock()

	if ch != nil {
		_ = ch.CloseWithError(cause)
	}
	return true
}

// beginClose flags the handle so its exit is not treated as a crash.
func (h *ServerHandle) beginClose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
}

// closeChannel fails all pending requests and releases the streams.
func (h *ServerHandle) closeChannel() error {
	h.mu.Lock()
	ch := h.channel
	h.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// terminate stops the process and moves the handle to Exited.
func (h *ServerHandle) terminate(opts Options) error {
	h.mu.Lock()
	proc := h.process
	if h.state == StateReady || h.state == StateStarting {
		h.state = StateExited
	}
	h.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Terminate(opts.ShutdownGrace)
}

func (h *ServerHandle) status() ServerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := ServerStatus{
		Name:       h.Name,
		State:      h.state,
		ServerInfo: h.info,
		Tools:      h.tools,
	}
	if h.process != nil {
		s.PID = h.process.PID()
	}
	if h.lastErr != nil {
		s.Error = h.lastErr.Error()
	}
	return s
}

func (h *ServerHandle) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastErr == nil {
		return errors.New(string(h.state))
	}
	return h.lastErr
}
