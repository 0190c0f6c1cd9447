package mcp

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jg-phare/devorch/pkg/types"
)

// Default lifecycle timings.
const (
	DefaultStartupTimeout = 10 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
)

// Options configures a Registry.
type Options struct {
	StartupTimeout time.Duration // bound on spawn + handshake per server
	CallTimeout    time.Duration // default per-call timeout
	ShutdownGrace  time.Duration // SIGTERM to SIGKILL delay
	ClientInfo     ServerInfo    // sent in the initialize handshake
}

func (o Options) withDefaults() Options {
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.ClientInfo.Name == "" {
		o.ClientInfo = ServerInfo{Name: "devorch", Version: "0.1.0"}
	}
	return o
}

// Registry owns the set of provider connections. It is the only component
// that creates or destroys server handles; everything else goes through
// CallTool or the status accessors.
type Registry struct {
	opts   Options
	logger zerolog.Logger

	mu           sync.RWMutex
	configured   map[string]types.ServerDescriptor
	handles      map[string]*ServerHandle
	shuttingDown bool
}

// NewRegistry returns an empty registry. Nothing is spawned until Initialize.
func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		opts:       opts.withDefaults(),
		logger:     logger.With().Str("component", "registry").Logger(),
		configured: make(map[string]types.ServerDescriptor),
		handles:    make(map[string]*ServerHandle),
	}
}

// Initialize starts every described server concurrently and waits for all of
// them to settle. One server failing never cancels the others. The only
// error returned is for an invalid descriptor list, in which case nothing is
// started. Calling Initialize after Cleanup reopens the registry.
func (r *Registry) Initialize(ctx context.Context, descs []types.ServerDescriptor) (*StartupResult, error) {
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate server name %q", d.Name)
		}
		seen[d.Name] = true
	}

	r.mu.Lock()
	r.shuttingDown = false
	for _, d := range descs {
		r.configured[d.Name] = d.Clone()
	}
	r.mu.Unlock()

	errs := make([]error, len(descs))
	var wg sync.WaitGroup
	for i, d := range descs {
		wg.Add(1)
		go func(i int, d types.ServerDescriptor) {
			defer wg.Done()
			errs[i] = r.startServer(ctx, d)
		}(i, d)
	}
	wg.Wait()

	result := &StartupResult{Ready: []string{}, Failed: []FailedServer{}}
	for i, d := range descs {
		if errs[i] != nil {
			result.Failed = append(result.Failed, FailedServer{Name: d.Name, Error: errs[i]})
			continue
		}
		result.Ready = append(result.Ready, d.Name)
	}

	r.logger.Info().
		Strs("ready", result.Ready).
		Int("failed", len(result.Failed)).
		Msg("registry initialized")
	return result, nil
}

// Add starts a single server, replacing any handle that is not Ready.
func (r *Registry) Add(ctx context.Context, desc types.ServerDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return &ServerError{Server: desc.Name, Err: ErrServerNotConnected, Reason: "registry shut down"}
	}
	r.configured[desc.Name] = desc.Clone()
	r.mu.Unlock()
	return r.startServer(ctx, desc)
}

// Remove tears down a server and forgets its descriptor.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	if _, ok := r.configured[name]; !ok {
		r.mu.Unlock()
		return &ServerError{Server: name, Err: ErrServerNotFound}
	}
	delete(r.configured, name)
	h := r.handles[name]
	delete(r.handles, name)
	r.mu.Unlock()

	if h == nil {
		return nil
	}
	h.beginClose()
	if err := h.closeChannel(); err != nil {
		r.logger.Warn().Err(err).Str("server", name).Msg("close channel")
	}
	return h.terminate(r.opts)
}

// Reconcile moves the registry toward descs: servers no longer listed are
// removed, new ones are added, and ones whose descriptor changed are
// restarted. Unchanged Ready servers are left alone.
func (r *Registry) Reconcile(ctx context.Context, descs []types.ServerDescriptor) *ReconcileResult {
	result := &ReconcileResult{Errors: make(map[string]string)}

	desired := make(map[string]types.ServerDescriptor, len(descs))
	for _, d := range descs {
		desired[d.Name] = d
	}

	r.mu.RLock()
	existing := make(map[string]types.ServerDescriptor, len(r.configured))
	for name, d := range r.configured {
		existing[name] = d
	}
	r.mu.RUnlock()

	for name := range existing {
		if _, ok := desired[name]; ok {
			continue
		}
		if err := r.Remove(name); err != nil {
			result.Errors[name] = err.Error()
		} else {
			result.Removed = append(result.Removed, name)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, d := range desired {
		old, known := existing[name]
		switch {
		case !known:
		case !reflect.DeepEqual(old, d):
			if err := r.Remove(name); err != nil {
				mu.Lock()
				result.Errors[name] = err.Error()
				mu.Unlock()
				continue
			}
		default:
			if st, err := r.ServerStatus(name); err == nil && st.State == StateReady {
				continue
			}
		}
		wg.Add(1)
		go func(name string, d types.ServerDescriptor, restart bool) {
			defer wg.Done()
			err := r.Add(ctx, d)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors[name] = err.Error()
			case restart:
				result.Restarted = append(result.Restarted, name)
			default:
				result.Added = append(result.Added, name)
			}
		}(name, d, known)
	}
	wg.Wait()

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Restarted)
	return result
}

// startServer brings one handle to Ready or Failed. The handle is stored
// before startup so status reports show it as Starting.
func (r *Registry) startServer(ctx context.Context, desc types.ServerDescriptor) error {
	r.mu.Lock()
	if old := r.handles[desc.Name]; old != nil {
		if _, state := old.readyChannel(); state == StateReady && reflect.DeepEqual(old.Descriptor, desc) {
			r.mu.Unlock()
			return nil
		}
	}
	h := newServerHandle(desc, r.logger)
	old := r.handles[desc.Name]
	r.handles[desc.Name] = h
	r.mu.Unlock()

	if old != nil {
		old.beginClose()
		_ = old.closeChannel()
		_ = old.terminate(r.opts)
	}

	startCtx, cancel := context.WithTimeout(ctx, r.opts.StartupTimeout)
	defer cancel()

	if err := h.start(startCtx, r.opts); err != nil {
		r.logger.Error().Err(err).Str("server", desc.Name).Msg("server failed to start")
		return err
	}

	r.mu.RLock()
	shutting := r.shuttingDown
	r.mu.RUnlock()
	if shutting {
		h.beginClose()
		_ = h.closeChannel()
		_ = h.terminate(r.opts)
		return &ServerError{Server: desc.Name, Err: ErrServerNotConnected, Reason: "registry shut down during startup"}
	}

	st := h.status()
	r.logger.Info().
		Str("server", desc.Name).
		Int("pid", st.PID).
		Int("tools", len(st.Tools)).
		Msg("server ready")

	go r.watchExit(h)
	return nil
}

// watchExit removes a handle whose process exits without being asked to.
func (r *Registry) watchExit(h *ServerHandle) {
	h.mu.Lock()
	proc := h.process
	h.mu.Unlock()

	<-proc.Exited()
	code := proc.ExitCode()
	if !h.markExited(fmt.Errorf("provider exited unexpectedly (code %d)", code)) {
		return
	}

	r.mu.Lock()
	if r.handles[h.Name] == h {
		delete(r.handles, h.Name)
	}
	r.mu.Unlock()

	ev := r.logger.Error().Str("server", h.Name).Int("code", code)
	if tail := proc.StderrTail(); tail != "" {
		ev = ev.Str("stderr", tail)
	}
	ev.Msg("server exited unexpectedly")
}

// Cleanup closes every channel, then terminates every process. It never
// fails: errors are logged and the remaining teardown continues. A second
// call is a no-op.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return
	}
	r.shuttingDown = true
	handles := make([]*ServerHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*ServerHandle)
	r.mu.Unlock()

	for _, h := range handles {
		h.beginClose()
	}
	for _, h := range handles {
		if err := h.closeChannel(); err != nil {
			r.logger.Warn().Err(err).Str("server", h.Name).Msg("close channel")
		}
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *ServerHandle) {
			defer wg.Done()
			if err := h.terminate(r.opts); err != nil {
				r.logger.Warn().Err(err).Str("server", h.Name).Msg("terminate process")
			}
		}(h)
	}
	wg.Wait()

	r.logger.Info().Int("servers", len(handles)).Msg("registry cleaned up")
}

// Status returns the status of every configured server, sorted by name.
// Configured servers without a live handle report Exited.
func (r *Registry) Status() []ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(r.configured))
	for name := range r.configured {
		if h, ok := r.handles[name]; ok {
			statuses = append(statuses, h.status())
			continue
		}
		statuses = append(statuses, ServerStatus{Name: name, State: StateExited})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// ServerStatus returns the status of one server.
func (r *Registry) ServerStatus(name string) (*ServerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.configured[name]; !ok {
		return nil, &ServerError{Server: name, Err: ErrServerNotFound}
	}
	if h, ok := r.handles[name]; ok {
		s := h.status()
		return &s, nil
	}
	return &ServerStatus{Name: name, State: StateExited}, nil
}

// Tools returns the tools a Ready server declared at startup.
func (r *Registry) Tools(name string) ([]ToolInfo, error) {
	st, err := r.ServerStatus(name)
	if err != nil {
		return nil, err
	}
	if st.State != StateReady {
		return nil, &ServerError{Server: name, Err: ErrServerNotConnected, Reason: string(st.State)}
	}
	return st.Tools, nil
}
