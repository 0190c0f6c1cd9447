// Package api is the HTTP front end of the orchestrator: server status,
// direct tool calls, and background project-context tasks whose progress is
// streamed over WebSocket or Server-Sent Events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/jg-phare/devorch/pkg/mcp"
	"github.com/jg-phare/devorch/pkg/progress"
	"github.com/jg-phare/devorch/pkg/projectctx"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// DefaultMaxSnapshots is how many finished context snapshots are kept for
// /api/status when Config.MaxSnapshots is zero.
const DefaultMaxSnapshots = 64

// Backend is the part of the registry the API serves.
type Backend interface {
	Status() []mcp.ServerStatus
	CallTool(ctx context.Context, server, tool string, args map[string]any, opts ...mcp.CallOption) (*mcp.ToolResult, error)
}

// ContextBuilder produces project snapshots.
type ContextBuilder interface {
	GetProjectContext(ctx context.Context, path string) (*projectctx.Snapshot, error)
}

// Config wires a Server.
type Config struct {
	Backend  Backend
	Contexts ContextBuilder
	Bus      *progress.Bus
	Logger   zerolog.Logger
	// OriginPatterns are passed to websocket.AcceptOptions; empty means
	// same-origin only.
	OriginPatterns []string
	// MaxSnapshots bounds retained snapshots; the oldest is dropped first.
	MaxSnapshots int
}

// Server serves the HTTP API. Context tasks started through it run on a
// context owned by the server, so they outlive the request that created
// them and are cancelled by Close.
type Server struct {
	backend  Backend
	contexts ContextBuilder
	bus      *progress.Bus
	logger   zerolog.Logger
	mux      *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	snapshots    map[string]*projectctx.Snapshot
	snapOrder    []string
	maxSnapshots int

	newID func() string
	now   func() time.Time
}

// New builds a Server and registers its routes.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = DefaultMaxSnapshots
	}
	s := &Server{
		backend:      cfg.Backend,
		contexts:     cfg.Contexts,
		bus:          cfg.Bus,
		logger:       cfg.Logger.With().Str("component", "api").Logger(),
		mux:          http.NewServeMux(),
		ctx:          ctx,
		cancel:       cancel,
		snapshots:    make(map[string]*projectctx.Snapshot),
		maxSnapshots: cfg.MaxSnapshots,
		newID:        uuid.NewString,
		now:          time.Now,
	}

	var accept *websocket.AcceptOptions
	if len(cfg.OriginPatterns) > 0 {
		accept = &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns}
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/servers", s.handleServers)
	s.mux.HandleFunc("POST /api/tools/{server}/{tool}", s.handleCallTool)
	s.mux.HandleFunc("POST /api/context", s.handleStartContext)
	s.mux.HandleFunc("GET /api/status/{taskId}", s.handleTaskStatus)
	s.mux.Handle("GET /ws", &progress.Handler{Bus: cfg.Bus, Logger: s.logger, AcceptOptions: accept})
	s.mux.Handle("GET /events", &progress.SSEHandler{Bus: cfg.Bus, Logger: s.logger})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close cancels running context tasks and waits for them to publish their
// completion events.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Servers   int       `json:"servers"`
	Ready     int       `json:"ready"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := s.backend.Status()
	resp := healthResponse{Status: "ok", Timestamp: s.now().UTC(), Servers: len(statuses)}
	for _, st := range statuses {
		if st.State == mcp.StateReady {
			resp.Ready++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

type toolCallRequest struct {
	Arguments map[string]any `json:"arguments"`
	Timeout   string         `json:"timeout,omitempty"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	server, tool := r.PathValue("server"), r.PathValue("tool")

	var req toolCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var opts []mcp.CallOption
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("timeout must be a positive duration"))
			return
		}
		opts = append(opts, mcp.WithTimeout(d))
	}

	result, err := s.backend.CallTool(r.Context(), server, tool, req.Arguments, opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statusFor maps the call error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mcp.ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcp.ErrServerNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, mcp.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

type contextRequest struct {
	Path string `json:"path"`
}

type taskResponse struct {
	TaskID string `json:"taskId"`
}

func (s *Server) handleStartContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	if s.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("server is shutting down"))
		return
	}

	id := s.newID()
	// Recorded before responding so an immediate status poll finds the task.
	s.bus.Publish(progress.Update(id, "context", "collecting project context for "+req.Path).WithStep(0, 1))

	s.wg.Add(1)
	go s.runContextTask(id, req.Path)

	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: id})
}

func (s *Server) runContextTask(id, path string) {
	defer s.wg.Done()
	log := s.logger.With().Str("task", id).Str("path", path).Logger()

	snap, err := s.contexts.GetProjectContext(s.ctx, path)
	if err != nil {
		log.Warn().Err(err).Msg("context task failed")
		s.bus.Publish(progress.Complete(id, err))
		return
	}

	s.storeSnapshot(id, snap)

	done := progress.Update(id, "context", "project context ready").WithStep(1, 1)
	done.Plan = snap
	s.bus.Publish(done)
	s.bus.Publish(progress.Complete(id, nil))
	log.Info().Int("files", len(snap.FileStructure)).Msg("context task completed")
}

func (s *Server) storeSnapshot(id string, snap *projectctx.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = snap
	s.snapOrder = append(s.snapOrder, id)
	for len(s.snapOrder) > s.maxSnapshots {
		delete(s.snapshots, s.snapOrder[0])
		s.snapOrder = s.snapOrder[1:]
	}
}

type taskStatusResponse struct {
	progress.TaskState
	Progress float64              `json:"progress"`
	Snapshot *projectctx.Snapshot `json:"snapshot,omitempty"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("taskId")
	state, ok := s.bus.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("task not found"))
		return
	}
	resp := taskStatusResponse{TaskState: state}
	if state.TotalSteps > 0 {
		resp.Progress = float64(state.Step) / float64(state.TotalSteps) * 100
	}
	s.mu.Lock()
	resp.Snapshot = s.snapshots[id]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
