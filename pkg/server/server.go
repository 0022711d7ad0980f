package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/shiv248/collabide/pkg/collab"
	"github.com/shiv248/collabide/pkg/logger"
	"github.com/shiv248/collabide/pkg/sandbox"
)

// Config bundles the tunables a deployment wires into NewServer: read and
// write timeouts for the collaboration transport, plus the sandbox
// executor's admission and resource-limit knobs.
type Config struct {
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration

	SandboxEnabled          bool
	MaxConcurrentExecutions int
	ExecutionLimits         sandbox.ResourceLimits
}

// ServerState holds all server-wide state: the room registry backing
// collaborative editing, and (when enabled) the sandbox executor backing
// /api/execute.
type ServerState struct {
	registry  *collab.Registry
	executor  *sandbox.Executor
	config    Config
	startTime time.Time
}

// NewServerState builds server state over registry, with executor nil when
// the sandbox is disabled (driver could not be constructed, or the
// deployment opted out).
func NewServerState(registry *collab.Registry, executor *sandbox.Executor, config Config) *ServerState {
	return &ServerState{
		registry:  registry,
		executor:  executor,
		config:    config,
		startTime: time.Now(),
	}
}

// Stats reports point-in-time server counters.
type Stats struct {
	StartTime int64 `json:"start_time"`
	NumRooms  int   `json:"num_rooms"`
}

// Server is the main HTTP server: WebSocket collaboration plus the
// sandboxed execution API.
type Server struct {
	state *ServerState
	mux   *http.ServeMux
}

// NewServer wires routes over registry/executor/config.
func NewServer(registry *collab.Registry, executor *sandbox.Executor, config Config) *Server {
	s := &Server{
		state: NewServerState(registry, executor, config),
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("/api/socket/", s.handleSocket)
	s.mux.HandleFunc("/api/text/", s.handleText)
	s.mux.HandleFunc("/api/execute", s.handleExecute)
	s.mux.HandleFunc("/api/stats", s.handleStats)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades to a WebSocket and admits the connection into the
// named room. Route: /api/socket/{id}
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, "/api/socket/")
	if roomID == "" {
		http.Error(w, "room id required", http.StatusBadRequest)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "anonymous"
	}

	logger.Info("collab: socket request, room=%s user=%s", roomID, username)

	room := s.state.registry.GetOrCreate(roomID, "")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Error("collab: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	userID := NewParticipantID()
	connHandler, err := NewConnection(room, userID, username, conn, s.state.config.WSReadTimeout, s.state.config.WSWriteTimeout)
	if err != nil {
		logger.Error("collab: admit failed for room=%s: %v", roomID, err)
		return
	}

	if err := connHandler.Handle(r.Context()); err != nil {
		logger.Debug("collab: connection closed, room=%s user=%s: %v", roomID, userID, err)
	}

	s.state.registry.Cleanup(roomID)
}

// handleText returns the current document content. Route: /api/text/{id}
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, "/api/text/")
	if roomID == "" {
		http.Error(w, "room id required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	room, ok := s.state.registry.Get(roomID)
	if !ok {
		w.Write([]byte(""))
		return
	}
	w.Write([]byte(room.Document().GetContent()))
}

// executeRequest is the wire shape of a POST /api/execute body.
type executeRequest struct {
	Code     string          `json:"code"`
	Language sandbox.Language `json:"language"`
	Stdin    string          `json:"stdin,omitempty"`
	Args     []string        `json:"args,omitempty"`
}

// executeResponse is the wire shape of a successful /api/execute response.
type executeResponse struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int64  `json:"exit_code"`
	ExecutionTimeMs uint64 `json:"execution_time_ms"`
	TimedOut        bool   `json:"timed_out"`
}

// handleExecute runs one disposable, confined execution of submitted code.
// Route: POST /api/execute
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.state.executor == nil {
		http.Error(w, "sandbox execution is disabled", http.StatusServiceUnavailable)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result, err := s.state.executor.Execute(r.Context(), sandbox.ExecutionRequest{
		Code:     req.Code,
		Language: req.Language,
		Stdin:    req.Stdin,
		Args:     req.Args,
	}, s.state.config.ExecutionLimits)
	if err != nil {
		if execErr, ok := err.(*sandbox.ExecutorError); ok && execErr.Kind == sandbox.ErrInvalidRequest {
			http.Error(w, execErr.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("sandbox: execute failed: %v", err)
		http.Error(w, "execution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(executeResponse{
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		ExitCode:        result.ExitCode,
		ExecutionTimeMs: result.ExecutionTimeMs,
		TimedOut:        result.TimedOut,
	})
}

// handleStats reports point-in-time counters. Route: /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		StartTime: s.state.startTime.Unix(),
		NumRooms:  s.state.registry.RoomCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// StartCleaner periodically sweeps rooms that went empty without a clean
// disconnect (a socket read error dropped before the close handshake ran).
func (s *Server) StartCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.state.registry.CleanupEmpty(); removed > 0 {
				logger.Info("collab: cleaner removed %d empty room(s)", removed)
			}
		}
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

// Shutdown is a no-op placeholder for symmetry with http.Server's
// lifecycle; room state is in-memory only and has nothing to flush.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
