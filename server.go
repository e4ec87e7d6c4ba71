package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/njh/silentjack/internal/audio"
	"github.com/njh/silentjack/internal/config"
	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/metrics"
	"github.com/njh/silentjack/internal/server"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/update"
	"github.com/njh/silentjack/internal/util"
)

const (
	statusInterval    = 3 * time.Second
	readHeaderTimeout = 10 * time.Second
	wsSendBuffer      = 16
)

// statusSource is the part of the engine the status server reads.
type statusSource interface {
	Status() engine.Snapshot
}

// Server serves detector status over HTTP and WebSocket.
type Server struct {
	config   *config.Config
	engine   statusSource
	hub      *server.Hub
	commands *server.CommandHandler
	metrics  *metrics.Metrics
	updates  *update.Checker
	devices  func(types.Backend) []types.AudioDevice
}

// NewServer returns a Server reading status from eng. The hub and metrics
// must also be registered as engine observers. updates may be nil.
func NewServer(cfg *config.Config, eng statusSource, hub *server.Hub, m *metrics.Metrics, updates *update.Checker) *Server {
	s := &Server{
		config:  cfg,
		engine:  eng,
		hub:     hub,
		metrics: m,
		updates: updates,
		devices: listDevices,
	}
	s.commands = server.NewCommandHandler(cfg, func() any { return s.buildStatus() })
	return s
}

// listDevices returns the inputs the backend can open.
func listDevices(backend types.Backend) []types.AudioDevice {
	if backend == types.BackendCapture {
		return audio.CaptureDevices()
	}
	devices, err := audio.PortAudioDevices()
	if err != nil {
		slog.Debug("failed to list PortAudio devices", "error", err)
	}
	return devices
}

// buildStatus returns the current status response.
func (s *Server) buildStatus() types.StatusResponse {
	cfg := s.config.Snapshot()
	snap := s.engine.Status()

	status := types.EngineStatus{
		State:            snap.State,
		Name:             snap.Name,
		Backend:          cfg.Backend,
		Device:           snap.Device,
		Connected:        snap.Connected,
		LastError:        snap.LastError,
		SourceRetryCount: snap.RetryCount,
		SourceMaxRetries: types.MaxRetries,
	}
	if snap.State == types.StateRunning && !snap.StartTime.IsZero() {
		status.Uptime = time.Since(snap.StartTime).Round(time.Second).String()
	}

	return types.StatusResponse{
		Type:     "status",
		Engine:   status,
		Detector: cfg.Settings(),
		Counters: snap.Counters,
		LevelDB:  snap.LevelDB,
		Devices:  s.devices(cfg.Backend),
		Version:  s.versionInfo(),
	}
}

// versionInfo combines the build stamp with the last release check.
func (s *Server) versionInfo() types.VersionInfo {
	release := s.updates.Release()
	return types.VersionInfo{
		Current:     update.Normalize(Version),
		Latest:      release.Latest,
		UpdateAvail: release.Available,
		Commit:      Commit,
		BuildTime:   util.FormatHumanTime(BuildTime),
	}
}

// SetupRoutes returns an [http.Handler] with all status routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

// handleEvents handles GET /events?limit=N&offset=N&filter=fire|input|lifecycle.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.EventsRequest{Filter: q.Get("filter")}

	var err error
	if req.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	if req.Offset, err = queryInt(q.Get("offset")); err != nil {
		s.writeError(w, http.StatusBadRequest, "offset must be a number")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err})
		return
	}

	page, err := server.ReadEvents(s.config.Snapshot().EventLogPath, &req)
	switch {
	case errors.Is(err, server.ErrEventLogDisabled):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		slog.Error("failed to read event log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read event log")
	default:
		s.writeJSON(w, http.StatusOK, page)
	}
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// handleWebSocket streams ticks and events and answers commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection. The send channel
	// is never closed because command goroutines may still hold it.
	send := make(chan any, wsSendBuffer)
	done := make(chan struct{})

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done)

	s.hub.Subscribe(send)
	defer s.hub.Unsubscribe(send)

	s.runWebSocketEventLoop(send, done)
}

// runWebSocketWriter writes queued messages until the reader is done.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// runWebSocketReader reads commands until the connection fails.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send)
	}
}

// runWebSocketEventLoop sends the status on connect and periodically after.
func (s *Server) runWebSocketEventLoop(send chan<- any, done <-chan struct{}) {
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildStatus()) {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-statusTicker.C:
			if !trySend(s.buildStatus()) {
				return
			}
		}
	}
}

// Start begins serving on addr and returns the [http.Server] for shutdown.
func (s *Server) Start(addr string) *http.Server {
	slog.Info("starting status server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
