package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server exposes an Engine over HTTP. Any path that is not one of the read-only
// endpoints is a WebSocket sync endpoint, because companion apps connect to the bare
// host and port.
type Server struct {
	engine   *Engine
	addr     string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(engine *Engine, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: engine,
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// peers on the LAN are not browsers on our origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/note").HandlerFunc(s.getNote)
	r.Methods(http.MethodGet).Path("/state").HandlerFunc(s.getState)
	r.Methods(http.MethodGet).PathPrefix("/").HandlerFunc(s.sync)
	return r
}

// ListenAndServe binds the address first so that a bind failure is returned to the
// caller rather than logged from a goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done. Open sync connections are closed through
// their request context.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() { _ = httpServer.Close() })
	defer stop()

	s.logger.Info("sync server listening", "addr", ln.Addr().String())
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) getNote(writer http.ResponseWriter, request *http.Request) {
	current, err := s.engine.Current(request.Context())
	if err != nil {
		s.logger.Error("failed to read current note", "err", err)
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(writer, current, s.logger)
}

func (s *Server) getState(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, map[string]any{
		"component": s.engine.ComponentType(),
		"state":     s.engine.State(),
	}, s.logger)
}

func (s *Server) sync(writer http.ResponseWriter, request *http.Request) {
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	if err := s.engine.HandleWebSocket(request.Context(), conn); err != nil {
		s.logger.Warn("sync connection ended", "remote", conn.RemoteAddr().String(), "err", err)
	}
}

func writeJSON(writer http.ResponseWriter, v any, logger *slog.Logger) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		logger.Error("failed to write out", "err", err)
	}
}
