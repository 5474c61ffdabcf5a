package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"edgemetrics/collector"
	"edgemetrics/logger"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes the current snapshot over HTTP.
type Server struct {
	addr      string
	store     *collector.SnapshotStore
	log       *logger.Logger
	accessLog *logger.Logger
	refresh   time.Duration
	now       func() time.Time

	router *mux.Router
	srv    *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithAccessLog enables per-request logging to l. Without it requests are
// logged to a no-op logger.
func WithAccessLog(l *logger.Logger) Option {
	return func(s *Server) { s.accessLog = l }
}

// WithRefresh sets the refresh period advertised by the HTML page.
func WithRefresh(d time.Duration) Option {
	return func(s *Server) { s.refresh = d }
}

// NewServer builds a server reading from store. Nothing listens until Start.
func NewServer(addr string, store *collector.SnapshotStore, log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		store:     store,
		log:       log,
		accessLog: logger.Nop(),
		refresh:   2 * time.Second,
		now:       time.Now,
		router:    mux.NewRouter().SkipClean(true), // "//metrics" is not "/metrics"
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		// net/http's own error log is silenced along with request logging
		ErrorLog: zap.NewStdLog(s.accessLog.Logger),
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(emptyStatus(http.StatusNotFound))
	s.router.MethodNotAllowedHandler = http.HandlerFunc(emptyStatus(http.StatusMethodNotAllowed))
}

// Handler returns the root handler, access logging included.
func (s *Server) Handler() http.Handler {
	return accessLogMiddleware(s.accessLog)(s.router)
}

// Start listens on the configured address and serves until Stop is called.
// It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig

	l, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	return s.Serve(l)
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.log.Logger.Debug("http server listening", zap.String("addr", l.Addr().String()))

	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}

	return nil
}

// Stop gracefully shuts the listener down, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Load()

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if err := RenderMetrics(w, snap, s.now()); err != nil {
		s.writeFailed(r, err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Load()

	h := w.Header()
	h.Set("Content-Type", "text/html")
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := RenderIndex(w, snap, s.now(), s.refresh); err != nil {
		s.writeFailed(r, err)
	}
}

// writeFailed records a response body that could not be delivered, usually
// a client that went away. Debug level: transport errors are not reported.
func (s *Server) writeFailed(r *http.Request, err error) {
	logger.FromContext(r.Context(), s.log).Debug("write response failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

func emptyStatus(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}
