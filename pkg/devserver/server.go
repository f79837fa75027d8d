// Package devserver serves the build root during development with live reload
// and an optional public tunnel.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/metrics"
	"github.com/poltergeist/wisp/pkg/types"
)

// Server is the development web server
type Server struct {
	config  types.ServerConfig
	project string
	root    string
	router  *mux.Router
	hub     *Hub
	metrics metrics.Recorder
	logger  logger.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// Option configures a Server
type Option func(*Server)

// WithMetrics mounts rec's handler at MetricsPath and feeds it live reload counts
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Server) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// New creates a server for the project at root. cfg.BaseDir is resolved
// against root.
func New(root string, cfg types.ServerConfig, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Discard()
	}
	base := cfg.BaseDir
	if !filepath.IsAbs(base) {
		base = filepath.Join(root, base)
	}

	s := &Server{
		config:  cfg,
		project: root,
		root:    base,
		router:  mux.NewRouter(),
		metrics: metrics.NoopRecorder{},
		logger:  log,
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.metrics, log)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle(LiveReloadPath, s.hub).Methods(http.MethodGet)
	s.router.HandleFunc(ScriptPath, s.handleScript).Methods(http.MethodGet)
	s.router.Handle(MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)

	s.router.PathPrefix("/").Handler(injectMiddleware(http.FileServer(http.Dir(s.root))))

	s.router.Use(s.loggingMiddleware)
}

func (s *Server) handleScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write([]byte(LiveReloadScript)); err != nil {
		s.logger.Debug("failed to write live reload script", logger.WithError(err))
	}
}

func injectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ranges would slice the rewritten page
		r.Header.Del("Range")
		r.Header.Del("If-Modified-Since")
		inj := newInjector(w)
		next.ServeHTTP(inj, r)
		inj.finish()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the event stream working through the middleware
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Debug("HTTP request",
			logger.WithField("method", r.Method),
			logger.WithField("path", r.URL.Path),
			logger.WithField("status", rw.status),
			logger.WithField("duration", time.Since(start).String()))
	})
}

// Handler returns the router, for tests and the tunnel
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the live reload hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Root returns the directory being served
func (s *Server) Root() string {
	return s.root
}

// Reload tells connected browsers about written files. Every call carries a
// fresh hash. With InjectChanges on, a change made only of stylesheets (and
// their source maps) is marked so browsers swap them without reloading.
func (s *Server) Reload(paths []string) {
	urls := make([]string, 0, len(paths))
	css := s.config.InjectChanges && len(paths) > 0
	for _, p := range paths {
		if !strings.HasSuffix(p, ".css") && !strings.HasSuffix(p, ".css.map") {
			css = false
		}
		if u, ok := s.urlPath(p); ok {
			urls = append(urls, u)
		}
	}
	sort.Strings(urls)

	s.hub.Broadcast(Change{Hash: uuid.NewString(), Paths: urls, CSS: css})
	s.logger.Debug("Live reload",
		logger.WithField("files", strings.Join(urls, ", ")),
		logger.WithField("inject", css))
}

// urlPath maps a written file, absolute or relative to the project root, to
// its URL path below the served root
func (s *Server) urlPath(p string) (string, bool) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.project, filepath.FromSlash(p))
	}
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

// Ready is closed once the server is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// URL returns the address browsers should open. It reflects the bound port
// once Ready is closed.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return "http://" + s.config.Address()
}

// Serve listens on the configured address and blocks until ctx is cancelled.
// A failing tunnel is logged and never stops local serving.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second, IdleTimeout: 120 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Success(fmt.Sprintf("Serving %s at %s", s.config.BaseDir, s.URL()))

	if s.config.Tunnel {
		tunnel := NewTunnel(s.config.TunnelHost, s.config.TunnelUser, s.router, s.logger)
		go func() {
			if err := tunnel.Run(ctx); err != nil {
				s.logger.Warn("Tunnel unavailable, serving locally only", logger.WithError(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.hub.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev server: %w", err)
	}

	// event streams never finish on their own
	s.hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dev server shutdown: %w", err)
	}
	s.logger.Info("Dev server stopped")
	return nil
}
