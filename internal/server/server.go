package server

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pdf-form-drop/internal/catalog"
	"pdf-form-drop/internal/store"
)

// Config holds the HTTP settings.
type Config struct {
	Addr           string // e.g. ":3000"
	PublicDir      string // static pages, empty disables them
	MaxUploadBytes int64  // POST /details body cap, 0 = unlimited
	RateLimit      int    // POST /details per client IP per minute, 0 = off
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty means
	// clients are identified by the connection address only.
	TrustedProxies []netip.Prefix
	Version        string
	Commit         string
}

// Catalog indexes created submissions.
type Catalog interface {
	Record(ctx context.Context, e catalog.Entry) error
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Mirror copies created submissions to object storage.
type Mirror interface {
	Replicate(ctx context.Context, id string, files map[string][]byte) error
	Check(ctx context.Context) error
}

// Option configures optional collaborators.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCatalog enables indexing of new submissions.
func WithCatalog(c Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithMirror enables replication of new submissions.
func WithMirror(m Mirror) Option {
	return func(s *Server) { s.mirror = m }
}

// WithRegistry registers metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

type Server struct {
	cfg      Config
	store    *store.Store
	catalog  Catalog
	mirror   Mirror
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	limiter  *rateLimiter
	ips      clientIPResolver

	httpServer *http.Server
}

func New(cfg Config, st *store.Store, opts ...Option) *Server {
	s := &Server{cfg: cfg, store: st, ips: clientIPResolver{trusted: cfg.TrustedProxies}}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("http")
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry, cfg.Version, cfg.Commit)
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, time.Minute, s.ips.clientIP)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(middleware.Compress(5, "application/json", "text/html", "text/css", "text/javascript", "text/plain"))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/details", s.createSubmission)
	})
	r.Get("/details/{id}", s.getSubmission)
	r.Get("/download/{id}", s.downloadSubmission)

	if s.cfg.PublicDir != "" {
		r.Get("/", s.servePage("index.html"))
		r.Get("/emp/{id}", s.servePage("emp.html"))
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.PublicDir)))
	}

	return r
}

// servePage answers with a fixed file from the public directory.
func (s *Server) servePage(name string) http.HandlerFunc {
	path := filepath.Join(s.cfg.PublicDir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.httpServer.Shutdown(ctx)
}
