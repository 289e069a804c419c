// Package http exposes courses and their memberships over REST.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nohelyvillegas/micro-cursos/internal/application/catalog"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
	"github.com/nohelyvillegas/micro-cursos/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8002).
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	EnableCORS     bool
	AllowedOrigins []string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8002,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// CourseCatalog is the CRUD side of courses.
type CourseCatalog interface {
	List(ctx context.Context) ([]*course.Course, error)
	Get(ctx context.Context, id course.ID) (*course.Course, error)
	Create(ctx context.Context, in catalog.CourseInput) (*course.Course, error)
	Update(ctx context.Context, id course.ID, in catalog.CourseInput) (*course.Course, error)
	Delete(ctx context.Context, id course.ID) error
}

// Memberships adds, removes and lists course members.
type Memberships interface {
	AddMembership(ctx context.Context, courseID course.ID, userID user.ID) (*user.User, error)
	RemoveMembership(ctx context.Context, courseID course.ID, userID user.ID) error
	ListMembershipUsers(ctx context.Context, courseID course.ID) ([]*user.User, error)
}

// UserRegistrar creates users in the users service.
type UserRegistrar interface {
	Create(ctx context.Context, nu user.NewUser) (*user.User, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Catalog     CourseCatalog
	Memberships Memberships

	// Users is optional; without it POST /api/cursos/usuarios answers 501.
	Users UserRegistrar

	HealthChecker handlers.HealthChecker
	Logger        *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *slog.Logger

	// startedAt is UnixNano of the last successful bind, 0 when not serving.
	startedAt atomic.Int64
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "http")

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// Courses
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /api/cursos", s.handleListCourses)
	s.router.HandleFunc("POST /api/cursos", s.handleCreateCourse)
	s.router.HandleFunc("GET /api/cursos/{id}", s.handleGetCourse)
	s.router.HandleFunc("PUT /api/cursos/{id}", s.handleUpdateCourse)
	s.router.HandleFunc("DELETE /api/cursos/{id}", s.handleDeleteCourse)

	// ─────────────────────────────────────────────────────────────────────────
	// Memberships
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/cursos/{id}", s.handleAddMembership)
	s.router.HandleFunc("DELETE /api/cursos/{cursoId}/usuarios/{usuarioId}", s.handleRemoveMembership)
	s.router.HandleFunc("GET /api/cursos/{cursoId}/usuarios", s.handleListMembershipUsers)

	// ─────────────────────────────────────────────────────────────────────────
	// Users service passthrough
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/cursos/usuarios", s.handleCreateUser)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

type middleware func(http.Handler) http.Handler

// buildMiddlewareChain applies the middleware outermost first: CORS answers
// preflights before anything else, and every later layer sees a request ID.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	var chain []middleware
	if s.config.EnableCORS {
		chain = append(chain, s.corsMiddleware)
	}
	chain = append(chain, s.requestIDMiddleware, s.recoveryMiddleware, s.loggingMiddleware)

	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}

// requestIDMiddleware reuses the caller's X-Request-ID or mints one, echoes
// it back, and stores it in the context for the users client to forward.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(shared.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		switch {
		case rw.statusCode >= http.StatusInternalServerError:
			level = slog.LevelError
		case rw.statusCode >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		s.logger.LogAttrs(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			slog.Duration("took", time.Since(start)),
			slog.String("ip", clientIP(r)),
			slog.String("request_id", shared.RequestIDFromContext(r.Context())),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 envelope.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panicked",
				"panic", rec,
				"path", r.URL.Path,
				"request_id", shared.RequestIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	anyOrigin := slices.Contains(s.config.AllowedOrigins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && (anyOrigin || slices.Contains(s.config.AllowedOrigins, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start binds the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	s.startedAt.Store(time.Now().UnixNano())
	s.logger.Info("listening", "address", ln.Addr().String())

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields at most one
// error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	s.startedAt.Store(0)
	return s.httpServer.Shutdown(ctx)
}

// Uptime is zero until Start binds and after Shutdown.
func (s *Server) Uptime() time.Duration {
	started := s.startedAt.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}
