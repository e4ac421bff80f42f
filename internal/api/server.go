// Package api exposes the engine over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Iron-Ham/hotlabel/internal/engine"
	"github.com/Iron-Ham/hotlabel/internal/evaluator"
	"github.com/Iron-Ham/hotlabel/internal/logging"
	"github.com/Iron-Ham/hotlabel/internal/matcher"
	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// Engine is the subset of the engine served over HTTP.
type Engine interface {
	CreateTask(ctx context.Context, task *taskstore.Task) (*taskstore.Task, error)
	CreateBatch(ctx context.Context, tasks []*taskstore.Task) []taskstore.BatchItemResult
	GetTask(ctx context.Context, id string) (*taskstore.Task, error)
	ListTasks(ctx context.Context, filter taskstore.Filter, limit int, cursor string) (taskstore.Page, error)
	RetireTask(ctx context.Context, id string) (*taskstore.Task, error)
	RequestTask(ctx context.Context, sessionID string, attrs profile.Attributes) (*taskstore.Task, error)
	MatchTasks(ctx context.Context, sessionID string, attrs profile.Attributes, limit int) ([]matcher.Match, error)
	SubmitResponse(ctx context.Context, sub response.Submission) (*response.Response, error)
	SubmitBatch(ctx context.Context, sessionID string, subs []response.Submission) []response.BatchItemResult
	GetResponse(ctx context.Context, id string) (*response.Response, error)
	Stats(ctx context.Context) (engine.Stats, error)
	Sweep(ctx context.Context) (evaluator.Summary, error)
}

// DefaultShutdownTimeout bounds graceful shutdown when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

// Server serves the engine's HTTP API.
type Server struct {
	engine          Engine
	logger          *logging.Logger
	addr            string
	shutdownTimeout time.Duration
	handler         http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownTimeout bounds how long Serve waits for in-flight requests
// once its context is cancelled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer builds a server for eng listening on addr.
func NewServer(eng Engine, addr string, opts ...Option) *Server {
	s := &Server{
		engine:          eng,
		logger:          logging.NopLogger(),
		addr:            addr,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("POST /api/tasks/batch", s.handleCreateBatch)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleRetireTask)
	mux.HandleFunc("POST /api/tasks/request", s.handleRequestTask)
	mux.HandleFunc("POST /api/tasks/match", s.handleMatchTasks)
	mux.HandleFunc("POST /api/responses", s.handleSubmitResponse)
	mux.HandleFunc("POST /api/responses/batch", s.handleSubmitBatch)
	mux.HandleFunc("GET /api/responses/{id}", s.handleGetResponse)
	mux.HandleFunc("GET /api/admin/metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/admin/sweep", s.handleSweep)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	s.handler = s.logRequests(mux)
	return s
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown error", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
