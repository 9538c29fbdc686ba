// Package ops serves the operational endpoints of the worker: liveness,
// readiness, Prometheus metrics and a view of scheduled jobs and dead letters.
// It carries no business API.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fundhub/fundhub-engine/internal/infrastructure/messaging"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/scheduler"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains ops server configuration.
type Config struct {
	// Addr to listen on (default ":9090").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":9090",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobLister exposes scheduled job state.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// DeadLetters exposes events whose handlers gave up.
type DeadLetters interface {
	Entries() []messaging.DeadLetterEntry
}

// Dependencies of the ops endpoints. Nil members disable their endpoint.
type Dependencies struct {
	Logger      *logger.Logger
	Health      *HealthChecker
	Metrics     http.Handler
	Jobs        JobLister
	DeadLetters DeadLetters
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the ops HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewServer creates an ops server.
func NewServer(config Config, deps Dependencies) *Server {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker("")
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With(logger.Component("ops_server")),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.recoveryMiddleware(s.router),
		ReadHeaderTimeout: config.ReadTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /healthz", s.handleLive)
	s.router.HandleFunc("GET /readyz", s.handleReady)

	if s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.Jobs != nil {
		s.router.HandleFunc("GET /jobs", s.handleJobs)
	}
	if s.deps.DeadLetters != nil {
		s.router.HandleFunc("GET /deadletters", s.handleDeadLetters)
	}
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					logger.Any("panic", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleLive answers as long as the process serves requests.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady runs the dependency checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

type jobView struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Schedule    string    `json:"schedule"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"last_run,omitempty"`
	NextRun     time.Time `json:"next_run,omitempty"`
	RunCount    int64     `json:"run_count"`
	FailCount   int64     `json:"fail_count"`
	LastError   string    `json:"last_error,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.deps.Jobs.ListJobs()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{
			Name:        j.Name,
			Description: j.Description,
			Schedule:    j.Schedule,
			Running:     j.Running,
			LastRun:     j.LastRun,
			NextRun:     j.NextRun,
			RunCount:    j.RunCount,
			FailCount:   j.FailCount,
		}
		if j.LastResult != nil && j.LastResult.Error != nil {
			v.LastError = j.LastResult.Error.Error()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

type deadLetterView struct {
	EventType   string    `json:"event_type"`
	AggregateID string    `json:"aggregate_id"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	entries := s.deps.DeadLetters.Entries()
	views := make([]deadLetterView, 0, len(entries))
	for _, e := range entries {
		v := deadLetterView{FailedAt: e.FailedAt}
		if e.Event != nil {
			v.EventType = string(e.Event.EventType())
			v.AggregateID = e.Event.AggregateID()
		}
		if e.Error != nil {
			v.Error = e.Error.Error()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("ops server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("ops server listening", logger.String("addr", s.config.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
