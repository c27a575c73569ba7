// Package server exposes the service as a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/internal/service"
)

// UserHeader carries the calling user's id. Authentication happens in front
// of this server.
const UserHeader = "X-User-ID"

type Server struct {
	svc     *service.Service
	server  *http.Server
	logger  zerolog.Logger
	metrics http.Handler

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		logger:       zerolog.Nop(),
		readTimeout:  15 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	return s
}

// Handler returns the routed handler with identity and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Workflows and their pipelines
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PATCH /api/workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}/status", s.handleSetWorkflowStatus)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/stages", s.handleListStages)
	mux.HandleFunc("POST /api/workflows/{id}/stages", s.handleAddStage)
	mux.HandleFunc("GET /api/workflows/{id}/stats", s.handleWorkflowStats)
	mux.HandleFunc("PATCH /api/stages/{id}", s.handleUpdateStage)
	mux.HandleFunc("DELETE /api/stages/{id}", s.handleDeleteStage)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.handleFindTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/overdue", s.handleOverdue)
	mux.HandleFunc("GET /api/tasks/due", s.handleDueWithin)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/stage", s.handleChangeStage)
	mux.HandleFunc("POST /api/tasks/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /api/tasks/{id}/revert", s.handleRevert)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.handleSetCategory)
	mux.HandleFunc("POST /api/tasks/{id}/assign", s.handleAssign)
	mux.HandleFunc("GET /api/tasks/{id}/next-stages", s.handleNextStages)
	mux.HandleFunc("GET /api/tasks/{id}/comments", s.handleListComments)
	mux.HandleFunc("POST /api/tasks/{id}/comments", s.handleAddComment)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	// Statistics
	mux.HandleFunc("GET /api/stats", s.handleOverview)
	mux.HandleFunc("GET /api/stats/status", s.handleCountByStatus)
	mux.HandleFunc("GET /api/stats/priority", s.handleCountByPriority)
	mux.HandleFunc("GET /api/stats/assignees", s.handleOpenByAssignee)

	// Directory
	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/users/{id}/tasks", s.handleTasksForUser)
	mux.HandleFunc("GET /api/users/{id}/roles", s.handleUserRoles)
	mux.HandleFunc("POST /api/users/{id}/roles", s.handleAssignRole)
	mux.HandleFunc("DELETE /api/users/{id}/roles/{roleID}", s.handleRemoveRole)
	mux.HandleFunc("GET /api/departments", s.handleListDepartments)
	mux.HandleFunc("POST /api/departments", s.handleCreateDepartment)
	mux.HandleFunc("GET /api/teams", s.handleListTeams)
	mux.HandleFunc("POST /api/teams", s.handleCreateTeam)
	mux.HandleFunc("GET /api/roles", s.handleListRoles)
	mux.HandleFunc("POST /api/roles", s.handleCreateRole)
	mux.HandleFunc("GET /api/audit", s.handleListAudit)

	return s.logRequests(s.withPrincipal(mux))
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return sferrors.Wrapf(err, "listen on %s", addr)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return sferrors.Wrap(err, "http server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// withPrincipal resolves the caller named by UserHeader once per request.
func (s *Server) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := identity.Resolve(r.Context(), s.svc, userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
	})
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
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	info := sferrors.Info(err)
	if info.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	s.respond(w, info.HTTPStatus, errorBody{Error: info.Message, Detail: err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn().Err(err).Msg("encode response")
	}
}

// reply writes data, or the mapped error when err is set.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, status, data)
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return sferrors.Newf(sferrors.ErrInvalidInput, "request body: %v", err)
	}
	return nil
}
