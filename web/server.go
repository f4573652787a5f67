package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/backend"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/middleware"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
)

// Records is the relational data behind the data API. *records.Store
// implements it.
type Records interface {
	Ping(ctx context.Context) error

	ListProfilesByRole(ctx context.Context, role manpower.Role) ([]manpower.Profile, error)
	ListEmployees(ctx context.Context, status string) ([]records.Employee, error)
	SetEmployeeStatus(ctx context.Context, id, status string) error
	CountEmployeesByRole(ctx context.Context) ([]records.RoleCount, error)

	ListDepartments(ctx context.Context) ([]records.Department, error)
	CreateDepartment(ctx context.Context, name string) (records.Department, error)

	ListSchedules(ctx context.Context) ([]records.Schedule, error)
	ListSchedulesForEmployee(ctx context.Context, employeeID string) ([]records.Schedule, error)
	CreateSchedule(ctx context.Context, in records.ScheduleInput) (int64, error)
	UpdateSchedule(ctx context.Context, id int64, in records.ScheduleInput) error
	DeleteSchedule(ctx context.Context, id int64) error

	RecordAttendance(ctx context.Context, a records.Attendance) (int64, error)
	ListAttendanceForEmployee(ctx context.Context, employeeID string) ([]records.Attendance, error)
	ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]records.Attendance, error)
	AttendanceTrends(ctx context.Context, since time.Time) ([]records.StatusCount, error)
}

type Config struct {
	DistDir string
	// TrendDays is the default window of the attendance-trends chart.
	TrendDays int
	// EventsHeartbeat is the comment interval keeping event streams open.
	EventsHeartbeat time.Duration
}

func DefaultConfig() Config {
	return Config{
		DistDir:         "dist",
		TrendDays:       30,
		EventsHeartbeat: 25 * time.Second,
	}
}

type Deps struct {
	Accounts *backend.Service
	Records  Records
	Contexts *Registry
	Policy   *guard.Policy
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	cfg      Config
	accounts *backend.Service
	records  Records
	contexts *Registry
	policy   *guard.Policy
	metrics  http.Handler
	logger   *slog.Logger
	static   *StaticHost
	now      func() time.Time
}

func NewServer(deps Deps, cfg Config) (*Server, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("web: accounts service required")
	case deps.Records == nil:
		return nil, errors.New("web: records required")
	case deps.Contexts == nil:
		return nil, errors.New("web: browsing-context registry required")
	}
	def := DefaultConfig()
	if cfg.DistDir == "" {
		cfg.DistDir = def.DistDir
	}
	if cfg.TrendDays <= 0 {
		cfg.TrendDays = def.TrendDays
	}
	if cfg.EventsHeartbeat <= 0 {
		cfg.EventsHeartbeat = def.EventsHeartbeat
	}
	if deps.Policy == nil {
		deps.Policy = guard.DefaultPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		cfg:      cfg,
		accounts: deps.Accounts,
		records:  deps.Records,
		contexts: deps.Contexts,
		policy:   deps.Policy,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      time.Now,
	}
	s.static = NewStaticHost(cfg.DistDir, s.decideView)
	return s, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientInfo)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// Only the "/api/" prefix is API; a bare "/api" is a view path.
	r.Mount("/api/", s.apiRouter())

	r.Handle("/*", s.static)
	return r
}

func (s *Server) apiRouter() chi.Router {
	r := chi.NewRouter()
	r.NotFound(apiNotFound)
	r.MethodNotAllowed(apiNotFound)

	r.Get("/hello", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from the backend!"})
	})
	r.Post("/auth/register", s.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BrowsingContext(s.contexts.Resolve, s.logger))

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/oauth/{provider}", s.handleProviderStart)
		r.Get("/auth/callback", s.handleProviderCallback)
		r.Get("/auth/session", s.handleSession)
		r.Get("/auth/events", s.handleEvents)

		manage := middleware.Guard(s.policy, guard.PermManage)
		self := middleware.Guard(s.policy, guard.PermSelf)

		r.With(manage).Get("/dashboard/stats", s.handleDashboardStats)
		r.With(manage).Get("/profiles", s.handleListProfiles)
		r.With(manage).Get("/employees", s.handleListEmployees)
		r.With(manage).Get("/employees/pending", s.handleListPending)
		r.With(manage).Post("/employees/{id}/approve", s.handleApproveEmployee)
		r.With(manage).Get("/departments", s.handleListDepartments)
		r.With(manage).Post("/departments", s.handleCreateDepartment)
		r.With(manage).Get("/schedules", s.handleListSchedules)
		r.With(manage).Post("/schedules", s.handleCreateSchedule)
		r.With(manage).Put("/schedules/{id}", s.handleUpdateSchedule)
		r.With(manage).Delete("/schedules/{id}", s.handleDeleteSchedule)
		r.With(manage).Post("/attendance", s.handleRecordAttendance)
		r.With(manage).Get("/attendance/trends", s.handleAttendanceTrends)
		r.With(manage).Get("/attendance/export.xlsx", s.handleAttendanceExport)

		r.With(self).Get("/me/schedules", s.handleMySchedules)
		r.With(self).Get("/me/attendance", s.handleMyAttendance)
	})
	return r
}

func apiNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "API route not found")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "redis": "ok", "database": "ok"}
	if err := s.accounts.Ping(r.Context()); err != nil {
		status, body["status"], body["redis"] = http.StatusServiceUnavailable, "degraded", "unavailable"
	}
	if err := s.records.Ping(r.Context()); err != nil {
		status, body["status"], body["database"] = http.StatusServiceUnavailable, "degraded", "unavailable"
	}
	writeJSON(w, status, body)
}

// decideView runs the route policy for a client-side path.
func (s *Server) decideView(w http.ResponseWriter, r *http.Request) (guard.Decision, bool) {
	_, ctrl, err := s.contexts.Resolve(w, r)
	if err != nil {
		s.logger.Warn("view guard skipped", "path", r.URL.Path, "error", err)
		return guard.Decision{}, false
	}
	return ctrl.Decide(r.URL.Path), true
}

// subject is the user behind the request's browsing context.
func subject(r *http.Request) (string, bool) {
	ctrl, ok := middleware.ControllerFromContext(r.Context())
	if !ok {
		return "", false
	}
	st := ctrl.State()
	if st.Session == nil {
		return "", false
	}
	return st.Session.Subject, true
}
