package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"localqueue/internal/domain"
	"localqueue/internal/metrics"
)

// TaskService is the submission API served over HTTP.
type TaskService interface {
	Submit(ctx context.Context, taskType string, params map[string]any) (domain.TaskRecord, error)
	Get(ctx context.Context, id string) (domain.TaskRecord, error)
	List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Retry(ctx context.Context, id string) (domain.TaskRecord, error)
	TaskTypes() []string
}

type ScheduleLister interface {
	Schedules() []domain.Schedule
}

type Server struct {
	r         *chi.Mux
	tasks     TaskService
	schedules ScheduleLister
	collector *metrics.Collector
	log       zerolog.Logger
	debug     bool
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// WithSchedules exposes the periodic schedules on /api/schedules.
func WithSchedules(l ScheduleLister) Option { return func(s *Server) { s.schedules = l } }

// WithMetrics serves the collector's snapshot on /metrics.
func WithMetrics(c *metrics.Collector) Option { return func(s *Server) { s.collector = c } }

// WithDebug mounts the pprof handlers under /debug/pprof.
func WithDebug(enabled bool) Option { return func(s *Server) { s.debug = enabled } }

var validate = validator.New()

func NewServer(tasks TaskService, opts ...Option) http.Handler {
	s := &Server{r: chi.NewRouter(), tasks: tasks, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	r := s.r
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.submitTask)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Post("/tasks/{id}/cancel", s.cancelTask)
		r.Post("/tasks/{id}/retry", s.retryTask)
		r.Get("/task-types", s.taskTypes)
		r.Get("/schedules", s.listSchedules)
	})

	if s.debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	if s.collector == nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("localqueue_up 1\n"))
		return
	}
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("collect metrics")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = snap.WriteText(w)
}

type submitReq struct {
	TaskType   string         `json:"task_type" validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "task_type is required")
		return
	}
	rec, err := s.tasks.Submit(r.Context(), req.TaskType, req.Parameters)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f domain.Filter
	if v := q.Get("status"); v != "" {
		st, err := domain.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = &st
	}
	f.TaskType = q.Get("task_type")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	recs, err := s.tasks.List(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if recs == nil {
		recs = []domain.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.tasks.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) taskTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"task_types": s.tasks.TaskTypes()})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := []domain.Schedule{}
	if s.schedules != nil {
		schedules = append(schedules, s.schedules.Schedules()...)
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnknownTaskType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
