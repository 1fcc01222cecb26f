// Package httpapi exposes the schedule commands and the reconcile trigger
// over HTTP. Handlers only translate requests; every decision lives in the
// app.Service they wrap.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"socialwatch/internal/app"
	"socialwatch/internal/task/engine"
	logx "socialwatch/pkg/logx"
)

const maxBody = 64 << 10

// Commands is the subset of app.Service the API calls.
type Commands interface {
	CreateSchedule(ctx context.Context, req app.CreateScheduleRequest) app.Result
	Get(ctx context.Context, id int64) app.Result
	List(ctx context.Context, f app.ListFilter) app.Result
	Pause(ctx context.Context, id int64, actor string) app.Result
	Resume(ctx context.Context, id int64, actor string) app.Result
	Delete(ctx context.Context, id int64, actor string) app.Result
	RunNow(ctx context.Context, id int64, actor string) app.Result
	ListDue(ctx context.Context, now time.Time) app.Result
	Reconcile(ctx context.Context, now time.Time) app.Result
	Runs(limit int) []engine.HistoryItem
}

type Options struct {
	// CronSecret, when set, must arrive as "Authorization: Bearer <secret>"
	// on the reconcile endpoint.
	CronSecret string

	// Profiler mounts net/http/pprof under /debug. It shares the cron
	// secret gate and is refused when no secret is configured.
	Profiler bool
}

type server struct {
	cmd  Commands
	opts Options
	log  logx.Logger
	now  func() time.Time
}

// NewRouter builds the API handler.
func NewRouter(cmd Commands, opts Options, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &server{cmd: cmd, opts: opts, log: log.With(logx.String("comp", "http")), now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/runs", s.handleRuns)

	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/due", s.handleDue)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.byID(s.cmd.Delete))
			r.Post("/pause", s.byID(s.cmd.Pause))
			r.Post("/resume", s.byID(s.cmd.Resume))
			r.Post("/run", s.byID(s.cmd.RunNow))
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireCronSecret)
		r.Post("/cron/reconcile", s.handleReconcile)
		if opts.Profiler && opts.CronSecret != "" {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	if opts.Profiler && opts.CronSecret == "" {
		s.log.Warn("pprof requested without CRON_SECRET; not mounted")
	}
	return r
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.CronSecret != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.CronSecret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, app.Result{Status: "unauthorized", Message: "missing or invalid cron secret"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": s.now().UTC()})
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	writeJSON(w, http.StatusOK, app.Result{Status: app.StatusOK, Data: s.cmd.Runs(limit)})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req app.CreateScheduleRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeResult(w, app.Result{Status: app.StatusInvalid, Message: "invalid JSON body: " + err.Error()})
		return
	}
	req.Actor = actor(r)
	res := s.cmd.CreateSchedule(r.Context(), req)
	if res.OK() {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	writeResult(w, s.cmd.List(r.Context(), app.ListFilter{
		EnabledOnly: q.Get("enabled") == "true",
		LegacyOnly:  q.Get("legacy") == "true",
		Platform:    q.Get("platform"),
		Limit:       limit,
	}))
}

func (s *server) handleDue(w http.ResponseWriter, r *http.Request) {
	now, err := nowParam(r, s.now)
	if err != nil {
		writeResult(w, app.Result{Status: app.StatusInvalid, Message: err.Error()})
		return
	}
	writeResult(w, s.cmd.ListDue(r.Context(), now))
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeResult(w, s.cmd.Get(r.Context(), id))
}

func (s *server) byID(fn func(ctx context.Context, id int64, actor string) app.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		writeResult(w, fn(r.Context(), id, actor(r)))
	}
}

// handleReconcile always runs at the server clock.
func (s *server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("now") {
		writeResult(w, app.Result{Status: app.StatusInvalid, Message: "now is not accepted on reconcile"})
		return
	}
	writeResult(w, s.cmd.Reconcile(r.Context(), s.now().UTC()))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeResult(w, app.Result{Status: app.StatusInvalid, Message: "invalid schedule id"})
		return 0, false
	}
	return id, true
}

// nowParam reads an optional RFC 3339 "now" query parameter.
func nowParam(r *http.Request, clock func() time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("now"))
	if raw == "" {
		return clock().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("now must be RFC 3339")
	}
	return t.UTC(), nil
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "http"
}

func statusCode(st app.Status) int {
	switch st {
	case app.StatusOK:
		return http.StatusOK
	case app.StatusNotFound:
		return http.StatusNotFound
	case app.StatusConflict:
		return http.StatusConflict
	case app.StatusInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res app.Result) {
	writeJSON(w, statusCode(res.Status), res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
