package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwatch/internal/app"
	"socialwatch/internal/task/engine"
	logx "socialwatch/pkg/logx"
)

type call struct {
	op    string
	id    int64
	actor string
	now   time.Time
}

type fakeCommands struct {
	mu     sync.Mutex
	calls  []call
	result app.Result
	create app.CreateScheduleRequest
}

func (f *fakeCommands) record(c call) app.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.result.Status == "" {
		return app.Result{Status: app.StatusOK}
	}
	return f.result
}

func (f *fakeCommands) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeCommands) CreateSchedule(_ context.Context, req app.CreateScheduleRequest) app.Result {
	f.create = req
	return f.record(call{op: "create", actor: req.Actor})
}
func (f *fakeCommands) Get(_ context.Context, id int64) app.Result {
	return f.record(call{op: "get", id: id})
}
func (f *fakeCommands) List(context.Context, app.ListFilter) app.Result {
	return f.record(call{op: "list"})
}
func (f *fakeCommands) Pause(_ context.Context, id int64, actor string) app.Result {
	return f.record(call{op: "pause", id: id, actor: actor})
}
func (f *fakeCommands) Resume(_ context.Context, id int64, actor string) app.Result {
	return f.record(call{op: "resume", id: id, actor: actor})
}
func (f *fakeCommands) Delete(_ context.Context, id int64, actor string) app.Result {
	return f.record(call{op: "delete", id: id, actor: actor})
}
func (f *fakeCommands) RunNow(_ context.Context, id int64, actor string) app.Result {
	return f.record(call{op: "run", id: id, actor: actor})
}
func (f *fakeCommands) ListDue(_ context.Context, now time.Time) app.Result {
	return f.record(call{op: "due", now: now})
}
func (f *fakeCommands) Reconcile(_ context.Context, now time.Time) app.Result {
	return f.record(call{op: "reconcile", now: now})
}
func (f *fakeCommands) Runs(int) []engine.HistoryItem { return []engine.HistoryItem{{ScheduleID: 1}} }

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) (*httptest.ResponseRecorder, app.Result) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var res app.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return w, res
}

func TestScheduleRoutes(t *testing.T) {
	t.Parallel()
	f := &fakeCommands{}
	h := NewRouter(f, Options{}, logx.Nop())

	cases := []struct {
		method, path, op string
		id               int64
	}{
		{http.MethodGet, "/schedules/7", "get", 7},
		{http.MethodPost, "/schedules/7/pause", "pause", 7},
		{http.MethodPost, "/schedules/7/resume", "resume", 7},
		{http.MethodPost, "/schedules/7/run", "run", 7},
		{http.MethodDelete, "/schedules/7", "delete", 7},
		{http.MethodGet, "/schedules", "list", 0},
	}
	for _, tc := range cases {
		w, _ := do(t, h, tc.method, tc.path, "", map[string]string{"X-Actor": "ops"})
		assert.Equal(t, http.StatusOK, w.Code, tc.path)
		c := f.last()
		assert.Equal(t, tc.op, c.op, tc.path)
		assert.Equal(t, tc.id, c.id, tc.path)
		if tc.op == "pause" || tc.op == "resume" || tc.op == "run" || tc.op == "delete" {
			assert.Equal(t, "ops", c.actor, tc.path)
		}
	}

	w, res := do(t, h, http.MethodGet, "/schedules/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, app.StatusInvalid, res.Status)
}

func TestCreateSchedule(t *testing.T) {
	t.Parallel()
	f := &fakeCommands{}
	h := NewRouter(f, Options{}, logx.Nop())

	w, _ := do(t, h, http.MethodPost, "/schedules",
		`{"platform":"twitter","subject":"golang","frequency":"daily","time":"09:00","keywords":["go"]}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "golang", f.create.Subject)
	assert.Equal(t, []string{"go"}, f.create.Keywords)
	assert.Equal(t, "http", f.create.Actor)

	w, res := do(t, h, http.MethodPost, "/schedules", `{"platform":"twitter","bogus":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, res.Message, "invalid JSON body")
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()
	for st, code := range map[app.Status]int{
		app.StatusNotFound: http.StatusNotFound,
		app.StatusConflict: http.StatusConflict,
		app.StatusInvalid:  http.StatusBadRequest,
		app.StatusError:    http.StatusInternalServerError,
	} {
		f := &fakeCommands{result: app.Result{Status: st, Message: "x"}}
		h := NewRouter(f, Options{}, logx.Nop())
		w, res := do(t, h, http.MethodPost, "/schedules/3/pause", "", nil)
		assert.Equal(t, code, w.Code, st)
		assert.Equal(t, st, res.Status)
	}
}

func TestReconcileRequiresSecret(t *testing.T) {
	t.Parallel()
	f := &fakeCommands{}
	h := NewRouter(f, Options{CronSecret: "s3cret"}, logx.Nop())

	w, _ := do(t, h, http.MethodPost, "/cron/reconcile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = do(t, h, http.MethodPost, "/cron/reconcile", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.calls)

	before := time.Now().UTC()
	w, _ = do(t, h, http.MethodPost, "/cron/reconcile", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	c := f.last()
	assert.Equal(t, "reconcile", c.op)
	assert.False(t, c.now.Before(before.Truncate(time.Second)))
	assert.WithinDuration(t, time.Now().UTC(), c.now, time.Minute)
}

func TestReconcileRejectsCallerClock(t *testing.T) {
	t.Parallel()
	f := &fakeCommands{}
	h := NewRouter(f, Options{}, logx.Nop())

	w, res := do(t, h, http.MethodPost, "/cron/reconcile?now=2030-01-01T00:00:00Z", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, app.StatusInvalid, res.Status)
	assert.Empty(t, f.calls)

	req := httptest.NewRequest(http.MethodGet, "/cron/reconcile", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, f.calls)
}

func TestReconcileOpenWithoutSecret(t *testing.T) {
	t.Parallel()
	f := &fakeCommands{}
	h := NewRouter(f, Options{}, logx.Nop())
	w, _ := do(t, h, http.MethodPost, "/cron/reconcile", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodGet, "/schedules/due?now=2024-01-02T09:05:00Z", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "due", f.last().op)
}

func TestHealthAndRuns(t *testing.T) {
	t.Parallel()
	h := NewRouter(&fakeCommands{}, Options{}, logx.Nop())

	w, res := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, app.StatusOK, res.Status)

	w, res = do(t, h, http.MethodGet, "/runs?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, res.Data, 1)
}

func TestProfilerNeedsSecret(t *testing.T) {
	t.Parallel()
	get := func(h http.Handler, auth string) int {
		req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	open := NewRouter(&fakeCommands{}, Options{Profiler: true}, logx.Nop())
	assert.Equal(t, http.StatusNotFound, get(open, ""))

	gated := NewRouter(&fakeCommands{}, Options{Profiler: true, CronSecret: "k"}, logx.Nop())
	assert.Equal(t, http.StatusUnauthorized, get(gated, ""))
	assert.Equal(t, http.StatusOK, get(gated, "Bearer k"))
}
