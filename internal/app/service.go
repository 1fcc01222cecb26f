package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"socialwatch/internal/health"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	"socialwatch/internal/task/reconcile"
	logx "socialwatch/pkg/logx"
)

// Status is the discriminant of every command Result.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusConflict Status = "conflict"
	StatusInvalid  Status = "invalid"
	StatusError    Status = "error"
)

// Result is returned by every Service command. Commands never panic or
// return bare errors to the caller.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusOK }

func ok(data any) Result { return Result{Status: StatusOK, Data: data} }

func fail(st Status, format string, args ...any) Result {
	return Result{Status: st, Message: fmt.Sprintf(format, args...)}
}

// ScheduleView is the external shape of a schedule.
type ScheduleView struct {
	ID         int64             `json:"id"`
	Platform   schedule.Platform `json:"platform"`
	Subject    string            `json:"subject"`
	Keywords   []string          `json:"keywords,omitempty"`
	Frequency  string            `json:"frequency"`
	AnchorTime *time.Time        `json:"anchor_time"`
	Enabled    bool              `json:"enabled"`
	Legacy     bool              `json:"legacy,omitempty"`
	LastRun    *time.Time        `json:"last_run"`
	NextRun    *time.Time        `json:"next_run"`
	CreatedAt  time.Time         `json:"created_at"`
}

func viewOf(sc schedule.Schedule) ScheduleView {
	return ScheduleView{
		ID:         sc.ID,
		Platform:   sc.Platform,
		Subject:    sc.Subject,
		Keywords:   sc.Keywords,
		Frequency:  sc.Frequency.String(),
		AnchorTime: sc.AnchorTime,
		Enabled:    sc.Enabled,
		Legacy:     sc.IsLegacy(),
		LastRun:    sc.LastRun,
		NextRun:    sc.NextRun,
		CreatedAt:  sc.CreatedAt,
	}
}

func viewsOf(list []schedule.Schedule) []ScheduleView {
	out := make([]ScheduleView, 0, len(list))
	for _, sc := range list {
		out = append(out, viewOf(sc))
	}
	return out
}

// Executor runs one schedule.
type Executor interface {
	Execute(ctx context.Context, id int64, tr engine.Trigger) engine.Result
	Forget(id int64)
	History(limit int) []engine.HistoryItem
}

// Loop is the in-process active set.
type Loop interface {
	Reschedule(ctx context.Context, id int64) error
	Cancel(id int64) bool
}

type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (reconcile.Report, error)
}

type HealthChecker interface {
	Check(ctx context.Context, now time.Time) ([]health.Stale, error)
}

// Service is the command surface shared by the HTTP API and the CLI.
type Service struct {
	store  storage.Store
	exec   Executor
	loop   Loop
	recon  Reconciler
	health HealthChecker
	log    logx.Logger
	now    func() time.Time
}

func NewService(store storage.Store, exec Executor, loop Loop, recon Reconciler, hc HealthChecker, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:  store,
		exec:   exec,
		loop:   loop,
		recon:  recon,
		health: hc,
		log:    log.With(logx.String("comp", "commands")),
		now:    time.Now,
	}
}

func (s *Service) guard(op string, res *Result) {
	if r := recover(); r != nil {
		s.log.Error("command panic", logx.String("op", op), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		*res = fail(StatusError, "internal error in %s", op)
	}
}

func (s *Service) audit(ctx context.Context, actor, action string, id int64, res Result, meta any) {
	if actor == "" {
		actor = "system"
	}
	e := storage.AuditEntry{
		At:         s.now().UTC(),
		Actor:      actor,
		Action:     action,
		ScheduleID: id,
		Status:     string(res.Status),
	}
	if !res.OK() {
		e.Error = res.Message
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit write failed", logx.String("action", action), logx.Int64("schedule_id", id), logx.Err(err))
	}
}

// syncLoop pushes a changed schedule into the active set. The loop also
// reloads on revision change, so a failure here only delays pickup.
func (s *Service) syncLoop(ctx context.Context, id int64) {
	if s.loop == nil {
		return
	}
	if err := s.loop.Reschedule(ctx, id); err != nil {
		s.log.Warn("active set update failed", logx.Int64("schedule_id", id), logx.Err(err))
	}
}

func storeFailure(op string, err error) Result {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fail(StatusNotFound, "schedule not found")
	case errors.Is(err, schedule.ErrInvalidSchedule):
		return fail(StatusInvalid, "%v", err)
	default:
		return fail(StatusError, "%s: %v", op, err)
	}
}

// CreateSchedule validates req, persists the schedule with next_run at its
// anchor and adds it to the active set.
func (s *Service) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (res Result) {
	defer s.guard("create", &res)

	sc, err := req.toSchedule(s.now())
	if err != nil {
		res = fail(StatusInvalid, "%v", err)
		s.audit(ctx, req.Actor, "create", 0, res, req)
		return res
	}
	created, err := s.store.CreateSchedule(ctx, sc)
	if err != nil {
		res = storeFailure("create schedule", err)
		s.audit(ctx, req.Actor, "create", 0, res, req)
		return res
	}
	s.syncLoop(ctx, created.ID)
	s.log.Info("schedule created",
		logx.Int64("schedule_id", created.ID),
		logx.String("platform", string(created.Platform)),
		logx.String("subject", created.Subject),
		logx.String("frequency", created.Frequency.String()),
		logx.TimePtr("next_run", created.NextRun),
	)
	res = ok(viewOf(created))
	s.audit(ctx, req.Actor, "create", created.ID, res, req)
	return res
}

func (s *Service) Get(ctx context.Context, id int64) (res Result) {
	defer s.guard("get", &res)
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return storeFailure("get schedule", err)
	}
	return ok(viewOf(sc))
}

// ListFilter narrows List.
type ListFilter struct {
	EnabledOnly bool
	LegacyOnly  bool
	Platform    string
	Limit       int
}

func (s *Service) List(ctx context.Context, f ListFilter) (res Result) {
	defer s.guard("list", &res)
	sf := storage.ScheduleFilter{EnabledOnly: f.EnabledOnly, LegacyOnly: f.LegacyOnly, Limit: f.Limit}
	if f.Platform != "" {
		p, err := schedule.ParsePlatform(f.Platform)
		if err != nil {
			return fail(StatusInvalid, "%v", err)
		}
		sf.Platform = p
	}
	list, err := s.store.ListSchedules(ctx, sf)
	if err != nil {
		return storeFailure("list schedules", err)
	}
	return ok(viewsOf(list))
}

// Pause disables a schedule without touching next_run.
func (s *Service) Pause(ctx context.Context, id int64, actor string) (res Result) {
	defer func() { s.audit(ctx, actor, "pause", id, res, nil) }()
	defer s.guard("pause", &res)

	sc, err := s.store.SetScheduleEnabled(ctx, id, false)
	if errors.Is(err, storage.ErrConflict) {
		return fail(StatusConflict, "schedule %d is already paused", id)
	}
	if err != nil {
		return storeFailure("pause schedule", err)
	}
	s.syncLoop(ctx, id)
	s.log.Info("schedule paused", logx.Int64("schedule_id", id))
	return ok(viewOf(sc))
}

// Resume re-enables a schedule. next_run is left as is, so a schedule paused
// across its slot runs once on the next tick and then advances from now.
func (s *Service) Resume(ctx context.Context, id int64, actor string) (res Result) {
	defer func() { s.audit(ctx, actor, "resume", id, res, nil) }()
	defer s.guard("resume", &res)

	cur, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return storeFailure("resume schedule", err)
	}
	switch {
	case cur.IsLegacy():
		return fail(StatusInvalid, "schedule %d has no anchor time; recreate it", id)
	case cur.Completed():
		return fail(StatusConflict, "schedule %d already ran once and is complete", id)
	}
	sc, err := s.store.SetScheduleEnabled(ctx, id, true)
	if errors.Is(err, storage.ErrConflict) {
		return fail(StatusConflict, "schedule %d is already active", id)
	}
	if err != nil {
		return storeFailure("resume schedule", err)
	}
	s.syncLoop(ctx, id)
	s.log.Info("schedule resumed", logx.Int64("schedule_id", id), logx.TimePtr("next_run", sc.NextRun))
	return ok(viewOf(sc))
}

// Delete removes the schedule and its handle. A run already in flight
// finishes and cannot bring the row back.
func (s *Service) Delete(ctx context.Context, id int64, actor string) (res Result) {
	defer func() { s.audit(ctx, actor, "delete", id, res, nil) }()
	defer s.guard("delete", &res)

	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return storeFailure("delete schedule", err)
	}
	if s.loop != nil {
		s.loop.Cancel(id)
	}
	if s.exec != nil {
		s.exec.Forget(id)
	}
	s.log.Info("schedule deleted", logx.Int64("schedule_id", id))
	return ok(map[string]int64{"deleted": id})
}

// RunNow executes a schedule immediately. Only last_run changes; next_run
// keeps its slot.
func (s *Service) RunNow(ctx context.Context, id int64, actor string) (res Result) {
	defer func() { s.audit(ctx, actor, "run", id, res, nil) }()
	defer s.guard("run", &res)

	r := s.exec.Execute(ctx, id, engine.Trigger{Kind: engine.TriggerManual, Now: s.now()})
	switch r.Reason {
	case engine.ReasonNotFound:
		return fail(StatusNotFound, "schedule not found")
	case engine.ReasonInFlight:
		return Result{Status: StatusConflict, Message: fmt.Sprintf("schedule %d is already running", id), Data: r}
	case engine.ReasonDisabled:
		return Result{Status: StatusConflict, Message: fmt.Sprintf("schedule %d is paused", id), Data: r}
	case engine.ReasonLegacy:
		return Result{Status: StatusInvalid, Message: fmt.Sprintf("schedule %d has no anchor time", id), Data: r}
	}
	if r.Outcome == engine.OutcomeFailed {
		return Result{Status: StatusError, Message: r.Error, Data: r}
	}
	return ok(r)
}

// ListDue returns enabled, anchored schedules whose next_run <= now.
func (s *Service) ListDue(ctx context.Context, now time.Time) (res Result) {
	defer s.guard("list_due", &res)
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()
	list, err := s.store.ListSchedules(ctx, storage.ScheduleFilter{EnabledOnly: true, DueBefore: &now})
	if err != nil {
		return storeFailure("list due", err)
	}
	due := make([]schedule.Schedule, 0, len(list))
	for _, sc := range list {
		if sc.DueAt(now, 0) {
			due = append(due, sc)
		}
	}
	return ok(viewsOf(due))
}

// Reconcile runs the external-cron pass at now.
func (s *Service) Reconcile(ctx context.Context, now time.Time) (res Result) {
	defer s.guard("reconcile", &res)
	if now.IsZero() {
		now = s.now()
	}
	rep, err := s.recon.Reconcile(ctx, now)
	if errors.Is(err, reconcile.ErrInvalidWindow) {
		return fail(StatusInvalid, "%v", err)
	}
	if err != nil {
		return Result{Status: StatusError, Message: err.Error(), Data: rep}
	}
	s.log.Info("reconcile done",
		logx.Int("executed", len(rep.Executed)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Int("errors", len(rep.Errors)),
	)
	return ok(rep)
}

// CleanupLegacy pauses every enabled schedule without an anchor time and
// returns them.
func (s *Service) CleanupLegacy(ctx context.Context, actor string) (res Result) {
	defer s.guard("cleanup_legacy", &res)

	list, err := s.store.ListSchedules(ctx, storage.ScheduleFilter{EnabledOnly: true, LegacyOnly: true})
	if err != nil {
		return storeFailure("list legacy", err)
	}
	disabled := make([]schedule.Schedule, 0, len(list))
	for _, sc := range list {
		upd, err := s.store.SetScheduleEnabled(ctx, sc.ID, false)
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			res = storeFailure("disable legacy", err)
			s.audit(ctx, actor, "cleanup_legacy", sc.ID, res, nil)
			return res
		}
		if s.loop != nil {
			s.loop.Cancel(sc.ID)
		}
		disabled = append(disabled, upd)
		s.audit(ctx, actor, "cleanup_legacy", sc.ID, ok(nil), nil)
	}
	if len(disabled) > 0 {
		s.log.Warn("legacy schedules disabled", logx.Int("count", len(disabled)))
	}
	return ok(viewsOf(disabled))
}

// CheckHealth lists stale schedules and notifies about them.
func (s *Service) CheckHealth(ctx context.Context, now time.Time) (res Result) {
	defer s.guard("health", &res)
	if now.IsZero() {
		now = s.now()
	}
	stale, err := s.health.Check(ctx, now)
	if err != nil {
		return Result{Status: StatusError, Message: err.Error(), Data: stale}
	}
	return ok(stale)
}

// Runs returns the most recent executions, newest first.
func (s *Service) Runs(limit int) []engine.HistoryItem {
	if s.exec == nil {
		return nil
	}
	return s.exec.History(limit)
}
