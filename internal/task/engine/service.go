package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"socialwatch/internal/fetch"
	"socialwatch/internal/report"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	logx "socialwatch/pkg/logx"
)

// Store is the persistence the engine needs.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error)
	RecordRun(ctx context.Context, id int64, u storage.RunUpdate) (schedule.Schedule, error)
	InsertReport(ctx context.Context, r storage.Report) (int64, error)
	InsertArchive(ctx context.Context, a storage.ArchiveRecord) error
}

type Ingester interface {
	Ingest(ctx context.Context, subject string, items []fetch.Item) (int, error)
}

// Service runs one schedule end to end: fetch, build, persist, advance, ingest.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store   Store
	fetcher fetch.Fetcher
	builder report.Builder
	ingest  Ingester
	now     func() time.Time

	stateMu sync.Mutex
	states  map[int64]*RunState

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, store Store, fetcher fetch.Fetcher, builder report.Builder, ingest Ingester, log logx.Logger) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "engine")),
		store:   store,
		fetcher: fetcher,
		builder: builder,
		ingest:  ingest,
		now:     time.Now,
		states:  make(map[int64]*RunState),
	}
}

func (s *Service) Apply(cfg Config) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) stateFor(id int64) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[id]
	if st == nil {
		st = &RunState{}
		s.states[id] = st
	}
	return st
}

// Forget drops the run state of a deleted schedule. An in-flight run keeps
// its own reference and finishes normally.
func (s *Service) Forget(id int64) {
	s.stateMu.Lock()
	if st := s.states[id]; st != nil && !st.busy() {
		delete(s.states, id)
	}
	s.stateMu.Unlock()
}

// Running reports whether id currently has an execution in flight.
func (s *Service) Running(id int64) bool {
	s.stateMu.Lock()
	st := s.states[id]
	s.stateMu.Unlock()
	return st != nil && st.busy()
}

// Execute runs schedule id once. The schedule is re-read under the
// per-schedule lock, so a caller holding a stale copy cannot double-run it.
func (s *Service) Execute(ctx context.Context, id int64, tr Trigger) (res Result) {
	if tr.Now.IsZero() {
		tr.Now = s.now()
	}
	tr.Now = tr.Now.UTC()
	if tr.Kind == "" {
		tr.Kind = TriggerManual
	}
	res = Result{ScheduleID: id, Trigger: tr.Kind, Started: s.now()}
	log := s.log.With(logx.Int64("schedule_id", id), logx.String("trigger", string(tr.Kind)))

	st := s.stateFor(id)
	if !st.tryAcquire() {
		log.Debug("execution skipped; already running")
		return s.finish(log, res, OutcomeSkipped, ReasonInFlight, nil)
	}
	defer st.release()

	defer func() {
		if r := recover(); r != nil {
			log.Error("execution panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = s.finish(log, res, OutcomeFailed, ReasonPanic, fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	cfg := s.config()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	sc, err := s.store.GetSchedule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return s.finish(log, res, OutcomeSkipped, ReasonNotFound, nil)
	}
	if err != nil {
		return s.finish(log, res, OutcomeFailed, ReasonPersistence, err)
	}
	res.Schedule = sc
	switch {
	case !sc.Enabled:
		return s.finish(log, res, OutcomeSkipped, ReasonDisabled, nil)
	case sc.IsLegacy():
		return s.finish(log, res, OutcomeSkipped, ReasonLegacy, nil)
	case tr.Kind != TriggerManual && !sc.DueAt(tr.Now, tr.Tolerance):
		return s.finish(log, res, OutcomeSkipped, ReasonNotYetDue, nil)
	}

	q := fetch.Query{Platform: sc.Platform, Subject: sc.Subject, Keywords: sc.Keywords, Filters: cfg.Filters}
	batch, err := s.fetcher.Fetch(ctx, q)
	if errors.Is(err, fetch.ErrNoContent) {
		res = s.advanceInto(ctx, log, res, sc, tr)
		return s.finish(log, res, OutcomeSkipped, ReasonNoContent, res.Err)
	}
	if err != nil {
		if fetch.Reached(err) {
			res = s.advanceInto(ctx, log, res, sc, tr)
		}
		return s.finish(log, res, OutcomeFailed, ReasonFetch, err)
	}
	res.Items = len(batch.Items)

	built, err := s.builder.Build(batch)
	if err != nil {
		res = s.advanceInto(ctx, log, res, sc, tr)
		return s.finish(log, res, OutcomeFailed, ReasonBuild, err)
	}

	filters, _ := json.Marshal(cfg.Filters)
	summary, _ := json.Marshal(built.Summary)
	schedID := sc.ID
	reportID, err := s.store.InsertReport(ctx, storage.Report{
		ScheduleID:     &schedID,
		Platform:       sc.Platform,
		Subject:        sc.Subject,
		Keywords:       sc.Keywords,
		ItemCount:      len(batch.Items),
		Classification: built.Summary.Classification(),
		RenderedText:   built.Text,
		RawPayload:     batch.Raw,
		Filters:        filters,
		CreatedAt:      tr.Now,
	})
	var reportRef *int64
	if err == nil {
		res.ReportID = reportID
		reportRef = &reportID
	}

	// The archive keeps the raw fetch even when the report row is lost.
	archiveID := uuid.NewString()
	if aerr := s.store.InsertArchive(ctx, storage.ArchiveRecord{
		ID:        archiveID,
		ReportID:  reportRef,
		Subject:   sc.Subject,
		Platform:  sc.Platform,
		ScrapedAt: tr.Now,
		RawJSON:   batch.Raw,
		RawText:   built.Text,
		Entities:  built.Entities,
		Metrics:   summary,
		Kind:      scrapeKind(tr.Kind),
	}); aerr != nil {
		log.Warn("archive write failed", logx.Int64("report_id", reportID), logx.Err(aerr))
	} else {
		res.ArchiveID = archiveID
	}

	if err != nil {
		return s.finish(log, res, OutcomeFailed, ReasonPersistence, err)
	}

	res = s.advanceInto(ctx, log, res, sc, tr)

	if s.ingest != nil {
		n, err := s.ingest.Ingest(ctx, sc.Subject, batch.Items)
		if err != nil {
			log.Warn("item ingest failed", logx.Err(err))
		}
		res.NewItems = n
	}
	return s.finish(log, res, OutcomeExecuted, ReasonNone, nil)
}

// advanceInto records the run. A failed or lost update is logged and kept
// in res.Err without changing the outcome.
func (s *Service) advanceInto(ctx context.Context, log logx.Logger, res Result, sc schedule.Schedule, tr Trigger) Result {
	updated, err := s.advance(ctx, sc, tr)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info("schedule deleted during execution; not advancing")
		res.Err = ErrScheduleGone
	case err != nil:
		log.Error("advance failed", logx.Err(err))
		res.Err = err
	default:
		res.Advanced = true
		res.Schedule = updated
	}
	return res
}

func (s *Service) advance(ctx context.Context, sc schedule.Schedule, tr Trigger) (schedule.Schedule, error) {
	u := storage.RunUpdate{LastRun: tr.Now}
	if tr.Kind != TriggerManual {
		u.SetNextRun = true
		if sc.Frequency.Kind() == schedule.KindOnce {
			u.Disable = true
		} else {
			// Runs fired early within tolerance advance past the slot they served.
			base := tr.Now
			if sc.NextRun != nil && sc.NextRun.After(base) {
				base = *sc.NextRun
			}
			next, err := schedule.NextRun(sc.Frequency, sc.AnchorTime, base)
			if err != nil {
				return schedule.Schedule{}, err
			}
			u.NextRun = next
		}
	}
	return s.store.RecordRun(ctx, sc.ID, u)
}

func (s *Service) finish(log logx.Logger, res Result, out Outcome, reason Reason, err error) Result {
	res.Outcome = out
	res.Reason = reason
	if err != nil {
		res.Err = err
		res.Error = err.Error()
	}
	res.Duration = s.now().Sub(res.Started)

	fields := []logx.Field{
		logx.String("outcome", string(out)),
		logx.String("reason", string(reason)),
		logx.Bool("advanced", res.Advanced),
		logx.Duration("took", res.Duration),
	}
	switch out {
	case OutcomeExecuted:
		log.Info("execution done", append(fields, logx.Int("items", res.Items), logx.Int("new_items", res.NewItems), logx.Int64("report_id", res.ReportID), logx.TimePtr("next_run", res.Schedule.NextRun))...)
	case OutcomeFailed:
		log.Warn("execution failed", append(fields, logx.Err(err))...)
	default:
		log.Debug("execution skipped", fields...)
	}

	if reason != ReasonInFlight && reason != ReasonNotYetDue {
		s.record(HistoryItem{
			ScheduleID: res.ScheduleID,
			Trigger:    res.Trigger,
			Outcome:    out,
			Reason:     reason,
			Started:    res.Started,
			Duration:   res.Duration,
			Error:      res.Error,
		})
	}
	return res
}

func (s *Service) record(h HistoryItem) {
	size := s.config().HistorySize
	s.hmu.Lock()
	s.history = append(s.history, h)
	if len(s.history) > size {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-size:]...)
	}
	s.hmu.Unlock()
}

// History returns recent executions, newest first.
func (s *Service) History(limit int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryItem, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func scrapeKind(k TriggerKind) storage.ScrapeKind {
	if k == TriggerManual {
		return storage.ScrapeManual
	}
	return storage.ScrapeScheduled
}
