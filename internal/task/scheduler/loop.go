package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	logx "socialwatch/pkg/logx"
)

func active(sc schedule.Schedule) bool {
	return sc.Enabled && !sc.IsLegacy() && !sc.Completed() && sc.NextRun != nil
}

// Sync reloads the active set when the store's schedule revision moved.
func (s *Service) Sync(ctx context.Context) error {
	rev, err := s.store.ScheduleRevision(ctx)
	if err != nil {
		return fmt.Errorf("schedule revision: %w", err)
	}
	s.hmu.RLock()
	fresh := s.loaded && rev == s.rev
	s.hmu.RUnlock()
	if fresh {
		return nil
	}

	list, err := s.store.ListSchedules(ctx, storage.ScheduleFilter{EnabledOnly: true})
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	next := make(map[int64]schedule.Schedule, len(list))
	for _, sc := range list {
		if active(sc) {
			next[sc.ID] = sc
		}
	}

	s.hmu.Lock()
	s.handles = next
	s.rev = rev
	s.loaded = true
	s.hmu.Unlock()
	s.log.Debug("active set refreshed", logx.Int64("rev", rev), logx.Int("active", len(next)))
	return nil
}

// Reschedule refreshes one handle from the store. Missing, paused, legacy or
// completed schedules drop out of the active set.
func (s *Service) Reschedule(ctx context.Context, id int64) error {
	sc, err := s.store.GetSchedule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.Cancel(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reschedule %d: %w", id, err)
	}
	s.hmu.Lock()
	if active(sc) {
		s.handles[id] = sc
	} else {
		delete(s.handles, id)
	}
	s.hmu.Unlock()
	return nil
}

// Cancel drops a handle from the active set. It reports whether one existed.
func (s *Service) Cancel(id int64) bool {
	s.hmu.Lock()
	_, ok := s.handles[id]
	delete(s.handles, id)
	s.hmu.Unlock()
	return ok
}

// Active returns a copy of the active set ordered by next_run.
func (s *Service) Active() []schedule.Schedule {
	s.hmu.RLock()
	out := make([]schedule.Schedule, 0, len(s.handles))
	for _, sc := range s.handles {
		out = append(out, sc)
	}
	s.hmu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextRun, out[j].NextRun
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tick runs one loop pass at now: sync, execute every due handle in
// next_run order, then reschedule each one from the store.
func (s *Service) Tick(ctx context.Context, now time.Time) TickReport {
	start := time.Now()
	tol := s.config().Tolerance
	rep := TickReport{At: now}

	if err := s.Sync(ctx); err != nil {
		// keep going on the cached set
		s.log.Warn("active set sync failed", logx.Err(err))
	}

	for _, sc := range s.Active() {
		if !sc.DueAt(now, tol) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		rep.Due++
		res := s.executeSafe(ctx, sc.ID, engine.Trigger{Kind: engine.TriggerLoop, Now: now, Tolerance: tol})
		switch res.Outcome {
		case engine.OutcomeExecuted:
			rep.Executed++
		case engine.OutcomeSkipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
		if err := s.Reschedule(ctx, sc.ID); err != nil {
			s.log.Warn("reschedule failed", logx.Int64("schedule_id", sc.ID), logx.Err(err))
		}
	}
	rep.Took = time.Since(start)

	s.hmu.Lock()
	s.lastTick = rep
	s.hmu.Unlock()

	if rep.Due > 0 {
		s.log.Info("tick done",
			logx.Int("due", rep.Due),
			logx.Int("executed", rep.Executed),
			logx.Int("skipped", rep.Skipped),
			logx.Int("failed", rep.Failed),
			logx.Duration("took", rep.Took),
		)
	}
	return rep
}

func (s *Service) executeSafe(ctx context.Context, id int64, tr engine.Trigger) (res engine.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("schedule execution panicked", logx.Int64("schedule_id", id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = engine.Result{
				ScheduleID: id,
				Trigger:    tr.Kind,
				Outcome:    engine.OutcomeFailed,
				Reason:     engine.ReasonPanic,
				Err:        engine.ErrPanic,
				Error:      fmt.Sprint(r),
			}
		}
	}()
	return s.exec.Execute(ctx, id, tr)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	defs := make([]jobDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	tz := cfg.Timezone
	if loc != nil {
		tz = loc.String()
	}
	jobs := make([]JobInfo, 0, len(defs))
	for _, d := range defs {
		it := JobInfo{Name: d.name, Spec: d.spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		jobs = append(jobs, it)
	}

	s.hmu.RLock()
	rev, last := s.rev, s.lastTick
	s.hmu.RUnlock()

	return Snapshot{
		Enabled:      cfg.Enabled,
		Timezone:     tz,
		PollInterval: cfg.pollEvery(),
		Tolerance:    cfg.Tolerance,
		Revision:     rev,
		Active:       s.Active(),
		Jobs:         jobs,
		LastTick:     last,
		History:      s.exec.History(20),
	}
}
