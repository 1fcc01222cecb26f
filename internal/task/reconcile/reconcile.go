// Package reconcile is the stateless trigger for an external cron caller.
// Each call looks at the store, runs what is due within the tolerance and
// reports everything else as skipped. Calling it twice for the same instant
// executes nothing the second time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	logx "socialwatch/pkg/logx"
)

var ErrInvalidWindow = errors.New("reconcile: tolerance must be >= 0 and below lookahead")

const (
	DefaultLookahead   = time.Hour
	DefaultTolerance   = 5 * time.Minute
	DefaultConcurrency = 4
)

type Config struct {
	// Lookahead selects candidates whose next_run is at most now+Lookahead.
	Lookahead time.Duration
	// Tolerance is how far ahead of next_run a candidate may still execute.
	Tolerance   time.Duration
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Lookahead == 0 {
		c.Lookahead = DefaultLookahead
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Lookahead < 0 || c.Tolerance < 0 || c.Tolerance >= c.Lookahead {
		return fmt.Errorf("%w (lookahead=%s tolerance=%s)", ErrInvalidWindow, c.Lookahead, c.Tolerance)
	}
	return nil
}

type Store interface {
	ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]schedule.Schedule, error)
}

type Executor interface {
	Execute(ctx context.Context, id int64, tr engine.Trigger) engine.Result
}

// Item is one schedule's line in a Report.
type Item struct {
	ScheduleID int64             `json:"schedule_id"`
	Platform   schedule.Platform `json:"platform"`
	Subject    string            `json:"subject"`
	Outcome    engine.Outcome    `json:"outcome"`
	Reason     engine.Reason     `json:"reason,omitempty"`
	ReportID   int64             `json:"report_id,omitempty"`
	NewItems   int               `json:"new_items,omitempty"`
	NextRun    *time.Time        `json:"next_run,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type Report struct {
	At       time.Time `json:"at"`
	Executed []Item    `json:"executed"`
	Skipped  []Item    `json:"skipped"`
	Errors   []Item    `json:"errors"`
}

type Service struct {
	mu   sync.RWMutex
	cfg  Config
	st   Store
	exec Executor
	log  logx.Logger
}

func New(cfg Config, st Store, exec Executor, log logx.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), st: st, exec: exec, log: log}, nil
}

// Apply swaps the window. An invalid window is rejected and the old one kept.
func (s *Service) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	return nil
}

func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reconcile runs one pass at now. Per-schedule failures land in Errors; only
// a failure to list candidates returns an error.
func (s *Service) Reconcile(ctx context.Context, now time.Time) (Report, error) {
	cfg := s.Config()
	rep := Report{At: now, Executed: []Item{}, Skipped: []Item{}, Errors: []Item{}}

	horizon := now.Add(cfg.Lookahead)
	candidates, err := s.st.ListSchedules(ctx, storage.ScheduleFilter{EnabledOnly: true, DueBefore: &horizon})
	if err != nil {
		return rep, fmt.Errorf("list candidates: %w", err)
	}

	var mu sync.Mutex
	add := func(dst *[]Item, it Item) {
		mu.Lock()
		*dst = append(*dst, it)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, sc := range candidates {
		it := Item{ScheduleID: sc.ID, Platform: sc.Platform, Subject: sc.Subject, NextRun: sc.NextRun}
		if !sc.DueAt(now, cfg.Tolerance) {
			it.Outcome = engine.OutcomeSkipped
			it.Reason = engine.ReasonNotYetDue
			if sc.IsLegacy() {
				it.Reason = engine.ReasonLegacy
			}
			add(&rep.Skipped, it)
			continue
		}
		g.Go(func() error {
			// gctx is only cancelled by the caller; goroutines never fail the group.
			res := s.exec.Execute(gctx, sc.ID, engine.Trigger{Kind: engine.TriggerCron, Now: now, Tolerance: cfg.Tolerance})
			it.Outcome, it.Reason = res.Outcome, res.Reason
			it.ReportID, it.NewItems = res.ReportID, res.NewItems
			it.Error = res.Error
			if res.Advanced {
				it.NextRun = res.Schedule.NextRun
			}
			switch res.Outcome {
			case engine.OutcomeExecuted:
				add(&rep.Executed, it)
			case engine.OutcomeSkipped:
				add(&rep.Skipped, it)
			default:
				add(&rep.Errors, it)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, l := range [][]Item{rep.Executed, rep.Skipped, rep.Errors} {
		sort.Slice(l, func(i, j int) bool { return l[i].ScheduleID < l[j].ScheduleID })
	}
	s.log.Info("reconcile done",
		logx.Time("now", now),
		logx.Int("candidates", len(candidates)),
		logx.Int("executed", len(rep.Executed)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}
