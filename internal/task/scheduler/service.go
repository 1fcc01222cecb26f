package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"socialwatch/internal/schedule"
	logx "socialwatch/pkg/logx"
)

func New(cfg Config, store Store, exec Executor, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		store:   store,
		exec:    exec,
		now:     time.Now,
		parser:  jobParser,
		handles: map[int64]schedule.Schedule{},
	}
}

// Enabled reports whether the poll tick is on.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the config. Timezone, poll interval or enable changes restart
// the cron instance; tolerance applies from the next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) ||
		old.pollEvery() != cfg.pollEvery() ||
		old.Enabled != cfg.Enabled {
		s.restartLocked()
	}
}

// Start starts the cron instance. ctx bounds every job run; Stop cancels it
// if in-flight jobs outlive the stop deadline.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("service started",
		logx.String("tz", s.loc.String()),
		logx.Bool("poll", s.cfg.Enabled),
		logx.Duration("every", s.cfg.pollEvery()),
		logx.Int("jobs", len(s.defs)),
	)
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	clog := logx.CronLogger(s.log)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	s.syncPollDefLocked()
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("job register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
}

// syncPollDefLocked keeps the poll tick def in line with cfg.Enabled.
func (s *Service) syncPollDefLocked() {
	s.removeDefLocked(PollJobName)
	if !s.cfg.Enabled {
		return
	}
	s.defs = append(s.defs, jobDef{
		name: PollJobName,
		spec: "@every " + s.cfg.pollEvery().String(),
		run:  func(ctx context.Context, now time.Time) { s.Tick(ctx, now) },
	})
}

// Stop stops triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop deadline reached; cancelling running jobs")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Bool("poll", s.cfg.Enabled), logx.Int("jobs", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
